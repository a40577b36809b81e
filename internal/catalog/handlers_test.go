package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/quote-configurator/internal/catalog"
)

func TestCatalogHandlers(t *testing.T) {
	defs, err := catalog.LoadDefinitions("testdata/groups.yaml")
	require.NoError(t, err)
	src := &stubSource{
		entries: []catalog.Entry{{ID: 1, Name: "Sliding 2H 2L"}, {ID: 12, Name: "Fixed Window"}},
		groups:  map[int64][]catalog.OptionGroup{12: openingGroups()},
	}
	svc, err := catalog.NewService(catalog.ServiceConfig{Source: src, Definitions: defs})
	require.NoError(t, err)
	handler := catalog.NewHandler(catalog.HandlerConfig{Service: svc})

	t.Run("selector", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Selector(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/selector", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data []catalog.SelectorItem `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 3)
		require.Equal(t, "Fixed Window", resp.Data[2].DisplayName)
	})

	t.Run("option groups", func(t *testing.T) {
		req := withParam(httptest.NewRequest(http.MethodGet, "/api/v1/catalog/entries/12/option-groups", nil), "entryID", "12")
		rec := httptest.NewRecorder()
		handler.OptionGroups(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data []catalog.OptionGroup `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, openingGroups(), resp.Data)
	})

	t.Run("option groups rejects bad id", func(t *testing.T) {
		req := withParam(httptest.NewRequest(http.MethodGet, "/api/v1/catalog/entries/x/option-groups", nil), "entryID", "x")
		rec := httptest.NewRecorder()
		handler.OptionGroups(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func withParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}
