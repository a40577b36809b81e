package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/quote-configurator/internal/resilience"
)

// Source is the external catalog collaborator.
type Source interface {
	ListEntries(ctx context.Context) ([]Entry, error)
	ListOptionGroups(ctx context.Context, entryID int64) ([]OptionGroup, error)
}

// HTTPSource reads the catalog from the catalog service JSON API.
type HTTPSource struct {
	BaseURL string
	HTTP    resilience.HTTPClient
}

type entriesEnvelope struct {
	Data []Entry `json:"data"`
}

type optionGroupsEnvelope struct {
	Data []OptionGroup `json:"data"`
}

// ListEntries handles GET {base}/entries.
func (s HTTPSource) ListEntries(ctx context.Context) ([]Entry, error) {
	base, err := s.base()
	if err != nil {
		return nil, err
	}
	var env entriesEnvelope
	if err := s.HTTP.DoJSON(ctx, http.MethodGet, base+"/entries", nil, &env); err != nil {
		return nil, fmt.Errorf("catalog: list entries: %w", err)
	}
	return env.Data, nil
}

// ListOptionGroups handles GET {base}/entries/{id}/option-groups.
func (s HTTPSource) ListOptionGroups(ctx context.Context, entryID int64) ([]OptionGroup, error) {
	base, err := s.base()
	if err != nil {
		return nil, err
	}
	url := base + "/entries/" + strconv.FormatInt(entryID, 10) + "/option-groups"
	var env optionGroupsEnvelope
	if err := s.HTTP.DoJSON(ctx, http.MethodGet, url, nil, &env); err != nil {
		return nil, fmt.Errorf("catalog: list option groups %d: %w", entryID, err)
	}
	return env.Data, nil
}

func (s HTTPSource) base() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		return "", errors.New("catalog: base url not configured")
	}
	return base, nil
}
