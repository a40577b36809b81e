package uploads

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/quote-configurator/internal/quote"
	"github.com/noah-isme/quote-configurator/internal/resilience"
)

// Uploader transfers one design file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, up quote.PendingUpload) (string, error)
}

// HTTPUploader calls the upload service JSON API.
type HTTPUploader struct {
	BaseURL string
	HTTP    resilience.HTTPClient
}

type uploadRequest struct {
	QuotationID int64  `json:"quotationId"`
	ItemID      int64  `json:"itemId"`
	File        string `json:"file"`
}

type uploadEnvelope struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Upload handles POST {base}/designs.
func (u HTTPUploader) Upload(ctx context.Context, up quote.PendingUpload) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	if base == "" {
		return "", errors.New("uploads: base url not configured")
	}
	var env uploadEnvelope
	req := uploadRequest{QuotationID: up.QuotationID, ItemID: up.ItemID, File: up.LocalFile}
	if err := u.HTTP.DoJSON(ctx, http.MethodPost, base+"/designs", req, &env); err != nil {
		return "", fmt.Errorf("uploads: upload design of item %d: %w", up.ItemID, err)
	}
	if strings.TrimSpace(env.Data.URL) == "" {
		return "", fmt.Errorf("uploads: empty url for item %d", up.ItemID)
	}
	return env.Data.URL, nil
}
