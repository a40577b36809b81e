package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/quote-configurator/internal/quote"
)

// ErrItemMismatch is returned when an item id does not belong to the
// quotation being updated.
var ErrItemMismatch = errors.New("repo: item does not belong to quotation")

// DB is the subset of pgxpool.Pool used by the stores.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// QuotationStore persists quotations and their items in Postgres.
type QuotationStore struct {
	DB DB
}

const insertQuotationSQL = `
INSERT INTO quotations (project, client_id, global_price_per_area, include_tax, total_price, notes, reference_image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at`

const updateQuotationSQL = `
UPDATE quotations
SET project = $2, client_id = $3, global_price_per_area = $4, include_tax = $5,
    total_price = $6, notes = $7, reference_image_url = $8, updated_at = now()
WHERE id = $1
RETURNING id, created_at, updated_at`

const pruneItemsSQL = `
DELETE FROM quotation_items
WHERE quotation_id = $1 AND NOT (id = ANY($2::bigint[]))`

const insertItemSQL = `
INSERT INTO quotation_items (quotation_id, position, display_name, width, height, quantity,
    override_price_per_area, catalog_entry_id, color_id, glass_color_id, options, design_image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`

const updateItemSQL = `
UPDATE quotation_items
SET position = $3, display_name = $4, width = $5, height = $6, quantity = $7,
    override_price_per_area = $8, catalog_entry_id = $9, color_id = $10, glass_color_id = $11,
    options = $12, design_image_url = $13, updated_at = now()
WHERE id = $1 AND quotation_id = $2
RETURNING id`

const selectQuotationSQL = `
SELECT id, project, client_id, global_price_per_area, include_tax, total_price, notes,
    reference_image_url, created_at, updated_at
FROM quotations
WHERE id = $1`

const selectItemsSQL = `
SELECT id, position, display_name, width, height, quantity, override_price_per_area,
    catalog_entry_id, color_id, glass_color_id, options, design_image_url
FROM quotation_items
WHERE quotation_id = $1
ORDER BY position, id`

// SaveQuotation creates or updates a quotation in one transaction. Items
// without an id are inserted; persisted items missing from the payload are
// deleted. Returned items follow payload order.
func (s QuotationStore) SaveQuotation(ctx context.Context, p quote.SavePayload) (quote.SavedQuotation, error) {
	if s.DB == nil {
		return quote.SavedQuotation{}, errors.New("repo: database not configured")
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return quote.SavedQuotation{}, fmt.Errorf("begin quotation tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	saved := quote.SavedQuotation{
		Project:            p.Project,
		ClientID:           p.ClientID,
		GlobalPricePerArea: p.GlobalPricePerArea,
		IncludeTax:         p.IncludeTax,
		TotalPrice:         p.TotalPrice,
		Notes:              p.Notes,
		ReferenceImageURL:  p.ReferenceImageURL,
	}
	if p.ID == nil {
		err = tx.QueryRow(ctx, insertQuotationSQL,
			p.Project, p.ClientID, p.GlobalPricePerArea, p.IncludeTax, p.TotalPrice, p.Notes, p.ReferenceImageURL,
		).Scan(&saved.ID, &saved.CreatedAt, &saved.UpdatedAt)
	} else {
		err = tx.QueryRow(ctx, updateQuotationSQL,
			*p.ID, p.Project, p.ClientID, p.GlobalPricePerArea, p.IncludeTax, p.TotalPrice, p.Notes, p.ReferenceImageURL,
		).Scan(&saved.ID, &saved.CreatedAt, &saved.UpdatedAt)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quote.SavedQuotation{}, quote.ErrQuotationNotFound
		}
		return quote.SavedQuotation{}, fmt.Errorf("write quotation: %w", translate(err))
	}

	keep := make([]int64, 0, len(p.Items))
	for _, it := range p.Items {
		if it.ID != nil {
			keep = append(keep, *it.ID)
		}
	}
	if _, err := tx.Exec(ctx, pruneItemsSQL, saved.ID, keep); err != nil {
		return quote.SavedQuotation{}, fmt.Errorf("prune quotation items: %w", translate(err))
	}

	saved.Items = make([]quote.SavedItem, 0, len(p.Items))
	for pos, it := range p.Items {
		row, err := writeItem(ctx, tx, saved.ID, pos, it)
		if err != nil {
			return quote.SavedQuotation{}, err
		}
		saved.Items = append(saved.Items, row)
	}

	if err := tx.Commit(ctx); err != nil {
		return quote.SavedQuotation{}, fmt.Errorf("commit quotation: %w", translate(err))
	}
	return saved, nil
}

func writeItem(ctx context.Context, tx pgx.Tx, quotationID int64, pos int, it quote.PayloadItem) (quote.SavedItem, error) {
	options := it.Options
	if options == nil {
		options = map[string]string{}
	}
	encoded, err := json.Marshal(options)
	if err != nil {
		return quote.SavedItem{}, fmt.Errorf("encode item options: %w", err)
	}
	row := quote.SavedItem{
		Position:             pos,
		DisplayName:          it.DisplayName,
		Width:                it.Width,
		Height:               it.Height,
		Quantity:             it.Quantity,
		OverridePricePerArea: it.OverridePricePerArea,
		CatalogEntryID:       it.CatalogEntryID,
		ColorID:              it.ColorID,
		GlassColorID:         it.GlassColorID,
		Options:              options,
		DesignImageURL:       it.DesignImageURL,
	}
	if it.ID == nil {
		err = tx.QueryRow(ctx, insertItemSQL,
			quotationID, pos, it.DisplayName, it.Width, it.Height, it.Quantity,
			it.OverridePricePerArea, it.CatalogEntryID, it.ColorID, it.GlassColorID, encoded, it.DesignImageURL,
		).Scan(&row.ID)
	} else {
		err = tx.QueryRow(ctx, updateItemSQL,
			*it.ID, quotationID, pos, it.DisplayName, it.Width, it.Height, it.Quantity,
			it.OverridePricePerArea, it.CatalogEntryID, it.ColorID, it.GlassColorID, encoded, it.DesignImageURL,
		).Scan(&row.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return quote.SavedItem{}, fmt.Errorf("%w: item %d", ErrItemMismatch, *it.ID)
		}
	}
	if err != nil {
		return quote.SavedItem{}, fmt.Errorf("write quotation item %d: %w", pos, translate(err))
	}
	return row, nil
}

// GetQuotation loads a quotation with its items in position order.
func (s QuotationStore) GetQuotation(ctx context.Context, id int64) (quote.SavedQuotation, error) {
	if s.DB == nil {
		return quote.SavedQuotation{}, errors.New("repo: database not configured")
	}
	var q quote.SavedQuotation
	err := s.DB.QueryRow(ctx, selectQuotationSQL, id).Scan(
		&q.ID, &q.Project, &q.ClientID, &q.GlobalPricePerArea, &q.IncludeTax, &q.TotalPrice,
		&q.Notes, &q.ReferenceImageURL, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quote.SavedQuotation{}, quote.ErrQuotationNotFound
		}
		return quote.SavedQuotation{}, fmt.Errorf("load quotation %d: %w", id, err)
	}

	rows, err := s.DB.Query(ctx, selectItemsSQL, id)
	if err != nil {
		return quote.SavedQuotation{}, fmt.Errorf("load quotation items %d: %w", id, err)
	}
	defer rows.Close()
	q.Items = []quote.SavedItem{}
	for rows.Next() {
		var (
			it  quote.SavedItem
			raw []byte
		)
		if err := rows.Scan(
			&it.ID, &it.Position, &it.DisplayName, &it.Width, &it.Height, &it.Quantity,
			&it.OverridePricePerArea, &it.CatalogEntryID, &it.ColorID, &it.GlassColorID, &raw, &it.DesignImageURL,
		); err != nil {
			return quote.SavedQuotation{}, fmt.Errorf("scan quotation item: %w", err)
		}
		if it.Options, err = decodeOptions(raw); err != nil {
			return quote.SavedQuotation{}, fmt.Errorf("decode options of item %d: %w", it.ID, err)
		}
		q.Items = append(q.Items, it)
	}
	if err := rows.Err(); err != nil {
		return quote.SavedQuotation{}, fmt.Errorf("iterate quotation items: %w", err)
	}
	return q, nil
}

func decodeOptions(raw []byte) (map[string]string, error) {
	out := map[string]string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

const setDesignImageSQL = `
UPDATE quotation_items
SET design_image_url = $3, updated_at = now()
WHERE id = $1 AND quotation_id = $2`

// SetDesignImage records the uploaded design URL of a persisted item.
func (s QuotationStore) SetDesignImage(ctx context.Context, quotationID, itemID int64, url string) error {
	if s.DB == nil {
		return errors.New("repo: database not configured")
	}
	tag, err := s.DB.Exec(ctx, setDesignImageSQL, itemID, quotationID, url)
	if err != nil {
		return fmt.Errorf("set design image of item %d: %w", itemID, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d", ErrItemMismatch, itemID)
	}
	return nil
}
