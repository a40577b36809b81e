package quote_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/quote-configurator/internal/catalog"
	"github.com/noah-isme/quote-configurator/internal/common"
	"github.com/noah-isme/quote-configurator/internal/events"
	"github.com/noah-isme/quote-configurator/internal/lock"
	"github.com/noah-isme/quote-configurator/internal/quote"
)

type optionSource struct{}

func (optionSource) ListEntries(context.Context) ([]catalog.Entry, error) {
	return fixtureSnapshot().Entries(), nil
}

func (optionSource) ListOptionGroups(context.Context, int64) ([]catalog.OptionGroup, error) {
	return windowOptions(), nil
}

type staticCatalog struct{}

func (staticCatalog) Snapshot(context.Context) *catalog.Snapshot { return fixtureSnapshot() }

func (staticCatalog) OptionLoader() *catalog.OptionLoader {
	return catalog.NewOptionLoader(optionSource{}, nil, zerolog.Nop())
}

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	payloads []quote.SavePayload
	saved    map[int64]quote.SavedQuotation
	err      error
	delay    time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextID: 100, saved: map[int64]quote.SavedQuotation{}}
}

func (m *memoryStore) SaveQuotation(_ context.Context, p quote.SavePayload) (quote.SavedQuotation, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, p)
	if m.err != nil {
		return quote.SavedQuotation{}, m.err
	}
	var id int64
	if p.ID != nil {
		id = *p.ID
	} else {
		m.nextID++
		id = m.nextID
	}
	out := quote.SavedQuotation{ID: id, Project: p.Project, ClientID: p.ClientID, IncludeTax: p.IncludeTax, TotalPrice: p.TotalPrice}
	for i, it := range p.Items {
		var itemID int64
		if it.ID != nil {
			itemID = *it.ID
		} else {
			m.nextID++
			itemID = m.nextID
		}
		out.Items = append(out.Items, quote.SavedItem{
			ID:             itemID,
			Position:       i,
			DisplayName:    it.DisplayName,
			Width:          it.Width,
			Height:         it.Height,
			Quantity:       it.Quantity,
			CatalogEntryID: it.CatalogEntryID,
			ColorID:        it.ColorID,
			Options:        it.Options,
		})
	}
	m.saved[id] = out
	return out, nil
}

func (m *memoryStore) GetQuotation(_ context.Context, id int64) (quote.SavedQuotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.saved[id]
	if !ok {
		return quote.SavedQuotation{}, quote.ErrQuotationNotFound
	}
	return q, nil
}

type captureUploads struct {
	mu      sync.Mutex
	uploads []quote.PendingUpload
	err     error
}

func (c *captureUploads) Schedule(_ context.Context, u quote.PendingUpload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.uploads = append(c.uploads, u)
	return nil
}

type captureEvents struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureEvents) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

type fixture struct {
	svc     *quote.Service
	store   *memoryStore
	uploads *captureUploads
	events  *captureEvents
	redis   *miniredis.Miniredis
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := fixture{store: newMemoryStore(), uploads: &captureUploads{}, events: &captureEvents{}, redis: mr}
	f.svc, err = quote.NewService(quote.ServiceConfig{
		Catalog: staticCatalog{},
		Pricer:  areaPricer(),
		Store:   f.store,
		Locker:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		Uploads: f.uploads,
		Events:  f.events,
		Rules:   rules,
	})
	require.NoError(t, err)
	t.Cleanup(f.svc.Shutdown)
	return f
}

func openConfigured(t *testing.T, svc *quote.Service) (*quote.Session, uuid.UUID) {
	t.Helper()
	client := int64(3)
	sess, err := svc.Open(context.Background(), quote.OpenRequest{Header: quote.Header{Project: "Villa", ClientID: &client}})
	require.NoError(t, err)
	item, err := sess.AddItem()
	require.NoError(t, err)
	id := uuid.MustParse(item.ID)
	_, err = sess.SelectSimple(id, 10)
	require.NoError(t, err)
	_, err = sess.UpdateItem(id, quote.Patch{Width: ptrFloat(1), Height: ptrFloat(2), ColorID: ptrInt64(4)})
	require.NoError(t, err)
	return sess, id
}

func requireAppError(t *testing.T, err error, code string) *common.AppError {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
	return appErr
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := quote.NewService(quote.ServiceConfig{})
	require.Error(t, err)
	_, err = quote.NewService(quote.ServiceConfig{Catalog: staticCatalog{}, Pricer: areaPricer()})
	require.Error(t, err)
}

func TestOpenGetClose(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.Open(context.Background(), quote.OpenRequest{})
	require.NoError(t, err)

	got, err := f.svc.Get(sess.ID)
	require.NoError(t, err)
	require.Same(t, sess, got)

	require.NoError(t, f.svc.Close(sess.ID))
	require.False(t, sess.Alive())
	_, err = f.svc.Get(sess.ID)
	appErr := requireAppError(t, err, "NOT_FOUND")
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
	requireAppError(t, f.svc.Close(sess.ID), "NOT_FOUND")
}

func TestOpenUnknownQuotation(t *testing.T) {
	f := newFixture(t)
	id := int64(404)
	_, err := f.svc.Open(context.Background(), quote.OpenRequest{QuotationID: &id})
	requireAppError(t, err, "NOT_FOUND")
}

func TestSaveRejectsIncompleteItems(t *testing.T) {
	f := newFixture(t)
	sess, _ := openConfigured(t, f.svc)
	_, err := sess.AddItem()
	require.NoError(t, err)

	_, err = f.svc.Save(context.Background(), sess.ID, quote.SaveOptions{Settle: true})
	appErr := requireAppError(t, err, "VALIDATION_ERROR")
	details, ok := appErr.Details.([]quote.IncompleteItem)
	require.True(t, ok)
	require.Len(t, details, 1)
	require.Empty(t, f.store.payloads)
}

func TestSaveRejectsInvalidHeader(t *testing.T) {
	f := newFixture(t)
	sess, _ := openConfigured(t, f.svc)
	require.NoError(t, sess.UpdateHeader(quote.HeaderPatch{Project: ptrString("")}))

	_, err := f.svc.Save(context.Background(), sess.ID, quote.SaveOptions{Settle: true})
	appErr := requireAppError(t, err, "VALIDATION_ERROR")
	require.Contains(t, appErr.Details, "SavePayload.Project")
}

func TestSavePersistsAndSchedulesUploads(t *testing.T) {
	f := newFixture(t)
	sess, id := openConfigured(t, f.svc)
	_, err := sess.UpdateItem(id, quote.Patch{PendingDesignFile: ptrString("/tmp/front.png")})
	require.NoError(t, err)

	res, err := f.svc.Save(context.Background(), sess.ID, quote.SaveOptions{Settle: true})
	require.NoError(t, err)
	require.Len(t, f.store.payloads, 1)
	payload := f.store.payloads[0]
	require.Nil(t, payload.ID)
	require.Nil(t, payload.Items[0].ID)
	require.Equal(t, "Fixed Window", payload.Items[0].DisplayName)
	require.Equal(t, int64(10), payload.Items[0].CatalogEntryID)

	require.Len(t, res.PendingUploads, 1)
	upload := res.PendingUploads[0]
	require.Equal(t, res.Quotation.ID, upload.QuotationID)
	require.Equal(t, res.Quotation.Items[0].ID, upload.ItemID)
	require.Equal(t, "/tmp/front.png", upload.LocalFile)
	require.Equal(t, []quote.PendingUpload{upload}, f.uploads.uploads)
	require.Equal(t, []string{events.TopicQuotationSaved}, f.events.topics)

	item, err := sess.Item(id)
	require.NoError(t, err)
	require.Equal(t, res.Quotation.Items[0].ID, *item.PersistedID)
	require.Empty(t, item.PendingDesignFile)
	require.Equal(t, res.Quotation.ID, *sess.Header().ID)

	_, err = f.svc.Save(context.Background(), sess.ID, quote.SaveOptions{})
	require.NoError(t, err)
	update := f.store.payloads[1]
	require.Equal(t, res.Quotation.ID, *update.ID)
	require.Equal(t, res.Quotation.Items[0].ID, *update.Items[0].ID)
}

func TestSaveKeepsPendingFileWhenSchedulingFails(t *testing.T) {
	f := newFixture(t)
	f.uploads.err = errors.New("queue down")
	sess, id := openConfigured(t, f.svc)
	_, err := sess.UpdateItem(id, quote.Patch{PendingDesignFile: ptrString("/tmp/front.png")})
	require.NoError(t, err)

	res, err := f.svc.Save(context.Background(), sess.ID, quote.SaveOptions{Settle: true})
	require.NoError(t, err)
	require.Len(t, res.PendingUploads, 1)
	item, err := sess.Item(id)
	require.NoError(t, err)
	require.Equal(t, "/tmp/front.png", item.PendingDesignFile)
}

func TestSaveFailureIsSingleError(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("connection reset")
	sess, id := openConfigured(t, f.svc)

	_, err := f.svc.Save(context.Background(), sess.ID, quote.SaveOptions{Settle: true})
	appErr := requireAppError(t, err, "SAVE_FAILED")
	require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)

	item, err := sess.Item(id)
	require.NoError(t, err)
	require.Nil(t, item.PersistedID)
	require.Empty(t, f.events.topics)
}

func TestSaveWaitsForLock(t *testing.T) {
	f := newFixture(t)
	sess, _ := openConfigured(t, f.svc)
	require.NoError(t, f.redis.Set("lock:session:"+sess.ID, "other"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.svc.Save(ctx, sess.ID, quote.SaveOptions{Settle: true})
	requireAppError(t, err, "SAVE_IN_PROGRESS")
	require.Empty(t, f.store.payloads)
}

func TestConcurrentSavesOfNewQuotationInsertOnce(t *testing.T) {
	f := newFixture(t)
	f.store.delay = 50 * time.Millisecond
	sess, _ := openConfigured(t, f.svc)

	var wg sync.WaitGroup
	results := make([]quote.SaveResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Save(context.Background(), sess.ID, quote.SaveOptions{Settle: true})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Len(t, f.store.saved, 1)
	require.Len(t, f.store.payloads, 2)
	inserts := 0
	for _, p := range f.store.payloads {
		if p.ID == nil {
			inserts++
		}
	}
	require.Equal(t, 1, inserts)
	require.Equal(t, results[0].Quotation.ID, results[1].Quotation.ID)
	require.Equal(t, results[0].Quotation.Items[0].ID, results[1].Quotation.Items[0].ID)
}

func TestReopenPersistedQuotation(t *testing.T) {
	f := newFixture(t)
	sess, _ := openConfigured(t, f.svc)
	res, err := f.svc.Save(context.Background(), sess.ID, quote.SaveOptions{Settle: true})
	require.NoError(t, err)
	require.NoError(t, f.svc.Close(sess.ID))

	reopened, err := f.svc.Open(context.Background(), quote.OpenRequest{QuotationID: &res.Quotation.ID})
	require.NoError(t, err)
	reopened.Wait()
	view := reopened.View()
	require.Len(t, view.Items, 1)
	require.Equal(t, res.Quotation.Items[0].ID, *view.Items[0].PersistedID)
	require.Equal(t, "cost_ready", view.Items[0].State)
}

func TestSweepClosesIdleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, err := quote.NewService(quote.ServiceConfig{
		Catalog: staticCatalog{},
		Pricer:  areaPricer(),
		Store:   newMemoryStore(),
		IdleTTL: time.Hour,
		Now:     clock,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)

	idle, err := svc.Open(context.Background(), quote.OpenRequest{})
	require.NoError(t, err)
	now = now.Add(45 * time.Minute)
	active, err := svc.Open(context.Background(), quote.OpenRequest{})
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)

	require.Equal(t, 1, svc.Sweep())
	require.False(t, idle.Alive())
	require.True(t, active.Alive())
	_, err = svc.Get(active.ID)
	require.NoError(t, err)
}
