package quote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/catalog"
	"github.com/noah-isme/quote-configurator/internal/common"
	"github.com/noah-isme/quote-configurator/internal/costing"
	"github.com/noah-isme/quote-configurator/internal/events"
	"github.com/noah-isme/quote-configurator/internal/lock"
	"github.com/noah-isme/quote-configurator/internal/obs"
)

// ErrQuotationNotFound is returned by stores for unknown quotation ids.
var ErrQuotationNotFound = errors.New("quote: quotation not found")

// Store persists quotations.
type Store interface {
	SaveQuotation(ctx context.Context, payload SavePayload) (SavedQuotation, error)
	GetQuotation(ctx context.Context, id int64) (SavedQuotation, error)
}

// CatalogProvider supplies the catalog snapshot and option loader of a new
// session.
type CatalogProvider interface {
	Snapshot(ctx context.Context) *catalog.Snapshot
	OptionLoader() *catalog.OptionLoader
}

// Locker serialises saves of the same quotation across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// UploadScheduler hands pending design files to the upload worker.
type UploadScheduler interface {
	Schedule(ctx context.Context, upload PendingUpload) error
}

// EventEmitter records domain events.
type EventEmitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// ServiceConfig wires the session manager.
type ServiceConfig struct {
	Catalog CatalogProvider
	Pricer  costing.Service
	Store   Store
	Locker  Locker
	Uploads UploadScheduler
	Events  EventEmitter
	Rules   Rules
	IdleTTL time.Duration
	LockTTL time.Duration
	Logger  *zerolog.Logger
	Now     func() time.Time
}

// Service owns the open editing sessions.
type Service struct {
	catalog CatalogProvider
	pricer  costing.Service
	store   Store
	locker  Locker
	uploads UploadScheduler
	events  EventEmitter
	rules   Rules
	idleTTL time.Duration
	lockTTL time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService constructs the session manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("quote: catalog provider is required")
	}
	if cfg.Pricer == nil {
		return nil, errors.New("quote: pricer is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("quote: store is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "quote").Logger()
	}
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = 2 * time.Hour
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		catalog:  cfg.Catalog,
		pricer:   cfg.Pricer,
		store:    cfg.Store,
		locker:   cfg.Locker,
		uploads:  cfg.Uploads,
		events:   cfg.Events,
		rules:    cfg.Rules,
		idleTTL:  idle,
		lockTTL:  lockTTL,
		logger:   logger,
		now:      now,
		sessions: make(map[string]*Session),
	}, nil
}

// OpenRequest opens a session from defaults or from a persisted quotation.
type OpenRequest struct {
	QuotationID *int64
	Header      Header
}

// Open loads the catalog snapshot and starts a session.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	cfg := SessionConfig{
		Snapshot: s.catalog.Snapshot(ctx),
		Options:  s.catalog.OptionLoader(),
		Pricer:   s.pricer,
		Rules:    s.rules,
		Logger:   s.logger,
		Now:      s.now,
	}

	var sess *Session
	if req.QuotationID != nil {
		saved, err := s.store.GetQuotation(ctx, *req.QuotationID)
		if err != nil {
			if errors.Is(err, ErrQuotationNotFound) {
				return nil, common.NotFound("quotation not found")
			}
			return nil, common.NewAppError("LOAD_FAILED", "failed to load quotation", http.StatusInternalServerError, err)
		}
		sess = RestoreSession(cfg, saved)
	} else {
		header := req.Header
		header.ID = nil
		sess = NewSession(cfg, header)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.logger.Debug().Str("session_id", sess.ID).Msg("session_opened")
	return sess, nil
}

// Get returns an open session.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || !sess.Alive() {
		return nil, common.NotFound("session not found")
	}
	return sess, nil
}

// Close discards a session without saving.
func (s *Service) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return common.NotFound("session not found")
	}
	sess.Close()
	return nil
}

// Sweep closes sessions idle for longer than the idle TTL and returns how
// many were closed.
func (s *Service) Sweep() int {
	cutoff := s.now().Add(-s.idleTTL)
	var stale []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.IdleSince().Before(cutoff) || !sess.Alive() {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	for _, sess := range stale {
		sess.Close()
	}
	if len(stale) > 0 {
		s.logger.Info().Int("closed", len(stale)).Msg("idle_sessions_swept")
	}
	return len(stale)
}

// RunSweeper sweeps idle sessions every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Shutdown closes every open session.
func (s *Service) Shutdown() {
	s.mu.Lock()
	open := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range open {
		sess.Close()
	}
}

// SaveOptions tunes a save call.
type SaveOptions struct {
	// Settle waits for in-flight cost and option requests before the state
	// is captured.
	Settle bool
}

// Save persists the session's quotation in one store call, then hands any
// pending design files to the upload queue.
func (s *Service) Save(ctx context.Context, sessionID string, opts SaveOptions) (SaveResult, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return SaveResult{}, err
	}
	if opts.Settle {
		sess.Wait()
	}
	d, saved, err := s.persist(ctx, sess)
	if err != nil {
		return SaveResult{}, err
	}

	pending := make([]PendingUpload, 0, len(d.pending))
	for _, file := range d.pending {
		itemID, ok := sess.persistedID(file.itemID)
		if !ok {
			continue
		}
		upload := PendingUpload{QuotationID: saved.ID, ItemID: itemID, LocalFile: file.localFile}
		pending = append(pending, upload)
		if s.uploads == nil {
			continue
		}
		if err := s.uploads.Schedule(ctx, upload); err != nil {
			s.logger.Warn().Err(err).Int64("item_id", itemID).Msg("design_upload_schedule_failed")
			continue
		}
		sess.clearPendingFile(file.itemID, file.localFile)
	}

	if s.events != nil {
		payload := map[string]any{
			"quotationId":    saved.ID,
			"items":          len(saved.Items),
			"totalPrice":     saved.TotalPrice,
			"pendingUploads": len(pending),
		}
		if _, err := s.events.Emit(ctx, events.TopicQuotationSaved, strconv.FormatInt(saved.ID, 10), payload); err != nil {
			s.logger.Warn().Err(err).Int64("quotation_id", saved.ID).Msg("quotation_event_failed")
		}
	}
	obs.CountSave("saved")
	return SaveResult{Quotation: saved, PendingUploads: pending}, nil
}

// persist captures and stores the session state under the session's save
// mutex and the quotation lock, then records the assigned ids.
func (s *Service) persist(ctx context.Context, sess *Session) (draft, SavedQuotation, error) {
	sess.saveMu.Lock()
	defer sess.saveMu.Unlock()

	d, incomplete, err := sess.draft()
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return draft{}, SavedQuotation{}, common.NotFound("session not found")
		}
		return draft{}, SavedQuotation{}, err
	}
	if len(incomplete) > 0 {
		obs.CountSave("invalid")
		return draft{}, SavedQuotation{}, common.ValidationError("quotation has incomplete items", incomplete)
	}
	if err := ValidatePayload(d.payload); err != nil {
		obs.CountSave("invalid")
		return draft{}, SavedQuotation{}, common.ValidationError("invalid quotation", validationDetails(err))
	}

	var saved SavedQuotation
	write := func(ctx context.Context) error {
		var err error
		saved, err = s.store.SaveQuotation(ctx, d.payload)
		return err
	}
	if s.locker != nil {
		err = s.locker.WithLock(ctx, s.lockKey(sess.ID, d.payload.ID), s.lockTTL, write)
	} else {
		err = write(ctx)
	}
	if errors.Is(err, lock.ErrTimeout) {
		obs.CountSave("busy")
		return draft{}, SavedQuotation{}, common.NewAppError("SAVE_IN_PROGRESS", "quotation is being saved elsewhere", http.StatusConflict, err)
	}
	if err != nil {
		obs.CountSave("failed")
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("quotation_save_failed")
		return draft{}, SavedQuotation{}, common.NewAppError("SAVE_FAILED", "failed to save quotation", http.StatusBadGateway, err)
	}
	sess.applySaved(d, saved)
	return d, saved, nil
}

func (s *Service) lockKey(sessionID string, quotationID *int64) string {
	if quotationID != nil {
		return fmt.Sprintf("lock:quotation:%d", *quotationID)
	}
	return "lock:session:" + sessionID
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"error": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}
