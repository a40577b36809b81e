package queue

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/common"
)

// AdminHandler exposes dead letter inspection and replay.
type AdminHandler struct {
	DLQ      DeadLetters
	PageSize int
	Logger   zerolog.Logger
}

// ListDead handles GET /admin/queues/{kind}/dead?limit=N.
func (h *AdminHandler) ListDead(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if sanitizeKind(kind) == "" {
		common.WriteError(w, common.ValidationError("unknown queue kind", nil))
		return
	}
	tasks, err := h.DLQ.List(r.Context(), kind, h.limit(r))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	size, err := h.DLQ.Size(r.Context(), kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": tasks, "total": size})
}

// ReplayDead handles POST /admin/queues/{kind}/dead/replay?limit=N.
func (h *AdminHandler) ReplayDead(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if sanitizeKind(kind) == "" {
		common.WriteError(w, common.ValidationError("unknown queue kind", nil))
		return
	}
	moved, err := h.DLQ.Replay(r.Context(), kind, h.limit(r))
	if err != nil {
		h.Logger.Error().Err(err).Str("kind", kind).Int("replayed", moved).Msg("queue_dlq_replay_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	h.Logger.Info().Str("kind", kind).Int("replayed", moved).Msg("queue_dlq_replayed")
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]int{"replayed": moved}})
}

func (h *AdminHandler) limit(r *http.Request) int {
	def := h.PageSize
	if def <= 0 {
		def = 50
	}
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
