package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/tally-pos/tally-pos/internal/platform/httpx"
)

// QueueInspector reports queue depth. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	queues := []queueHealth{}
	for _, name := range []string{QueueCritical, QueueDefault} {
		q := queueHealth{Queue: name}
		if h.inspector != nil {
			info, err := h.inspector.GetQueueInfo(name)
			switch {
			case errors.Is(err, asynq.ErrQueueNotFound):
			case err != nil:
				h.logger.Warn("jobs health", slog.String("queue", name), slog.Any("error", err))
				httpx.Fail(w, http.StatusServiceUnavailable, "job queue unavailable")
				return
			case info != nil:
				q.Pending = info.Pending
				q.Active = info.Active
				q.Retry = info.Retry
			}
		}
		queues = append(queues, q)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": queues})
}
