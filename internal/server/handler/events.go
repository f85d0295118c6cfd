package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/spacedatabank/marketd/internal/domain"
)

// EventsHandler serves the durable event history backed by the bus stream.
type EventsHandler struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(bus domain.EventBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

// eventEntry pairs a stream cursor with the decoded event payload.
type eventEntry struct {
	Cursor string           `json:"cursor"`
	Event  domain.ItemEvent `json:"event"`
}

// ListEvents returns item events from the durable stream, oldest first.
// Clients page forward by passing the last cursor they saw.
// GET /api/events?after=<cursor>&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := q.Get("after")
	if after == "" {
		after = "0"
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamItems, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read event stream failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	entries := make([]eventEntry, 0, len(msgs))
	for _, msg := range msgs {
		var ev domain.ItemEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			// Skip malformed entries rather than failing the whole page.
			h.logger.WarnContext(r.Context(), "handler: skipping malformed event",
				slog.String("cursor", msg.ID),
			)
			continue
		}
		entries = append(entries, eventEntry{Cursor: msg.ID, Event: ev})
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}
