package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/consultation"
	"github.com/hackgods/mediquory-connect/internal/notify"
)

const keepAliveInterval = 25 * time.Second

// EventSource is satisfied by *notify.RedisHub.
type EventSource interface {
	Subscribe(ctx context.Context, rooms ...string) (<-chan notify.Event, error)
}

// eventsHandler streams the caller's room as server-sent events. Passing
// consultation_id also joins that consultation's room once the caller is
// known to take part in it.
func eventsHandler(source EventSource, consultations *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principal(r)

		var rooms []string
		switch p.Role {
		case auth.RoleProvider:
			rooms = append(rooms, notify.ProviderRoom(p.ID))
		case auth.RoleRequester:
			rooms = append(rooms, notify.RequesterRoom(p.ID))
		default:
			writeError(w, http.StatusForbidden, "forbidden_role", "no event stream for this role")
			return
		}

		if raw := r.URL.Query().Get("consultation_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_consultation_id", "consultation_id must be a valid UUID")
				return
			}
			if _, err := consultations.Get(r.Context(), p, id); err != nil {
				handleError(w, r, err)
				return
			}
			rooms = append(rooms, notify.ConsultationRoom(id))
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
			return
		}

		events, err := source.Subscribe(r.Context(), rooms...)
		if err != nil {
			log.Printf("event stream subscribe failed role=%s id=%s: %v", p.Role, p.ID, err)
			writeError(w, http.StatusServiceUnavailable, "realtime_unavailable", "event stream unavailable")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					log.Printf("event stream write failed role=%s id=%s: %v", p.Role, p.ID, err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
