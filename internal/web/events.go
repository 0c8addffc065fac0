package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/project"
	"github.com/hpungsan/deckhand/internal/store"
)

// snapshotEvent is the JSON payload of one "projects" event.
type snapshotEvent struct {
	Version  uint64            `json:"version"`
	Projects []project.Details `json:"projects"`
	Error    *eventError       `json:"error,omitempty"`
}

type eventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newSnapshotEvent(s store.Snapshot) snapshotEvent {
	ev := snapshotEvent{Version: s.Version, Projects: s.Projects}
	if s.Err != nil {
		dErr := errors.As(s.Err)
		ev.Error = &eventError{Code: string(dErr.Code), Message: dErr.Message}
	}
	return ev
}

// HandleEvents handles GET /events: a server-sent event stream carrying a
// snapshot of the project cache after every change. The current state is
// sent first.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.renderer.renderError(w, r, errors.NewInternal(fmt.Errorf("streaming unsupported")))
		return
	}

	// Holds only the newest pending snapshot; slow clients skip versions.
	latest := make(chan store.Snapshot, 1)
	unsubscribe := h.store.Subscribe(func(s store.Snapshot) {
		select {
		case <-latest:
		default:
		}
		select {
		case latest <- s:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	current := h.store.Snapshot()
	if err := writeEvent(w, current); err != nil {
		return
	}
	flusher.Flush()
	sent := current.Version

	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-latest:
			if s.Version <= sent {
				continue
			}
			if err := writeEvent(w, s); err != nil {
				log.Printf("event stream write: %v", err)
				return
			}
			flusher.Flush()
			sent = s.Version

			// The session is gone; the page script follows up with /login.
			if errors.Is(s.Err, errors.ErrUnauthorized) {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, s store.Snapshot) error {
	data, err := json.Marshal(newSnapshotEvent(s))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: projects\nid: %d\ndata: %s\n\n", s.Version, data)
	return err
}
