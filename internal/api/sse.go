package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/dasher-monitor/internal/events"
	"github.com/ignite/dasher-monitor/internal/pkg/httputil"
)

// AdminEvents streams every bus event to the caller as SSE.
func (h *Handlers) AdminEvents(w http.ResponseWriter, r *http.Request) {
	h.streamEvents(w, r, h.bus.SubscribeAdmin())
}

// PortalEvents streams one inbox's events. The email query parameter is
// required; the external auth layer is expected to have checked that the
// caller owns it.
func (h *Handlers) PortalEvents(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	h.streamEvents(w, r, h.bus.SubscribePortal(email))
}

// streamEvents pumps a subscriber's events down an SSE connection until
// the client disconnects, the process shuts down or the bus evicts the
// subscriber. Idle connections get a comment keepalive so intermediaries
// do not cut them.
func (h *Handlers) streamEvents(w http.ResponseWriter, r *http.Request, sub *events.Subscriber) {
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTimer(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.baseCtx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := ev.Marshal()
			if err != nil {
				h.log.Error("marshalling event failed", "event_type", string(ev.Type), "error", err.Error())
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(h.keepalive)
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
			keepalive.Reset(h.keepalive)
		}
	}
}
