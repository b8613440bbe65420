package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paykiosk.org/internal/ledger"
)

const streamKeepAlive = 25 * time.Second

// Stream handles Server-Sent Events for committed entries. Admins see every
// account, everyone else only their own.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if a.deps.Hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	all := p.Can(ledger.PermissionAdmin)

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := a.deps.Hub.Subscribe(r.Context())

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case evt, open := <-ch:
			if !open {
				return
			}
			if !all && evt.AccountID != p.AccountID {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.EntryID, evt.Type, payload)
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
