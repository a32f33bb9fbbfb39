package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// liveUpgrader uses a 1 KiB read buffer and a 4 KiB write buffer (the
// agent-facing upgrader in internal/app uses 4 KiB for both); UI clients
// are same-origin in every deployment this
// ships to, so origin checking is left to a front proxy rather than
// duplicated here.
var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second

// liveWS upgrades to a WebSocket and forwards every event off the C5
// fabric's topic as a JSON frame. role=admin (or a JWT carrying one)
// subscribes to the authenticated topic (full FullServerList plus
// MonitorResultEvent/batch events); anyone else gets the redacted public
// topic, matching FullServerList.Redact's field set.
func (h *handler) liveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	role, _ := r.Context().Value(ctxRoleKey).(string)

	var (
		events <-chan any
		unsub  func()
	)
	if role == "admin" {
		events, unsub = h.deps.Live.Authenticated.Subscribe(16)
	} else {
		events, unsub = h.deps.Live.Public.Subscribe(16)
	}
	defer unsub()

	// Drain and discard client frames; this channel is push-only, but we
	// must read to notice the connection closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
