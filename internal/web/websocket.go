package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocotilloai/kestrel/internal/models"
	"github.com/ocotilloai/kestrel/internal/orchestrator"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxPayload = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wireFrame is the outbound wire shape for every event pushed over the
// socket: an orchestrator.Outbound flattened to JSON field names a
// voice/text client can render directly.
type wireFrame struct {
	Type     models.EventType `json:"type"`
	Role     models.Role      `json:"role"`
	Source   models.Source    `json:"source"`
	Content  string           `json:"content"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// handleWebSocket upgrades the connection, sends the one-time welcome
// frame, then alternates between reading inbound envelopes and streaming
// the orchestrator's outbound events back until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := make(chan wireFrame, 64)
	done := make(chan struct{})
	go s.wsWriteLoop(conn, send, done)

	for _, ev := range s.Orchestrator.Welcome(sess) {
		send <- outboundToWire(ev)
	}

	conn.SetReadLimit(wsMaxPayload)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		frame, err := orchestrator.ValidateFrame(raw)
		if err != nil {
			send <- wireFrame{Type: models.EventError, Role: models.RoleSystem, Source: models.SourceController, Content: err.Error()}
			continue
		}

		switch frame.Type {
		case "ping":
			send <- wireFrame{Type: models.EventSystem, Role: models.RoleSystem, Source: models.SourceController, Content: "pong"}
		case "kill":
			sess.CancelInFlight()
		case "message":
			var content struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(frame.Content, &content); err != nil {
				send <- wireFrame{Type: models.EventError, Role: models.RoleSystem, Source: models.SourceController, Content: err.Error()}
				continue
			}
			s.streamTurn(ctx, sess, content.Text, send)
		}
	}

	// A dropped connection does not cancel an in-flight Manager/Coder run
	// (SPEC_FULL.md Open Question (c)): only an explicit "kill" frame or
	// session deletion does. A later connection on the same session gets
	// no replay and only streams the turns it starts itself; events of a
	// run started on an earlier connection are not forwarded to it.
	close(done)
}

// streamTurn drives one HandleMessage turn to completion, forwarding
// every outbound event onto send as it arrives so long-running Manager
// turns stream incrementally instead of buffering until the end.
func (s *Server) streamTurn(ctx context.Context, sess *models.Session, text string, send chan<- wireFrame) {
	for ev := range s.Orchestrator.HandleMessage(ctx, sess, text) {
		send <- outboundToWire(ev)
	}
}

func outboundToWire(ev orchestrator.Outbound) wireFrame {
	return wireFrame{Type: ev.Type, Role: ev.Role, Source: ev.Source, Content: ev.Content, Metadata: ev.Metadata}
}

func (s *Server) wsWriteLoop(conn *websocket.Conn, send <-chan wireFrame, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-send:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// newEventFromAPI builds a models.Event from the loosely-typed fields the
// HTTP event-recording endpoint accepts, defaulting role/source/type when
// the caller omits them so a bare {"content": "..."} request still
// produces a valid transcript entry.
func newEventFromAPI(evType, role, source, content string) models.Event {
	ev := models.Event{Body: content}
	if evType != "" {
		ev.Type = models.EventType(evType)
	} else {
		ev.Type = models.EventDetail
	}
	if role != "" {
		ev.Role = models.Role(role)
	} else {
		ev.Role = models.RoleSystem
	}
	if source != "" {
		ev.Source = models.Source(source)
	} else {
		ev.Source = models.SourceController
	}
	return ev
}
