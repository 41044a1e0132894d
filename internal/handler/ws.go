package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/harvardpoops/app/internal/backend"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	// wsSendBuffer bounds the per-connection queue; slow consumers are
	// disconnected rather than allowed to back up the change feed.
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsTables lists the tables clients may stream.
var wsTables = map[string]bool{
	backend.TableEvents:       true,
	backend.TableRSVPs:        true,
	backend.TableChatMessages: true,
	backend.TableVotes:        true,
}

// WSHandler streams backend change events to WebSocket clients.
type WSHandler struct {
	realtime backend.Realtime
}

// NewWSHandler constructs a WSHandler.
func NewWSHandler(realtime backend.Realtime) *WSHandler {
	return &WSHandler{realtime: realtime}
}

// wsChangeEvent is the wire form of a change notification.
type wsChangeEvent struct {
	Type  backend.ChangeType `json:"type"`
	Table string             `json:"table"`
	New   backend.Record     `json:"new,omitempty"`
	Old   backend.Record     `json:"old,omitempty"`
}

// Stream handles GET /ws?table=events[&event_id=...]
// Each connection subscribes to one table, optionally filtered to one
// event, and receives every change as a JSON frame.
func (h *WSHandler) Stream(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if !wsTables[table] {
		writeError(w, http.StatusBadRequest, "unknown table")
		return
	}
	var filter backend.Filter
	if eventID := r.URL.Query().Get("event_id"); eventID != "" {
		filter = backend.Filter{"event_id": eventID}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	send := make(chan wsChangeEvent, wsSendBuffer)
	sub := h.realtime.Subscribe(table, filter, func(ev backend.ChangeEvent) {
		select {
		case send <- wsChangeEvent{Type: ev.Type, Table: ev.Table, New: ev.New, Old: ev.Old}:
		default:
			// Queue full; the write pump will notice the closed conn.
			conn.Close()
		}
	})

	done := make(chan struct{})

	// Read pump: discard client frames, detect close.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Write pump.
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer func() {
			ticker.Stop()
			sub.Unsubscribe()
			conn.Close()
		}()
		for {
			select {
			case ev := <-send:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}
