package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/chatvoice/internal/observe"
)

// Ack statuses sent back for every received frame.
const (
	AckQueued    = "queued"
	AckDuplicate = "duplicate"
	AckDropped   = "dropped"
	AckInvalid   = "invalid"
)

// Ack is the reply written for each chat frame.
type Ack struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// maxFrameBytes bounds a single chat frame.
const maxFrameBytes = 64 << 10

// HandlerOption configures [NewWebsocketHandler].
type HandlerOption func(*wsHandler)

// WithOriginPatterns allows cross-origin browser clients from the given host
// patterns. By default only same-origin and non-browser clients connect.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *wsHandler) { h.origins = patterns }
}

type wsHandler struct {
	queue   *Queue
	origins []string
}

// NewWebsocketHandler returns an HTTP handler that upgrades to a websocket
// and accepts JSON chat frames ({"id","name","text","self"}), replying with
// one [Ack] per frame.
func NewWebsocketHandler(q *Queue, opts ...HandlerOption) http.Handler {
	h := &wsHandler{queue: q}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("chat websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	ctx := r.Context()
	log := observe.Logger(ctx).With("remote", r.RemoteAddr)
	log.Info("chat bridge connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Info("chat bridge disconnected")
			} else {
				log.Warn("chat bridge read failed", "err", err)
			}
			return
		}

		ack := h.handle(ctx, data)
		if err := writeAck(ctx, conn, ack); err != nil {
			log.Warn("chat bridge ack failed", "err", err)
			return
		}
	}
}

func (h *wsHandler) handle(ctx context.Context, data []byte) Ack {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Ack{Status: AckInvalid, Error: err.Error()}
	}
	ack := Ack{ID: msg.ID, Status: AckQueued}
	switch err := h.queue.Submit(ctx, "websocket", msg); {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
		ack.Status = AckDuplicate
	case errors.Is(err, ErrEmpty):
		ack.Status, ack.Error = AckInvalid, err.Error()
	default:
		ack.Status, ack.Error = AckDropped, err.Error()
	}
	return ack
}

func writeAck(ctx context.Context, conn *websocket.Conn, ack Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
