package videos

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-studio/reelsmith/internal/events"
	"github.com/aura-studio/reelsmith/pkg/response"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	streamBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscriber delivers a video's status events until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, videoID uuid.UUID, handler func(events.Event)) error
}

// StreamMessage is the websocket message envelope.
type StreamMessage struct {
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}

// Events handles GET /videos/:id/events. The stream opens with a snapshot of the
// current state and then relays every status event until the client disconnects.
func (h *Handler) Events(c *gin.Context) {
	id, ok := videoID(c)
	if !ok {
		return
	}
	if h.events == nil {
		response.ServiceUnavailable(c, "event stream unavailable")
		return
	}
	v, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	updates := make(chan events.Event, streamBuffer)
	err = h.events.Subscribe(ctx, id, func(ev events.Event) {
		select {
		case updates <- ev:
		default:
			h.logger.Debug("stream buffer full; dropping event", zap.String("video_id", id.String()))
		}
	})
	if err != nil {
		h.logger.Warn("event subscribe failed", zap.String("video_id", id.String()), zap.Error(err))
		response.ServiceUnavailable(c, "event stream unavailable")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	go readUntilClosed(conn, cancel)

	if err := writeEvent(conn, "snapshot", events.FromVideo(v)); err != nil {
		return
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev := <-updates:
			if err := writeEvent(conn, "status", ev); err != nil {
				return
			}
			if ev.Status.IsTerminal() {
				cancel()
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, name string, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(StreamMessage{Event: name, Data: ev})
}

// readUntilClosed drains client frames so pongs and close frames are processed.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
