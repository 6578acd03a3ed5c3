// README: Websocket relay from a user's event channel to their open socket.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"glideway/internal/modules/notify"
	"glideway/internal/observability"
	"glideway/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type Feed struct {
	sub      Subscriber
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewFeed relays events to sockets. allowOrigin may be nil to accept any
// origin; browsers are already gated by the bearer token.
func NewFeed(sub Subscriber, log *slog.Logger, allowOrigin func(r *http.Request) bool) *Feed {
	if log == nil {
		log = slog.Default()
	}
	if allowOrigin == nil {
		allowOrigin = func(*http.Request) bool { return true }
	}
	return &Feed{
		sub: sub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowOrigin,
		},
	}
}

// Serve upgrades the request and streams userID's events until either side
// goes away.
func (f *Feed) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := f.sub.Subscribe(ctx, notify.ChannelFor(types.ID(userID)))
	if err != nil {
		f.log.Error("realtime subscribe failed", "user_id", userID, "error", err)
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		f.log.Debug("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	observability.RealtimeSubscribers.Inc()
	defer observability.RealtimeSubscribers.Dec()
	f.log.Info("realtime connected", "user_id", userID)

	go f.readPump(conn, cancel)
	f.writePump(ctx, conn, sub)
	f.log.Info("realtime disconnected", "user_id", userID)
}

// readPump discards client frames and cancels the feed once the peer leaves.
func (f *Feed) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
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

func (f *Feed) writePump(ctx context.Context, conn *websocket.Conn, sub Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
