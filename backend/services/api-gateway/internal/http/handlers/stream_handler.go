package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/api-gateway/internal/http/middleware"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// BalanceSubscriber streams ledger updates for one account.
type BalanceSubscriber interface {
	Subscribe(ctx context.Context, accountID string) (<-chan ledger.Update, func(), error)
}

// BalanceStream pushes balance changes to a WebSocket client.
type BalanceStream struct {
	subscriber   BalanceSubscriber
	pingInterval time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewBalanceStream builds the GET /api/balance/stream handler. Browsers may
// connect from the gateway's own host or from one of allowedOrigins.
func NewBalanceStream(subscriber BalanceSubscriber, pingInterval time.Duration, allowedOrigins []string, logger *zap.Logger) *BalanceStream {
	return &BalanceStream{
		subscriber:   subscriber,
		pingInterval: pingInterval,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker accepts requests without an Origin header since only
// browsers send one.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// ServeHTTP subscribes before upgrading so a Redis outage surfaces as 503.
func (s *BalanceStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !s.upgrader.CheckOrigin(r) {
		s.logger.Warn("balance stream origin rejected", zap.String("origin", r.Header.Get("Origin")))
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, unsubscribe, err := s.subscriber.Subscribe(ctx, accountID)
	if err != nil {
		s.logger.Error("balance subscribe failed", zap.String("account_id", accountID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "balance stream unavailable")
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	logger := s.logger.With(zap.String("account_id", accountID))
	logger.Info("balance stream opened")

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn, updates, logger)
	logger.Info("balance stream closed")
}

// readPump discards client frames and keeps the read deadline fresh on
// pongs. It cancels the stream once the client goes away.
func (s *BalanceStream) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
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

func (s *BalanceStream) writePump(ctx context.Context, conn *websocket.Conn, updates <-chan ledger.Update, logger *zap.Logger) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case update, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(update); err != nil {
				logger.Info("balance stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
