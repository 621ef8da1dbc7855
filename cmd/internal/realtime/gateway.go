package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"openon/cmd/internal/auth"

	"github.com/coder/websocket"
)

const (
	wsSubprotocol = "openon.events.v1"

	wsWriteTimeout = 5 * time.Second
	wsPingEvery    = 30 * time.Second
)

// TokenVerifier authenticates a bearer token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Gateway upgrades HTTP requests to WebSocket event streams.
type Gateway struct {
	log      *slog.Logger
	feed     *Feed
	verifier TokenVerifier
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, feed *Feed, verifier TokenVerifier) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if feed == nil {
		feed = NewFeed(log)
	}
	return &Gateway{log: log, feed: feed, verifier: verifier}
}

// HandleWS authenticates the request and streams the caller's letter events
// until the client goes away.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if g == nil || g.verifier == nil {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}

	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		// Browsers cannot set headers on WS upgrades; allow a query token.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	id, err := g.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		g.log.Info("realtime.accept.fail", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	client := NewClient(id.UserID, 0)
	g.feed.Attach(client)
	defer g.feed.Detach(client)

	g.log.Info("realtime.connect", "user_id", id.UserID)

	ctx := r.Context()
	// Reader goroutine: we never expect client frames; its only job is to
	// notice the peer going away.
	go func() {
		defer client.Close()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutdown")
			return
		case <-client.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case env := <-client.Send:
			if err := g.writeEnvelope(ctx, conn, env); err != nil {
				if !errors.Is(err, context.Canceled) {
					g.log.Info("realtime.write.fail", "user_id", id.UserID, "err", err)
				}
				return
			}
		}
	}
}

func (g *Gateway) writeEnvelope(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
