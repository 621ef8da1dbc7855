// Package main provides a CI-friendly WebSocket smoke test for the OpenOn
// event feed.
//
// It validates:
//   - handshake + subprotocol selection
//   - bearer-token authentication (header and query fallback)
//   - event delivery until timeout or count
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "openon.events.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

// envelope mirrors the server's wire frame; kept local so the tool can run
// against any deployed server version.
type envelope struct {
	ID    string `json:"id"`
	Event struct {
		Type     string    `json:"type"`
		LetterID string    `json:"letter_id"`
		At       time.Time `json:"at"`
	} `json:"event"`
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		token    = flag.String("token", "", "Bearer token for the event feed")
		useQuery = flag.Bool("query-token", false, "Pass the token as ?token= instead of a header")
		count    = flag.Int("count", 0, "Events to wait for (0 = handshake only)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Overall timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *token == "" {
		fatalf("-token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dialURL := *wsURL
	opts := &websocket.DialOptions{Subprotocols: []string{subprotocol}}
	if *useQuery {
		sep := "?"
		if strings.Contains(dialURL, "?") {
			sep = "&"
		}
		dialURL += sep + "token=" + url.QueryEscape(*token)
	} else {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + *token}}
	}

	conn, resp, err := websocket.Dial(ctx, dialURL, opts)
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(maxReadBytes)

	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol = %q, want %q", got, subprotocol)
	}
	if *verbose && resp != nil {
		fmt.Fprintf(os.Stderr, "handshake ok: %s\n", resp.Status)
	}

	for received := 0; received < *count; received++ {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			fatalf("read event %d/%d: %v", received+1, *count, err)
		}
		fmt.Printf("event %s type=%s letter=%s at=%s\n",
			env.ID, env.Event.Type, env.Event.LetterID, env.Event.At.Format(time.RFC3339))
	}

	fmt.Println("ws-smoke: OK")
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (envelope, error) {
	var env envelope
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return env, err
	}
	if typ != websocket.MessageText {
		return env, fmt.Errorf("unexpected frame type %v", typ)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" || env.Event.Type == "" {
		return env, errors.New("incomplete envelope")
	}
	return env, nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
