package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"openon/cmd/internal/auth"
	"openon/cmd/internal/identity"
	"openon/cmd/internal/letter"
	"openon/cmd/internal/metrics"
	"openon/cmd/internal/recipient"
)

// mirrorStore copies contact creates into the letter store so joined reads
// resolve, the way the Postgres stores share one recipients table.
type mirrorStore struct {
	*recipient.MemoryStore
	letters *letter.MemoryStore
}

func (m *mirrorStore) Create(ctx context.Context, in recipient.Recipient) (recipient.Recipient, error) {
	rec, err := m.MemoryStore.Create(ctx, in)
	if err != nil {
		return rec, err
	}
	m.letters.PutRecipient(letter.RecipientRef{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		LinkedUserID: rec.LinkedUserID,
		Email:        rec.Email,
	})
	return rec, nil
}

type testServer struct {
	mux     *http.ServeMux
	letters *letter.MemoryStore
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.DiscardHandler)

	letterStore := letter.NewMemoryStore()
	letterSvc, err := letter.NewService(letterStore, letterStore, log)
	if err != nil {
		t.Fatalf("letter service: %v", err)
	}
	recipientSvc, err := recipient.NewService(&mirrorStore{
		MemoryStore: recipient.NewMemoryStore(),
		letters:     letterStore,
	}, log)
	if err != nil {
		t.Fatalf("recipient service: %v", err)
	}
	userSvc, err := identity.NewService(identity.NewMemoryStore(), log,
		identity.WithParams(identity.Argon2idParams{
			MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
		}))
	if err != nil {
		t.Fatalf("identity service: %v", err)
	}
	tokens, err := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	m := metrics.New()
	h, err := NewHandler(log, letterSvc, recipientSvc, userSvc, tokens, WithMetrics(m))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return &testServer{mux: mux, letters: letterStore, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

// register creates an account and returns its token and user id.
func (ts *testServer) register(t *testing.T, email string) (token, userID string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":    email,
		"password": "correct horse battery",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register %s: status = %d, body %s", email, w.Code, w.Body.String())
	}
	sess := decodeBody[sessionResponse](t, w)
	if sess.Token == "" || sess.User.ID == "" {
		t.Fatalf("register %s: incomplete session %+v", email, sess)
	}
	return sess.Token, sess.User.ID
}

// addRecipient creates a contact for the caller and returns its id.
func (ts *testServer) addRecipient(t *testing.T, token string, body map[string]any) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/recipients", token, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create recipient: status = %d, body %s", w.Code, w.Body.String())
	}
	return decodeBody[recipientResponse](t, w).ID
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	token, _ := ts.register(t, "ada@example.com")
	if token == "" {
		t.Fatal("empty token")
	}

	if w := ts.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email": "ada@example.com", "password": "another long password",
	}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status = %d, want 409", w.Code)
	}

	if w := ts.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email": "short@example.com", "password": "tiny",
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("short password: status = %d, want 400", w.Code)
	}

	w := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "ada@example.com", "password": "correct horse battery",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body %s", w.Code, w.Body.String())
	}

	if w := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "ada@example.com", "password": "wrong password here",
	}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: status = %d, want 401", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/v1/me"},
		{http.MethodGet, "/v1/letters/inbox"},
		{http.MethodGet, "/v1/letters/outbox"},
		{http.MethodPost, "/v1/letters"},
		{http.MethodGet, "/v1/recipients"},
		{http.MethodPost, "/v1/media/presign-upload"},
	}
	for _, p := range paths {
		if w := ts.do(t, p.method, p.path, "", nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", p.method, p.path, w.Code)
		}
	}

	if w := ts.do(t, http.MethodGet, "/v1/me", "not-a-jwt", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", w.Code)
	}
}

func TestRecipientEndpoints(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "owner@example.com")

	if w := ts.do(t, http.MethodPost, "/v1/recipients", token, map[string]any{
		"display_name": "nobody",
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("recipient without identity: status = %d, want 400", w.Code)
	}

	id := ts.addRecipient(t, token, map[string]any{"email": "Pen.Pal@Example.com"})

	w := ts.do(t, http.MethodGet, "/v1/recipients", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d", w.Code)
	}
	recs := decodeBody[[]recipientResponse](t, w)
	if len(recs) != 1 || recs[0].ID != id {
		t.Fatalf("list = %+v, want one recipient %s", recs, id)
	}
	if recs[0].Email == nil || *recs[0].Email != "pen.pal@example.com" {
		t.Fatalf("email not normalized: %+v", recs[0].Email)
	}

	if w := ts.do(t, http.MethodDelete, "/v1/recipients/"+id, token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, "/v1/recipients/"+id, token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("delete again: status = %d, want 404", w.Code)
	}
}

func TestLetterCreateAndTimeGate(t *testing.T) {
	ts := newTestServer(t)
	aliceTok, _ := ts.register(t, "alice@example.com")
	_, bobID := ts.register(t, "bob@example.com")
	recID := ts.addRecipient(t, aliceTok, map[string]any{"linked_user_id": bobID})

	w := ts.do(t, http.MethodPost, "/v1/letters", aliceTok, map[string]any{
		"recipient_id": recID,
		"body":         "open this next year",
		"unlocks_at":   time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create letter: status = %d, body %s", w.Code, w.Body.String())
	}
	v := decodeBody[letter.View](t, w)
	if v.Status != string(letter.StatusSealed) {
		t.Fatalf("status = %q, want sealed", v.Status)
	}

	// Past unlock time is rejected outright.
	if w := ts.do(t, http.MethodPost, "/v1/letters", aliceTok, map[string]any{
		"recipient_id": recID,
		"body":         "too late",
		"unlocks_at":   time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("past unlock: status = %d, want 400", w.Code)
	}

	// Opening before the unlock time is a 423.
	bobTok, _ := ts.login(t, "bob@example.com")
	if w := ts.do(t, http.MethodPost, "/v1/letters/"+v.ID+"/open", bobTok, nil); w.Code != http.StatusLocked {
		t.Fatalf("early open: status = %d, want 423, body %s", w.Code, w.Body.String())
	}
}

func (ts *testServer) login(t *testing.T, email string) (string, string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": email, "password": "correct horse battery",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d", email, w.Code)
	}
	sess := decodeBody[sessionResponse](t, w)
	return sess.Token, sess.User.ID
}

// seedLetter inserts a letter already past its unlock time, bypassing the
// create validation so open paths can be exercised without waiting.
func (ts *testServer) seedLetter(t *testing.T, senderID, recipientID string) letter.Letter {
	t.Helper()
	now := time.Now().UTC()
	l, err := ts.letters.Create(context.Background(), letter.CreateRecord{
		ID:          fmt.Sprintf("seed-%d", time.Now().UnixNano()),
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        "from the past",
		Status:      letter.StatusSealed,
		CreatedAt:   now.Add(-48 * time.Hour),
		UnlocksAt:   now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed letter: %v", err)
	}
	return l
}

func TestLetterOpenOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	aliceTok, aliceID := ts.register(t, "alice@example.com")
	bobTok, bobID := ts.register(t, "bob@example.com")
	strangerTok, _ := ts.register(t, "mallory@example.com")

	recID := ts.addRecipient(t, aliceTok, map[string]any{"linked_user_id": bobID})
	l := ts.seedLetter(t, aliceID, recID)
	path := "/v1/letters/" + l.ID + "/open"

	// The sender and a stranger get the same forbidden response.
	senderResp := ts.do(t, http.MethodPost, path, aliceTok, nil)
	strangerResp := ts.do(t, http.MethodPost, path, strangerTok, nil)
	if senderResp.Code != http.StatusForbidden || strangerResp.Code != http.StatusForbidden {
		t.Fatalf("forbidden statuses = %d, %d, want 403, 403", senderResp.Code, strangerResp.Code)
	}
	if senderResp.Body.String() != strangerResp.Body.String() {
		t.Fatalf("denial bodies differ:\n%s\n%s", senderResp.Body.String(), strangerResp.Body.String())
	}

	w := ts.do(t, http.MethodPost, path, bobTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recipient open: status = %d, body %s", w.Code, w.Body.String())
	}
	opened := decodeBody[letter.View](t, w)
	if opened.Status != string(letter.StatusOpened) || opened.OpenedAt == nil {
		t.Fatalf("opened view = %+v", opened)
	}

	// Replay is an idempotent 200 with the same opened_at.
	again := decodeBody[letter.View](t, ts.do(t, http.MethodPost, path, bobTok, nil))
	if again.OpenedAt == nil || !again.OpenedAt.Equal(*opened.OpenedAt) {
		t.Fatalf("replay opened_at = %v, want %v", again.OpenedAt, opened.OpenedAt)
	}
	if got := ts.letters.AppliedOpens(); got != 1 {
		t.Fatalf("applied opens = %d, want 1", got)
	}

	if w := ts.do(t, http.MethodPost, "/v1/letters/missing/open", bobTok, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing letter: status = %d, want 404", w.Code)
	}

	for outcome, want := range map[string]float64{
		metrics.OutcomeOpened:    2, // first open plus idempotent replay
		metrics.OutcomeForbidden: 2,
		metrics.OutcomeNotFound:  1,
	} {
		got := testutil.ToFloat64(ts.metrics.LetterOpens.WithLabelValues(outcome))
		if got != want {
			t.Errorf("LetterOpens[%s] = %v, want %v", outcome, got, want)
		}
	}
}

func TestInboxOutbox(t *testing.T) {
	ts := newTestServer(t)
	aliceTok, aliceID := ts.register(t, "alice@example.com")
	_, bobID := ts.register(t, "bob@example.com")
	bobTok, _ := ts.login(t, "bob@example.com")

	recID := ts.addRecipient(t, aliceTok, map[string]any{"linked_user_id": bobID})
	ts.seedLetter(t, aliceID, recID)

	outbox := decodeBody[[]letter.View](t, ts.do(t, http.MethodGet, "/v1/letters/outbox", aliceTok, nil))
	if len(outbox) != 1 {
		t.Fatalf("outbox size = %d, want 1", len(outbox))
	}
	inbox := decodeBody[[]letter.View](t, ts.do(t, http.MethodGet, "/v1/letters/inbox", bobTok, nil))
	if len(inbox) != 1 {
		t.Fatalf("inbox size = %d, want 1", len(inbox))
	}
	if inbox[0].Body != "" {
		t.Fatalf("unopened inbox letter leaked body %q", inbox[0].Body)
	}
}

func TestStrictRequestBodies(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "strict@example.com")

	req := httptest.NewRequest(http.MethodPost, "/v1/recipients",
		bytes.NewReader([]byte(`{"email":"x@example.com","bogus":true}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status = %d, want 400", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/recipients",
		bytes.NewReader([]byte(`{"email":"x@example.com"}{"email":"y@example.com"}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("trailing JSON: status = %d, want 400", w.Code)
	}
}

func TestMediaWithoutStorage(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "uploader@example.com")

	if w := ts.do(t, http.MethodPost, "/v1/media/presign-upload", token, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("presign without storage: status = %d, want 503", w.Code)
	}
}
