// Package api exposes the OpenOn HTTP surface: accounts, recipient
// contacts, letters, and attachment presigning.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"openon/cmd/internal/auth"
	"openon/cmd/internal/identity"
	"openon/cmd/internal/letter"
	"openon/cmd/internal/media"
	"openon/cmd/internal/metrics"
	"openon/cmd/internal/recipient"
)

const defaultMaxBodyBytes = 64 << 10

// Handler wires HTTP endpoints to the domain services.
type Handler struct {
	log *slog.Logger

	letters    *letter.Service
	recipients *recipient.Service
	users      *identity.Service
	tokens     *auth.TokenManager

	storage *media.Storage
	metrics *metrics.Metrics

	authLimit    *authLimiter
	maxBodyBytes int64
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithStorage enables attachment presigning endpoints.
func WithStorage(storage *media.Storage) HandlerOption {
	return func(h *Handler) {
		if h != nil && storage != nil {
			h.storage = storage
		}
	}
}

// WithMetrics wires outcome counters.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		if h != nil && m != nil {
			h.metrics = m
		}
	}
}

// NewHandler constructs the API handler.
func NewHandler(
	log *slog.Logger,
	letters *letter.Service,
	recipients *recipient.Service,
	users *identity.Service,
	tokens *auth.TokenManager,
	opts ...HandlerOption,
) (*Handler, error) {
	if letters == nil || recipients == nil || users == nil || tokens == nil {
		return nil, errors.New("api: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:          log,
		letters:      letters,
		recipients:   recipients,
		users:        users,
		tokens:       tokens,
		authLimit:    newAuthLimiter(authRateLimit, authRateWindow),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires API routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /v1/auth/register", h.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", h.handleLogin)
	mux.HandleFunc("GET /v1/me", h.handleMe)

	mux.HandleFunc("POST /v1/recipients", h.handleRecipientCreate)
	mux.HandleFunc("GET /v1/recipients", h.handleRecipientList)
	mux.HandleFunc("DELETE /v1/recipients/{id}", h.handleRecipientDelete)

	mux.HandleFunc("POST /v1/letters", h.handleLetterCreate)
	mux.HandleFunc("GET /v1/letters/inbox", h.handleInbox)
	mux.HandleFunc("GET /v1/letters/outbox", h.handleOutbox)
	mux.HandleFunc("GET /v1/letters/{id}", h.handleLetterGet)
	mux.HandleFunc("POST /v1/letters/{id}/open", h.handleLetterOpen)

	mux.HandleFunc("POST /v1/media/presign-upload", h.handlePresignUpload)
	mux.HandleFunc("GET /v1/media/{key...}", h.handlePresignDownload)
}

// caller authenticates the request; on failure it has already written the
// response and returns ok=false.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return auth.Identity{}, false
	}
	id, err := h.tokens.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return auth.Identity{}, false
	}
	return id, true
}

// ---- auth ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.authLimit.allow(clientKey(r), time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, slow down")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.Register(r.Context(), identity.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "valid email and password (10+ chars) required")
		default:
			h.log.Error("api.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.issueSession(w, u)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.authLimit.allow(clientKey(r), time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, slow down")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("api.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.issueSession(w, u)
}

func (h *Handler) issueSession(w http.ResponseWriter, u identity.User) {
	token, exp, err := h.tokens.Issue(auth.Identity{UserID: u.ID, Email: u.Email}, time.Time{})
	if err != nil {
		h.log.Error("api.issue_token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     token,
		ExpiresAt: exp,
		User:      toUserResponse(u),
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	u, err := h.users.Get(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}

// ---- recipients ----

func (h *Handler) handleRecipientCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createRecipientRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	rec, err := h.recipients.Create(r.Context(), recipient.CreateInput{
		OwnerID:      id.UserID,
		LinkedUserID: req.LinkedUserID,
		Email:        req.Email,
		DisplayName:  req.DisplayName,
	})
	if err != nil {
		if errors.Is(err, recipient.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "a linked user or email is required")
			return
		}
		h.log.Error("api.recipient.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, toRecipientResponse(rec))
}

func (h *Handler) handleRecipientList(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	recs, err := h.recipients.List(r.Context(), id.UserID)
	if err != nil {
		h.log.Error("api.recipient.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	out := make([]recipientResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecipientResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRecipientDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	err := h.recipients.Delete(r.Context(), id.UserID, r.PathValue("id"), time.Time{})
	if err != nil {
		if errors.Is(err, recipient.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "recipient not found")
			return
		}
		h.log.Error("api.recipient.delete.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toRecipientResponse(rec recipient.Recipient) recipientResponse {
	return recipientResponse{
		ID:           rec.ID,
		LinkedUserID: rec.LinkedUserID,
		Email:        rec.Email,
		DisplayName:  rec.DisplayName,
		CreatedAt:    rec.CreatedAt,
	}
}

// ---- letters ----

func (h *Handler) handleLetterCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createLetterRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	v, err := h.letters.Create(r.Context(), letter.CreateInput{
		SenderID:           id.UserID,
		RecipientID:        req.RecipientID,
		Body:               req.Body,
		BodyRich:           req.BodyRich,
		IsAnonymous:        req.IsAnonymous,
		RevealDelaySeconds: req.RevealDelaySeconds,
		AttachmentKey:      req.AttachmentKey,
		UnlocksAt:          req.UnlocksAt,
		ExpiresAt:          req.ExpiresAt,
	})
	if err != nil {
		h.writeLetterError(w, err, "api.letter.create.fail")
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) handleLetterGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	v, err := h.letters.Get(r.Context(), letter.GetInput{
		LetterID:    r.PathValue("id"),
		CallerID:    id.UserID,
		CallerEmail: id.Email,
	})
	if err != nil {
		h.writeLetterError(w, err, "api.letter.get.fail")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleLetterOpen(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}

	v, err := h.letters.Open(r.Context(), letter.OpenInput{
		LetterID:    r.PathValue("id"),
		CallerID:    id.UserID,
		CallerEmail: id.Email,
	})
	h.countOpen(err)
	if err != nil {
		h.writeLetterError(w, err, "api.letter.open.fail")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) countOpen(err error) {
	if h.metrics == nil {
		return
	}
	outcome := metrics.OutcomeOpened
	switch {
	case err == nil:
	case errors.Is(err, letter.ErrNotFound):
		outcome = metrics.OutcomeNotFound
	case errors.Is(err, letter.ErrForbidden), errors.Is(err, letter.ErrInvalidRecipient):
		outcome = metrics.OutcomeForbidden
	case errors.Is(err, letter.ErrNotEligible):
		outcome = metrics.OutcomeNotEligible
	case errors.Is(err, letter.ErrNotYetUnlocked):
		outcome = metrics.OutcomeNotYetUnlocked
	default:
		outcome = metrics.OutcomeError
	}
	h.metrics.LetterOpens.WithLabelValues(outcome).Inc()
}

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	views, err := h.letters.ListInbox(r.Context(), id.UserID, id.Email, time.Time{})
	if err != nil {
		h.writeLetterError(w, err, "api.letter.inbox.fail")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleOutbox(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	views, err := h.letters.ListOutbox(r.Context(), id.UserID, time.Time{})
	if err != nil {
		h.writeLetterError(w, err, "api.letter.outbox.fail")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// writeLetterError maps the letter failure taxonomy onto HTTP. Authorization
// denials and broken recipient records intentionally share one response
// body; terminal state and time-gate failures stay distinguishable because
// clients surface them differently ("come back later").
func (h *Handler) writeLetterError(w http.ResponseWriter, err error, logEvent string) {
	switch {
	case errors.Is(err, letter.ErrNotFound), errors.Is(err, recipient.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "letter not found")
	case errors.Is(err, letter.ErrForbidden), errors.Is(err, letter.ErrInvalidRecipient):
		writeError(w, http.StatusForbidden, "forbidden", "only the recipient may open this letter")
	case errors.Is(err, letter.ErrNotEligible):
		writeError(w, http.StatusConflict, "not_eligible", "letter is not eligible to open")
	case errors.Is(err, letter.ErrNotYetUnlocked):
		writeError(w, http.StatusLocked, "not_yet_unlocked", "letter is not unlocked yet")
	case errors.Is(err, letter.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	default:
		h.log.Error(logEvent, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// ---- media ----

func (h *Handler) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.storage == nil {
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "attachment storage not configured")
		return
	}

	key := media.NewAttachmentKey(id.UserID)
	url, err := h.storage.PresignPut(r.Context(), key)
	if err != nil {
		h.log.Error("api.media.presign_put.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, presignResponse{Key: key, URL: url})
}

func (h *Handler) handlePresignDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.storage == nil {
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "attachment storage not configured")
		return
	}

	key := r.PathValue("key")
	owner, valid := media.OwnerOf(key)
	if !valid {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid attachment key")
		return
	}
	// TODO: allow recipients of an opened letter referencing this key, not
	// only the uploader.
	if owner != id.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "not your attachment")
		return
	}

	url, err := h.storage.PresignGet(r.Context(), key)
	if err != nil {
		h.log.Error("api.media.presign_get.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, presignResponse{Key: key, URL: url})
}
