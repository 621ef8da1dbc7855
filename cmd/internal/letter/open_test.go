package letter

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store *MemoryStore
	svc   *Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, store, discardLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{
		store: store,
		svc:   svc,
		now:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

// seedLetter writes a letter plus its recipient directly into the store so
// tests can place it in any lifecycle state.
func (f *fixture) seedLetter(t *testing.T, l Letter, r RecipientRef) {
	t.Helper()
	f.store.PutRecipient(r)
	if _, err := f.store.Create(context.Background(), CreateRecord{
		ID:                 l.ID,
		SenderID:           l.SenderID,
		RecipientID:        r.ID,
		IsAnonymous:        l.IsAnonymous,
		Body:               l.Body,
		RevealDelaySeconds: l.RevealDelaySeconds,
		Status:             l.Status,
		CreatedAt:          l.CreatedAt,
		UnlocksAt:          l.UnlocksAt,
		ExpiresAt:          l.ExpiresAt,
	}); err != nil {
		t.Fatalf("seed letter: %v", err)
	}
}

func TestOpen_NotYetUnlocked(t *testing.T) {
	// Scenario: sealed letter unlocking in one hour, caller is the linked
	// recipient. Must fail the time gate and write nothing.
	f := newFixture(t)
	f.seedLetter(t, Letter{
		ID: "L1", SenderID: "U1", Body: "soon",
		Status: StatusSealed, CreatedAt: f.now.Add(-time.Hour), UnlocksAt: f.now.Add(time.Hour),
	}, RecipientRef{ID: "R1", OwnerID: "U1", LinkedUserID: ptr("U2")})

	_, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L1", CallerID: "U2", Now: f.now})
	if !errors.Is(err, ErrNotYetUnlocked) {
		t.Fatalf("want ErrNotYetUnlocked, got %v", err)
	}
	if got := f.store.AppliedOpens(); got != 0 {
		t.Fatalf("expected no mutation, got %d", got)
	}
}

func TestOpen_SenderForbidden_RecipientSucceeds(t *testing.T) {
	// Scenario: ready non-anonymous letter from U1 to U2. The author may not
	// open it; the recipient opens it with no reveal scheduling.
	f := newFixture(t)
	f.seedLetter(t, Letter{
		ID: "L2", SenderID: "U1", Body: "hello",
		Status: StatusReady, CreatedAt: f.now.Add(-2 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
	}, RecipientRef{ID: "R2", OwnerID: "U1", LinkedUserID: ptr("U2")})

	_, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L2", CallerID: "U1", Now: f.now})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("sender open: want ErrForbidden, got %v", err)
	}

	v, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L2", CallerID: "U2", Now: f.now})
	if err != nil {
		t.Fatalf("recipient open: %v", err)
	}
	if v.Status != "opened" {
		t.Fatalf("status = %q, want opened", v.Status)
	}
	if v.RevealAt != nil {
		t.Fatalf("reveal_at = %v, want nil for non-anonymous", v.RevealAt)
	}
	if v.OpenedAt == nil || !v.OpenedAt.Equal(f.now) {
		t.Fatalf("opened_at = %v, want %v", v.OpenedAt, f.now)
	}
}

func TestOpen_SelfSend_ClampsRevealDelay(t *testing.T) {
	// Scenario: anonymous self-send with a configured delay far above the
	// 72h cap. The reveal offset must clamp to exactly 259200s.
	f := newFixture(t)
	f.seedLetter(t, Letter{
		ID: "L3", SenderID: "U1", Body: "future me",
		IsAnonymous: true, RevealDelaySeconds: ptr(int64(500000)),
		Status: StatusReady, CreatedAt: f.now.Add(-48 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
	}, RecipientRef{ID: "R3", OwnerID: "U1", LinkedUserID: ptr("U1")})

	v, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L3", CallerID: "U1", Now: f.now})
	if err != nil {
		t.Fatalf("self-send open: %v", err)
	}
	if v.RevealAt == nil || v.OpenedAt == nil {
		t.Fatalf("missing reveal_at/opened_at: %+v", v)
	}
	if got := v.RevealAt.Sub(*v.OpenedAt); got != MaxRevealDelay {
		t.Fatalf("reveal offset = %v, want %v", got, MaxRevealDelay)
	}
}

func TestOpen_IdempotentReplay(t *testing.T) {
	// Scenario: re-opening an opened anonymous letter returns the original
	// opened_at/reveal_at and performs no write.
	f := newFixture(t)
	f.seedLetter(t, Letter{
		ID: "L4", SenderID: "U1", Body: "psst", IsAnonymous: true,
		Status: StatusReady, CreatedAt: f.now.Add(-2 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
	}, RecipientRef{ID: "R4", OwnerID: "U1", LinkedUserID: ptr("U2")})

	first, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L4", CallerID: "U2", Now: f.now})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}

	later := f.now.Add(30 * time.Minute)
	replay, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L4", CallerID: "U2", Now: later})
	if err != nil {
		t.Fatalf("replay open: %v", err)
	}

	if diff := cmp.Diff(first, replay); diff != "" {
		t.Fatalf("replay view differs (-first +replay):\n%s", diff)
	}
	if got := f.store.AppliedOpens(); got != 1 {
		t.Fatalf("applied opens = %d, want 1", got)
	}
}

func TestOpen_InvalidRecipientRecord(t *testing.T) {
	// Scenario: recipient with neither linked user nor email. Surfaces the
	// same way as a denial, regardless of caller.
	f := newFixture(t)
	f.seedLetter(t, Letter{
		ID: "L5", SenderID: "U1", Body: "orphan",
		Status: StatusReady, CreatedAt: f.now.Add(-2 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
	}, RecipientRef{ID: "R5", OwnerID: "U1"})

	for _, caller := range []string{"U2", "U3"} {
		_, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L5", CallerID: caller, Now: f.now})
		if !errors.Is(err, ErrInvalidRecipient) {
			t.Fatalf("caller %s: want ErrInvalidRecipient, got %v", caller, err)
		}
	}
	if got := f.store.AppliedOpens(); got != 0 {
		t.Fatalf("expected no mutation, got %d", got)
	}
}

func TestOpen_EmailRecipient(t *testing.T) {
	f := newFixture(t)
	f.seedLetter(t, Letter{
		ID: "L6", SenderID: "U1", Body: "via email",
		Status: StatusReady, CreatedAt: f.now.Add(-2 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
	}, RecipientRef{ID: "R6", OwnerID: "U1", Email: ptr("Pen.Pal@Example.com")})

	// Comparison is case-insensitive and whitespace-trimmed.
	v, err := f.svc.Open(context.Background(), OpenInput{
		LetterID: "L6", CallerID: "U9", CallerEmail: "  pen.pal@example.com ", Now: f.now,
	})
	if err != nil {
		t.Fatalf("email open: %v", err)
	}
	if v.Status != "opened" {
		t.Fatalf("status = %q, want opened", v.Status)
	}

	f.seedLetter(t, Letter{
		ID: "L7", SenderID: "U1", Body: "wrong email",
		Status: StatusReady, CreatedAt: f.now.Add(-2 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
	}, RecipientRef{ID: "R7", OwnerID: "U1", Email: ptr("pen.pal@example.com")})

	_, err = f.svc.Open(context.Background(), OpenInput{
		LetterID: "L7", CallerID: "U9", CallerEmail: "someone.else@example.com", Now: f.now,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
}

func TestOpen_NotEligibleStates(t *testing.T) {
	f := newFixture(t)
	f.seedLetter(t, Letter{
		ID: "L8", SenderID: "U1", Body: "gone",
		Status: StatusExpired, CreatedAt: f.now.Add(-100 * time.Hour), UnlocksAt: f.now.Add(-99 * time.Hour),
	}, RecipientRef{ID: "R8", OwnerID: "U1", LinkedUserID: ptr("U2")})

	_, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L8", CallerID: "U2", Now: f.now})
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("want ErrNotEligible, got %v", err)
	}
}

func TestOpen_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Open(context.Background(), OpenInput{LetterID: "missing", CallerID: "U2", Now: f.now})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestOpen_AtMostOnceUnderConcurrency(t *testing.T) {
	// N concurrent opens by the authorized recipient: exactly one mutation,
	// every call returns the identical resulting view.
	f := newFixture(t)
	f.seedLetter(t, Letter{
		ID: "L9", SenderID: "U1", Body: "race me", IsAnonymous: true,
		Status: StatusReady, CreatedAt: f.now.Add(-2 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
	}, RecipientRef{ID: "R9", OwnerID: "U1", LinkedUserID: ptr("U2")})

	const n = 32
	views := make([]View, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			views[i], errs[i] = f.svc.Open(context.Background(), OpenInput{
				LetterID: "L9", CallerID: "U2", Now: f.now,
			})
		}()
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if diff := cmp.Diff(views[0], views[i]); diff != "" {
			t.Fatalf("call %d returned a different view:\n%s", i, diff)
		}
	}
	if got := f.store.AppliedOpens(); got != 1 {
		t.Fatalf("applied opens = %d, want 1", got)
	}
}

func TestOpen_RevealDelayClampBounds(t *testing.T) {
	cases := []struct {
		name  string
		delay *int64
		want  time.Duration
	}{
		{"default when unset", nil, DefaultRevealDelay},
		{"zero is allowed", ptr(int64(0)), 0},
		{"negative clamps to zero", ptr(int64(-100)), 0},
		{"within range passes through", ptr(int64(3600)), time.Hour},
		{"max is inclusive", ptr(int64(259200)), MaxRevealDelay},
		{"above max clamps", ptr(int64(10_000_000)), MaxRevealDelay},
		{"beyond duration range clamps", ptr(int64(10_000_000_000)), MaxRevealDelay},
		{"max int64 clamps", ptr(int64(math.MaxInt64)), MaxRevealDelay},
		{"min int64 clamps to zero", ptr(int64(math.MinInt64)), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			id := "LC" + tc.name
			f.seedLetter(t, Letter{
				ID: id, SenderID: "U1", Body: "clamped", IsAnonymous: true,
				RevealDelaySeconds: tc.delay,
				Status:             StatusReady, CreatedAt: f.now.Add(-2 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
			}, RecipientRef{ID: "RC" + tc.name, OwnerID: "U1", LinkedUserID: ptr("U2")})

			v, err := f.svc.Open(context.Background(), OpenInput{LetterID: id, CallerID: "U2", Now: f.now})
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if v.RevealAt == nil {
				t.Fatalf("reveal_at missing")
			}
			if got := v.RevealAt.Sub(f.now); got != tc.want {
				t.Fatalf("reveal offset = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOpen_AnonymousViewHidesSender(t *testing.T) {
	f := newFixture(t)
	f.store.PutProfile("U1", ptr("Avery"), ptr("https://cdn.example/avery.png"))
	f.seedLetter(t, Letter{
		ID: "L10", SenderID: "U1", Body: "guess who", IsAnonymous: true,
		Status: StatusReady, CreatedAt: f.now.Add(-2 * time.Hour), UnlocksAt: f.now.Add(-time.Hour),
	}, RecipientRef{ID: "R10", OwnerID: "U1", LinkedUserID: ptr("U2")})

	v, err := f.svc.Open(context.Background(), OpenInput{LetterID: "L10", CallerID: "U2", Now: f.now})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v.SenderID != "" {
		t.Fatalf("sender_id leaked before reveal: %q", v.SenderID)
	}
	if v.SenderName == nil || *v.SenderName != AnonymousSenderName {
		t.Fatalf("sender_name = %v, want %q", v.SenderName, AnonymousSenderName)
	}
	if v.SenderAvatarURL != nil {
		t.Fatalf("avatar leaked before reveal")
	}

	// After the reveal time passes, a read shows the sender.
	after := v.RevealAt.Add(time.Minute)
	got, err := f.svc.Get(context.Background(), GetInput{LetterID: "L10", CallerID: "U2", Now: after})
	if err != nil {
		t.Fatalf("get after reveal: %v", err)
	}
	if got.SenderID != "U1" || got.SenderName == nil || *got.SenderName != "Avery" {
		t.Fatalf("sender not revealed: %+v", got)
	}
}

func TestStatus_RoundTrip(t *testing.T) {
	for _, s := range []Status{StatusSealed, StatusReady, StatusOpened, StatusExpired} {
		parsed, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", s, err)
		}
		if parsed != s {
			t.Fatalf("round trip %q -> %q", s, parsed)
		}
	}
	if _, err := ParseStatus("OPENED"); err == nil {
		t.Fatalf("expected case-sensitive rejection")
	}
	if _, err := ParseStatus("draft"); err == nil {
		t.Fatalf("expected unknown status rejection")
	}
}
