package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	// Shrink hashing cost so the suite stays fast.
	svc, err := NewService(NewMemoryStore(), nil,
		WithParams(Argon2idParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: " Avery@Example.com ", Password: "correct horse battery"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "avery@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.PasswordHash != "" {
		t.Fatalf("hash leaked from Register")
	}

	got, err := svc.Authenticate(ctx, "avery@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("authenticated wrong user")
	}

	if _, err := svc.Authenticate(ctx, "avery@example.com", "wrong password!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "whatever12"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: want ErrInvalidCredentials, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Email: "no-at-sign", Password: "long enough pw"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad email: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "a@b.co", Password: "short"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password: %v", err)
	}

	if _, err := svc.Register(ctx, RegisterInput{Email: "a@b.co", Password: "long enough pw"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "A@B.CO", Password: "long enough pw"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate email: want ErrEmailTaken, got %v", err)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	params := Argon2idParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	hash, err := HashPassword("s3cret-enough", params)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}

	ok, err := VerifyPassword("s3cret-enough", hash)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("different", hash)
	if err != nil || ok {
		t.Fatalf("mismatch verify: ok=%v err=%v", ok, err)
	}
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	for _, h := range []string{
		"",
		"plainly-not-a-hash",
		"$argon2i$v=19$m=8,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=8,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=0,p=0$c2FsdA$a2V5",
		"$argon2id$v=19$m=8,t=1,p=1$!!$a2V5",
	} {
		if _, err := VerifyPassword("pw", h); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("hash %q: want ErrInvalidHash, got %v", h, err)
		}
	}
}
