package app

import (
	"strings"
	"testing"
	"time"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	base := Config{JWTTTL: time.Hour}

	if err := ValidateSecurityConfig(base); err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("missing secret: err=%v", err)
	}

	short := base
	short.JWTSecret = "too-short"
	if err := ValidateSecurityConfig(short); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("short secret: err=%v", err)
	}

	ok := base
	ok.JWTSecret = strings.Repeat("k", 32)
	if err := ValidateSecurityConfig(ok); err != nil {
		t.Fatalf("valid secret: err=%v", err)
	}
}
