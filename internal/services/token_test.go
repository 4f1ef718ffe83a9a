package services

import (
	"strings"
	"testing"
	"time"

	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTokenService(t *testing.T, expiration time.Duration) TokenService {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	ts, err := NewTokenService(log, testSecret, expiration)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestTokenServiceRejectsShortSecret(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if _, err := NewTokenService(log, "tooshort", time.Hour); err == nil {
		t.Fatalf("NewTokenService: expected error for short secret")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	ts := newTokenService(t, time.Hour)

	tok, err := ts.Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	subject, err := ts.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("Verify: expected subject alice, got %q", subject)
	}

	if !ts.IsValid(tok, "alice") {
		t.Fatalf("IsValid: expected true for owner")
	}
	if ts.IsValid(tok, "bob") {
		t.Fatalf("IsValid: expected false for other subject")
	}
}

func TestTokenVerifyRejectsTampered(t *testing.T) {
	ts := newTokenService(t, time.Hour)

	tok, err := ts.Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + ".AAAA"

	if _, err := ts.Verify(tampered); err == nil {
		t.Fatalf("Verify: expected error for tampered signature")
	} else if !apierr.IsKind(err, apierr.KindUnauthorized) {
		t.Fatalf("Verify: expected unauthorized kind, got %v", err)
	}
}

func TestTokenVerifyRejectsExpired(t *testing.T) {
	ts := newTokenService(t, time.Millisecond)

	tok, err := ts.Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := ts.Verify(tok); err == nil {
		t.Fatalf("Verify: expected error for expired token")
	}
}

func TestCodeGeneratorShape(t *testing.T) {
	gen := NewCodeGenerator()
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		code, err := gen.NewCode()
		if err != nil {
			t.Fatalf("NewCode: %v", err)
		}
		// 32 bytes, unpadded URL-safe base64.
		if len(code) != 43 {
			t.Fatalf("NewCode: expected 43 chars, got %d (%q)", len(code), code)
		}
		if strings.ContainsAny(code, "+/=") {
			t.Fatalf("NewCode: expected URL-safe alphabet, got %q", code)
		}
		if seen[code] {
			t.Fatalf("NewCode: duplicate code %q", code)
		}
		seen[code] = true
	}
}
