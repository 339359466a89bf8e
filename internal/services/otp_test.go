package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOTPIssueAndVerify(t *testing.T) {
	_, client := newTestRedis(t)
	svc := NewOTPService(client)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "alice@x.com", PurposeEmail, 10*time.Minute, "Alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if len(code) != otpCodeDigits {
		t.Fatalf("expected %d-digit code, got %q", otpCodeDigits, code)
	}

	payload, err := svc.Verify(ctx, "alice@x.com", PurposeEmail, code)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if payload != "Alice" {
		t.Fatalf("expected payload %q, got %q", "Alice", payload)
	}

	// Single use: the record is consumed on success.
	if _, err := svc.Verify(ctx, "alice@x.com", PurposeEmail, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after consumption, got %v", err)
	}
}

func TestOTPVerifyMismatch(t *testing.T) {
	_, client := newTestRedis(t)
	svc := NewOTPService(client)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "bob@x.com", PurposeLogin, 10*time.Minute, "")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if _, err := svc.Verify(ctx, "bob@x.com", PurposeLogin, wrong); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}

	// A mismatch does not consume the record.
	if _, err := svc.Verify(ctx, "bob@x.com", PurposeLogin, code); err != nil {
		t.Fatalf("verify with correct code after mismatch failed: %v", err)
	}
}

func TestOTPVerifyUnknownSubject(t *testing.T) {
	_, client := newTestRedis(t)
	svc := NewOTPService(client)

	if _, err := svc.Verify(context.Background(), "nobody@x.com", PurposeEmail, "123456"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOTPExpiryIsStrict(t *testing.T) {
	_, client := newTestRedis(t)
	svc := NewOTPService(client)
	ctx := context.Background()

	// miniredis only expires keys on FastForward, so the record outlives
	// its embedded expiry and exercises the strict epoch check.
	code, err := svc.Issue(ctx, "carol@x.com", PurposeEmail, time.Millisecond, "")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := svc.Verify(ctx, "carol@x.com", PurposeEmail, code); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}

	// Expired means consumed.
	if _, err := svc.Verify(ctx, "carol@x.com", PurposeEmail, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry consumption, got %v", err)
	}
}

func TestOTPExpiryAtStoreLevel(t *testing.T) {
	m, client := newTestRedis(t)
	svc := NewOTPService(client)
	ctx := context.Background()

	code, err := svc.Issue(ctx, "dave@x.com", PurposeMobile, time.Minute, "")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	m.FastForward(2 * time.Minute)

	if _, err := svc.Verify(ctx, "dave@x.com", PurposeMobile, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after store TTL, got %v", err)
	}
}

func TestOTPReissueReplacesPriorCode(t *testing.T) {
	_, client := newTestRedis(t)
	svc := NewOTPService(client)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "erin@x.com", PurposeEmail, 10*time.Minute, "")
	if err != nil {
		t.Fatalf("first issue failed: %v", err)
	}

	var second string
	for i := 0; i < 20; i++ {
		second, err = svc.Issue(ctx, "erin@x.com", PurposeEmail, 10*time.Minute, "")
		if err != nil {
			t.Fatalf("second issue failed: %v", err)
		}
		if second != first {
			break
		}
	}
	if second == first {
		t.Fatal("could not obtain a distinct replacement code")
	}

	if _, err := svc.Verify(ctx, "erin@x.com", PurposeEmail, first); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch for replaced code, got %v", err)
	}

	if _, err := svc.Verify(ctx, "erin@x.com", PurposeEmail, second); err != nil {
		t.Fatalf("verify with current code failed: %v", err)
	}
}

func TestGenerateNumericCodeWidth(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateNumericCode(otpCodeDigits)
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if len(code) != otpCodeDigits {
			t.Fatalf("expected fixed width %d, got %q", otpCodeDigits, code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("expected numeric code, got %q", code)
			}
		}
	}
}
