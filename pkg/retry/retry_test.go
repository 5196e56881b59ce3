package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_EventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("permanent")
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("error chain should contain the last error, got %v", err)
	}
	// MaxAttempts retries after the initial attempt
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestRetry_Disabled(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 when retry disabled", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastConfig(), func() error {
		return errors.New("fail")
	})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	val, err := RetryWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("val = %q, want ok", val)
	}
}
