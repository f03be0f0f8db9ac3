package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Attempts: attempts, Initial: time.Millisecond, Max: 5 * time.Millisecond}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	got, err := Retry(context.Background(), fastBackoff(3), "ocr", func(_ context.Context) (string, error) {
		calls++
		return "text", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "text" || calls != 1 {
		t.Errorf("got %q after %d calls, want %q after 1", got, calls, "text")
	}
}

func TestRetry_SuccessAfterTransient(t *testing.T) {
	var calls int
	got, err := Retry(context.Background(), fastBackoff(3), "ocr", func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &StatusError{Service: "ocr", StatusCode: 503}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls", got, calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var calls int
	_, err := Retry(context.Background(), fastBackoff(3), "ocr", func(_ context.Context) (int, error) {
		calls++
		return 0, &StatusError{Service: "ocr", StatusCode: 500}
	})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Fatalf("expected the last StatusError, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	_, err := Retry(context.Background(), fastBackoff(5), "ocr", func(_ context.Context) (int, error) {
		calls++
		return 0, &StatusError{Service: "ocr", StatusCode: 422, Body: "unreadable document"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	b := Backoff{Attempts: 5, Initial: time.Hour, Max: time.Hour}

	_, err := Retry(ctx, b, "ocr", func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, &StatusError{Service: "ocr", StatusCode: 503}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{StatusCode: 429}, true},
		{"408", &StatusError{StatusCode: 408}, true},
		{"502", &StatusError{StatusCode: 502}, true},
		{"400", &StatusError{StatusCode: 400}, false},
		{"wrapped 503", fmt.Errorf("ocr: %w", &StatusError{StatusCode: 503}), true},
		{"conn reset", fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		{"plain", errors.New("bad pdf"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoff_DelayCapped(t *testing.T) {
	b := Backoff{Attempts: 10, Initial: 100 * time.Millisecond, Max: time.Second}
	if d := b.delay(0); d != 100*time.Millisecond {
		t.Errorf("delay(0) = %v", d)
	}
	if d := b.delay(2); d != 400*time.Millisecond {
		t.Errorf("delay(2) = %v", d)
	}
	if d := b.delay(8); d != time.Second {
		t.Errorf("delay(8) = %v, want cap", d)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := Backoff{Jitter: -1}.withDefaults()
	if b.Attempts != 3 || b.Initial != 500*time.Millisecond || b.Max != 30*time.Second || b.Jitter != 0 {
		t.Errorf("unexpected defaults: %+v", b)
	}
}
