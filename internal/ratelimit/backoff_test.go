package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestBackoff(retries int) (*Backoff, *[]time.Duration) {
	b := NewBackoff(&BackoffConfig{
		InitialDelay:         100 * time.Millisecond,
		MaxDelay:             time.Second,
		Multiplier:           2,
		MaxRetries:           retries,
		RetryableStatusCodes: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
		RespectRetryAfter:    true,
	}, zap.NewNop())
	var slept []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return b, &slept
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	b, slept := newTestBackoff(3)
	calls := 0
	got, err := Do(context.Background(), b, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &RetryableError{Err: errors.New("busy"), StatusCode: http.StatusServiceUnavailable}
		}
		return "SM123", nil
	})
	if err != nil || got != "SM123" {
		t.Fatalf("Do() = %q, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("delays = %v, want %v", *slept, want)
	}
	if s := b.Stats(); s.SuccessfulRetries != 1 || s.TotalRetries != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestDo_NonRetryableStatus(t *testing.T) {
	b, slept := newTestBackoff(3)
	calls := 0
	_, err := Do(context.Background(), b, func(context.Context) (int, error) {
		calls++
		return 0, &RetryableError{Err: errors.New("invalid To"), StatusCode: http.StatusBadRequest}
	})
	if !errors.Is(err, ErrNotRetryable) {
		t.Errorf("err = %v, want ErrNotRetryable", err)
	}
	if calls != 1 || len(*slept) != 0 {
		t.Errorf("calls = %d, sleeps = %d", calls, len(*slept))
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	b, _ := newTestBackoff(2)
	calls := 0
	_, err := Do(context.Background(), b, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("connection reset")
	})
	if !errors.Is(err, ErrMaxRetriesExhausted) {
		t.Errorf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_RespectsRetryAfterCappedAtMax(t *testing.T) {
	b, slept := newTestBackoff(1)
	calls := 0
	_, _ = Do(context.Background(), b, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &RetryableError{Err: errors.New("slow down"), StatusCode: http.StatusTooManyRequests, RetryAfter: 10 * time.Second}
		}
		return 1, nil
	})
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("delays = %v, want [1s]", *slept)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	b, _ := newTestBackoff(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, b, func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestLimiter_DisabledDoesNotWait(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 10; i++ {
		if _, err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
}

func TestLimiter_BurstThenCancel(t *testing.T) {
	l := NewLimiter(0.001, 1)
	if _, err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Wait(ctx); err == nil {
		t.Error("second Wait() should fail once the burst is spent")
	}
}
