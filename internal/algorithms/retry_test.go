package algorithms

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestRetry(t *testing.T) {
	fast := New(Exponential, time.Millisecond, 5*time.Millisecond, 0)
	isTransient := func(err error) bool { return errors.Is(err, errTransient) }

	tests := []struct {
		name      string
		attempts  int
		failures  int
		fail      error
		wantCalls int
		wantErr   error
	}{
		{"succeeds first time", 3, 0, nil, 1, nil},
		{"succeeds after retries", 3, 2, errTransient, 3, nil},
		{"gives up after attempts", 3, 10, errTransient, 3, errTransient},
		{"stops on permanent error", 5, 10, errors.New("bad request"), 1, nil},
		{"zero attempts still calls once", 0, 0, nil, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), tt.attempts, fast, isTransient, func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.fail
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.failures == 0 && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := New(Exponential, time.Hour, time.Hour, 0)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, 3, slow, nil, func(context.Context) error {
			calls++
			return errTransient
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, errTransient) {
			t.Errorf("error = %v, want last attempt error", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry ignored context cancellation")
	}
}
