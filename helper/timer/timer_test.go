package timer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunWithTickerStopsOnError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := RunWithTicker(context.Background(), &Interval{Duration: time.Millisecond}, func(context.Context) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || calls != 3 {
		t.Fatalf("expected 3 calls and the function's error, got %d calls, %v", calls, err)
	}
}

func TestRunWithTickerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunWithTicker(ctx, &Interval{Duration: time.Hour, Jitter: time.Minute}, func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunWithTickerRejectsBadInterval(t *testing.T) {
	err := RunWithTicker(context.Background(), &Interval{Duration: time.Second, Jitter: time.Second}, nil)
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}
