package timer

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrInvalidInterval = errors.New("invalid interval")

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

// next returns Duration shifted by a uniform random offset in [-Jitter, Jitter).
func (i *Interval) next() time.Duration {
	if i.Jitter == 0 {
		return i.Duration
	}
	return i.Duration + time.Duration(rand.Int63n(int64(2*i.Jitter))) - i.Jitter
}

func (i *Interval) validate() error {
	if i.Duration <= 0 || i.Jitter < 0 || i.Jitter >= i.Duration {
		return ErrInvalidInterval
	}
	return nil
}

// Runs the provided function periodically with a given duration. Exits when a context is cancelled or when f() returns an error.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	if err := interval.validate(); err != nil {
		return err
	}
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	t := time.NewTimer(interval.next())
	defer t.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-t.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
				return err
			}
			t.Reset(interval.next())
		}
	}
}
