package providers

import (
	"context"
	"errors"
	"time"

	"github.com/cloudspend/costreport/internal/config"
)

// ErrRateLimited marks a provider call that was throttled (HTTP 429) and
// still throttled after the single retry. It is fatal for that dimension
// only; the pull loop moves on to the next one.
var ErrRateLimited = errors.New("provider rate limited")

// Pacer sequences provider calls against vendor rate limits: a short sleep
// between calls and a longer one after every few calls. There is no
// concurrency to coordinate, only politeness.
type Pacer struct {
	short           time.Duration
	long            time.Duration
	callsBeforeLong int
	calls           int

	sleep func(context.Context, time.Duration) error
}

// NewPacer builds a Pacer from throttle settings.
func NewPacer(cfg config.ThrottleConfig) *Pacer {
	return &Pacer{
		short:           cfg.Short,
		long:            cfg.Long,
		callsBeforeLong: cfg.CallsBeforeLong,
		sleep:           sleepCtx,
	}
}

// Wait blocks for the appropriate delay before the next call. The first
// call goes through immediately.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.calls == 0 {
		p.calls++
		return nil
	}
	d := p.short
	if p.callsBeforeLong > 0 && p.calls%p.callsBeforeLong == 0 {
		d = p.long
	}
	p.calls++
	return p.sleep(ctx, d)
}

// FetchWithRetry runs fn, and on a rate-limit error retries exactly once
// after the given delay. Any second failure propagates to the caller.
func FetchWithRetry(ctx context.Context, delay time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	raw, err := fn(ctx)
	if err == nil || !errors.Is(err, ErrRateLimited) {
		return raw, err
	}
	if serr := sleepCtx(ctx, delay); serr != nil {
		return nil, serr
	}
	return fn(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
