package feed

import (
	"context"
	"time"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

// gapGuard enforces feed liveness on top of another feed.
type gapGuard struct {
	inner  Feed
	maxGap time.Duration
}

// WithGapDetection wraps f so that a silence longer than maxGap ends the
// stream with ErrFeedGap and an unexpected end of f surfaces as
// ErrFeedTerminated. A non-positive maxGap disables the gap check.
func WithGapDetection(f Feed, maxGap time.Duration) Feed {
	return &gapGuard{inner: f, maxGap: maxGap}
}

func (g *gapGuard) Stream(ctx context.Context) (<-chan models.Bar, <-chan error) {
	out := make(chan models.Bar)
	errs := make(chan error, 1)

	innerCtx, cancel := context.WithCancel(ctx)
	bars, innerErrs := g.inner.Stream(innerCtx)

	go func() {
		defer close(out)
		defer cancel()

		var timer *time.Timer
		var timeout <-chan time.Time
		if g.maxGap > 0 {
			timer = time.NewTimer(g.maxGap)
			defer timer.Stop()
			timeout = timer.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-innerErrs:
				if !ok {
					innerErrs = nil
					continue
				}
				sendErr(errs, err)
				return
			case <-timeout:
				sendErr(errs, apperrors.Wrapf(apperrors.ErrFeedGap, "no bar for %s", g.maxGap))
				return
			case bar, ok := <-bars:
				if !ok {
					// Prefer the inner feed's own error when it has one.
					select {
					case err, ok := <-innerErrs:
						if ok && err != nil {
							sendErr(errs, err)
							return
						}
					default:
					}
					sendErr(errs, apperrors.ErrFeedTerminated)
					return
				}
				// the gap clock is paused while the consumer is busy
				if timer != nil {
					stopTimer(timer)
				}
				select {
				case out <- bar:
				case <-ctx.Done():
					return
				}
				if timer != nil {
					timer.Reset(g.maxGap)
				}
			}
		}
	}()

	return out, errs
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
