// Package sweeper runs the scheduled batch passes over date requests:
// auto-declining expired pending requests and releasing deposits for
// mutually confirmed dates.  Both passes are safe to re-run on
// overlapping schedules because the engine's terminal-state guards turn a
// second attempt into a counted error instead of a double mutation.
package sweeper

import (
    "context"
    "errors"
    "log"
    "time"

    "github.com/datesafe/datesafe-server/internal/engine"
)

// Summary aggregates the outcome of one sweep pass.  A failure on one
// record never aborts the batch; it is counted here instead.
type Summary struct {
    Processed        int `json:"processed"`
    Failed           int `json:"failed"`
    RefundsProcessed int `json:"refunds_processed"`
    RefundsFailed    int `json:"refunds_failed"`
}

// Sweeper iterates batches of sweepable requests through the engine.
type Sweeper struct {
    store  engine.RequestStore
    engine *engine.Engine
    now    func() time.Time
}

// New constructs a Sweeper over the given store and engine.
func New(store engine.RequestStore, eng *engine.Engine) *Sweeper {
    if store == nil || eng == nil {
        panic("nil dependency passed to sweeper.New")
    }
    return &Sweeper{store: store, engine: eng, now: func() time.Time { return time.Now().UTC() }}
}

// RunExpirySweep declines every pending request whose approval window has
// lapsed and attempts the corresponding refunds.  Records are processed
// sequentially; each gets its own error isolation.
func (s *Sweeper) RunExpirySweep(ctx context.Context) (Summary, error) {
    var sum Summary
    expired, err := s.store.ExpiredPending(ctx, s.now())
    if err != nil {
        return sum, err
    }
    for _, req := range expired {
        res, err := s.engine.SweepExpire(ctx, req.ID)
        if err != nil {
            sum.Failed++
            log.Printf("sweeper: expire request %d failed: %v", req.ID, err)
            continue
        }
        sum.Processed++
        if res.RefundAttempted {
            if res.Refunded {
                sum.RefundsProcessed++
            } else {
                sum.RefundsFailed++
            }
        }
    }
    if sum.Processed > 0 || sum.Failed > 0 {
        log.Printf("sweeper: expiry sweep processed=%d failed=%d refunds=%d refund_failures=%d",
            sum.Processed, sum.Failed, sum.RefundsProcessed, sum.RefundsFailed)
    }
    return sum, nil
}

// RunReleaseSweep releases the deposit for every approved, mutually
// confirmed request still holding funds.  A record that a concurrent
// manual release already finalized counts as failed, not as a second
// release; the engine guarantees the gateway is never called twice.
func (s *Sweeper) RunReleaseSweep(ctx context.Context) (Summary, error) {
    var sum Summary
    releasable, err := s.store.ConfirmedHeld(ctx)
    if err != nil {
        return sum, err
    }
    for _, req := range releasable {
        if _, err := s.engine.ReleaseDeposit(ctx, req.ID, nil); err != nil {
            sum.Failed++
            var gwErr *engine.PaymentGatewayError
            if errors.As(err, &gwErr) {
                sum.RefundsFailed++
            }
            log.Printf("sweeper: release request %d failed: %v", req.ID, err)
            continue
        }
        sum.Processed++
        sum.RefundsProcessed++
    }
    if sum.Processed > 0 || sum.Failed > 0 {
        log.Printf("sweeper: release sweep processed=%d failed=%d refunds=%d refund_failures=%d",
            sum.Processed, sum.Failed, sum.RefundsProcessed, sum.RefundsFailed)
    }
    return sum, nil
}

// Run starts both sweeps on their intervals and blocks until the context
// is cancelled.  The cron HTTP endpoints call the same Run*Sweep methods,
// so the scheduling transport stays swappable.
func (s *Sweeper) Run(ctx context.Context, expireEvery, releaseEvery time.Duration) {
    expireTick := time.NewTicker(expireEvery)
    releaseTick := time.NewTicker(releaseEvery)
    defer expireTick.Stop()
    defer releaseTick.Stop()
    log.Printf("sweeper: running (expiry every %s, release every %s)", expireEvery, releaseEvery)
    for {
        select {
        case <-ctx.Done():
            log.Printf("sweeper: stopped: %v", ctx.Err())
            return
        case <-expireTick.C:
            if _, err := s.RunExpirySweep(ctx); err != nil {
                log.Printf("sweeper: expiry sweep failed: %v", err)
            }
        case <-releaseTick.C:
            if _, err := s.RunReleaseSweep(ctx); err != nil {
                log.Printf("sweeper: release sweep failed: %v", err)
            }
        }
    }
}
