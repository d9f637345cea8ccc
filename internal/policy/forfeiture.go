// Package policy computes refund/forfeiture splits for deposit
// cancellations.  The calculator is a pure function over its inputs and
// holds no state; the automatic decline/expire/release paths always move
// 100% of the deposit, so this package only backs quoting for manual
// cancellation flows.
package policy

import (
    "fmt"
    "math"
    "time"
)

// Tier selects a cancellation policy strictness.
type Tier string

const (
    TierFlexible Tier = "flexible"
    TierModerate Tier = "moderate"
    TierStrict   Tier = "strict"
)

// threshold maps a minimum number of hours before the scheduled date to
// the refund percentage granted when cancelling at least that early.
type threshold struct {
    HoursBefore   float64
    RefundPercent int
}

// Each tier is a descending threshold table.  The scan picks the first
// entry whose HoursBefore the cancellation still clears; the trailing
// zero entry is the default and also covers negative hours (cancelling
// after the scheduled time, i.e. a no-show).
var tiers = map[Tier][]threshold{
    TierFlexible: {
        {HoursBefore: 24, RefundPercent: 100},
        {HoursBefore: 12, RefundPercent: 75},
        {HoursBefore: 0, RefundPercent: 0},
    },
    TierModerate: {
        {HoursBefore: 48, RefundPercent: 100},
        {HoursBefore: 0, RefundPercent: 0},
    },
    TierStrict: {
        {HoursBefore: 72, RefundPercent: 100},
        {HoursBefore: 48, RefundPercent: 50},
        {HoursBefore: 0, RefundPercent: 0},
    },
}

// Breakdown is the result of a forfeiture calculation.  RefundCents and
// ForfeitCents always sum to the deposit.
type Breakdown struct {
    RefundCents   int64  `json:"refund_cents"`
    ForfeitCents  int64  `json:"forfeit_cents"`
    RefundPercent int    `json:"refund_percent"`
    Reason        string `json:"reason"`
}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
    switch Tier(s) {
    case TierFlexible, TierModerate, TierStrict:
        return Tier(s), nil
    }
    return "", fmt.Errorf("unknown policy tier %q", s)
}

// Calculate splits a deposit between refund and forfeiture for a
// cancellation at cancelledAt of a date scheduled for scheduledAt.  Hours
// until the date may be negative; that falls through to the tier's final
// 0% entry.
func Calculate(depositCents int64, scheduledAt, cancelledAt time.Time, tier Tier) Breakdown {
    hoursUntil := scheduledAt.Sub(cancelledAt).Hours()
    table := tiers[tier]
    if table == nil {
        table = tiers[TierModerate]
    }
    entry := table[len(table)-1]
    for _, t := range table {
        if hoursUntil >= t.HoursBefore {
            entry = t
            break
        }
    }
    refund := int64(math.Round(float64(depositCents) * float64(entry.RefundPercent) / 100))
    return Breakdown{
        RefundCents:   refund,
        ForfeitCents:  depositCents - refund,
        RefundPercent: entry.RefundPercent,
        Reason:        reasonFor(entry, hoursUntil),
    }
}

func reasonFor(t threshold, hoursUntil float64) string {
    if hoursUntil < 0 {
        return "cancelled after the scheduled date"
    }
    if t.RefundPercent == 0 {
        return fmt.Sprintf("cancelled %.0f hours before the date; below the refund window", hoursUntil)
    }
    return fmt.Sprintf("cancelled at least %.0f hours before the date", t.HoursBefore)
}
