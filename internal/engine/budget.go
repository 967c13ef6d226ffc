package engine

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	// sessionCostTTL keeps the per-day counter a little over a day.
	sessionCostTTL = 90000 * time.Second

	defaultRenewalDays = 30

	gracefulPercent = 90
	runawayPercent  = 110
)

// ModelRate is the price of a model in micro-dollars per million tokens.
type ModelRate struct {
	InputPerMillion  int64
	OutputPerMillion int64
}

// DefaultModelRate applies to models missing from the rate table.
var DefaultModelRate = ModelRate{InputPerMillion: 3_000_000, OutputPerMillion: 15_000_000}

// DefaultModelRates prices the models the providers are configured with.
var DefaultModelRates = map[string]ModelRate{
	"claude-opus-4-20250514":     {InputPerMillion: 15_000_000, OutputPerMillion: 75_000_000},
	"claude-opus-4-1-20250805":   {InputPerMillion: 15_000_000, OutputPerMillion: 75_000_000},
	"claude-sonnet-4-20250514":   {InputPerMillion: 3_000_000, OutputPerMillion: 15_000_000},
	"claude-sonnet-4-5-20250929": {InputPerMillion: 3_000_000, OutputPerMillion: 15_000_000},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 800_000, OutputPerMillion: 4_000_000},
	"gpt-4o":                     {InputPerMillion: 2_500_000, OutputPerMillion: 10_000_000},
	"gpt-4o-mini":                {InputPerMillion: 150_000, OutputPerMillion: 600_000},
}

// BudgetTracker converts token usage to spend and enforces the daily
// allowance. The external CostStore is authoritative for session spend.
type BudgetTracker struct {
	store  CostStore
	subs   SubscriptionSource
	rates  map[string]ModelRate
	now    func() time.Time
	logger *log.Logger
}

// NewBudgetTracker creates a tracker over the given stores. subs may be nil,
// which yields a zero daily budget.
func NewBudgetTracker(store CostStore, subs SubscriptionSource) *BudgetTracker {
	return &BudgetTracker{
		store:  store,
		subs:   subs,
		rates:  DefaultModelRates,
		now:    time.Now,
		logger: log.Default(),
	}
}

// WithRates overrides the model rate table.
func (b *BudgetTracker) WithRates(rates map[string]ModelRate) *BudgetTracker {
	b.rates = rates
	return b
}

// CallCost prices one model call in micro-dollars, rounded to the nearest
// micro-dollar.
func (b *BudgetTracker) CallCost(model string, inputTokens, outputTokens int) int64 {
	rate, ok := b.rates[model]
	if !ok {
		rate = DefaultModelRate
	}
	scaled := int64(inputTokens)*rate.InputPerMillion + int64(outputTokens)*rate.OutputPerMillion
	return (scaled + 500_000) / 1_000_000
}

// CostKey is the store key for one (user, session, UTC day).
func (b *BudgetTracker) CostKey(sessionID, userID string) string {
	return fmt.Sprintf("cofounder:cost:%s:%s:%s", userID, sessionID, b.now().UTC().Format("2006-01-02"))
}

// CalcDailyBudget spreads the remaining subscription budget over the days
// left until renewal (30 when the renewal date is unknown).
func (b *BudgetTracker) CalcDailyBudget(ctx context.Context, userID string) (int64, error) {
	if b.subs == nil {
		return 0, nil
	}
	sub, err := b.subs.Subscription(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load subscription for %s: %w", userID, err)
	}
	return DailyBudget(sub, b.now()), nil
}

// DailyBudget is remaining / max(1, days until renewal).
func DailyBudget(sub Subscription, now time.Time) int64 {
	if sub.RemainingMicros <= 0 {
		return 0
	}
	days := defaultRenewalDays
	if !sub.RenewalDate.IsZero() {
		days = int(sub.RenewalDate.Sub(now).Hours() / 24)
	}
	if days < 1 {
		days = 1
	}
	return sub.RemainingMicros / int64(days)
}

// RecordCallCost adds one call's cost to the session counter and returns
// the new cumulative cost. Store failures are logged and yield 0.
func (b *BudgetTracker) RecordCallCost(ctx context.Context, sessionID, userID, model string, inputTokens, outputTokens int) int64 {
	cost := b.CallCost(model, inputTokens, outputTokens)
	key := b.CostKey(sessionID, userID)
	total, err := b.store.IncrBy(ctx, key, cost)
	if err != nil {
		b.logger.Printf("⚠️  failed to record call cost for session %s: %v", sessionID, err)
		return 0
	}
	if err := b.store.Expire(ctx, key, sessionCostTTL); err != nil {
		b.logger.Printf("⚠️  failed to set cost expiry for session %s: %v", sessionID, err)
	}
	return total
}

// SessionCost reads the cumulative cost for today.
func (b *BudgetTracker) SessionCost(ctx context.Context, sessionID, userID string) (int64, error) {
	return b.store.Get(ctx, b.CostKey(sessionID, userID))
}

// ResetSessionCost clears today's counter.
func (b *BudgetTracker) ResetSessionCost(ctx context.Context, sessionID, userID string) error {
	return b.store.Del(ctx, b.CostKey(sessionID, userID))
}

// BudgetPercentage returns today's spend as a fraction of the daily budget,
// so 0.5 is half of it.
func (b *BudgetTracker) BudgetPercentage(ctx context.Context, sessionID, userID string, dailyBudget int64) float64 {
	if dailyBudget == 0 {
		return 0
	}
	cost, err := b.SessionCost(ctx, sessionID, userID)
	if err != nil {
		b.logger.Printf("⚠️  failed to read session cost for %s: %v", sessionID, err)
		return 0
	}
	return float64(cost) / float64(dailyBudget)
}

// CheckRunaway fails when today's session cost is above 110% of the daily
// budget. Exactly 110% passes.
func (b *BudgetTracker) CheckRunaway(ctx context.Context, sessionID, userID string, dailyBudget int64) error {
	cost, err := b.SessionCost(ctx, sessionID, userID)
	if err != nil {
		b.logger.Printf("⚠️  failed to read session cost for %s: %v", sessionID, err)
		return nil
	}
	if IsRunaway(cost, dailyBudget) {
		return &BudgetExceededError{SessionCost: cost, DailyBudget: dailyBudget}
	}
	return nil
}

// IsRunaway is cost > 110% of budget in integer arithmetic.
func IsRunaway(cost, dailyBudget int64) bool {
	return cost*100 > dailyBudget*runawayPercent
}

// IsAtGracefulThreshold is cost >= 90% of budget; (0, 0) is not.
func IsAtGracefulThreshold(cost, dailyBudget int64) bool {
	if cost == 0 && dailyBudget == 0 {
		return false
	}
	return cost*100 >= dailyBudget*gracefulPercent
}

// NextUTCMidnight is when a sleeping session should wake.
func NextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
