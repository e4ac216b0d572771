// Package ratelimit implements C1, the sole authority over an account's
// three independent daily quotas. Workers check before each batch and
// increment after a confirmed send; the 24-hour reset is opportunistic,
// applied lazily inside the next Check call for that counter.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"outreach-engine/internal/metrics"
	"outreach-engine/internal/models"
	"outreach-engine/internal/repository"
)

// Result is the outcome of a Check call.
type Result struct {
	CanProceed bool
	Remaining  int
	Limit      int
	Used       int
	ResetsAt   time.Time
}

type Manager struct {
	accounts *repository.LinkedInAccountRepository
	defaults models.WorkflowLimits
}

func NewManager(accounts *repository.LinkedInAccountRepository, defaults models.WorkflowLimits) *Manager {
	return &Manager{accounts: accounts, defaults: defaults}
}

// Check resets the counter if 24h have elapsed since lastReset, then
// reports canProceed/remaining against the account's configured (or
// default) limit for kind. It never mutates used beyond the reset.
func (m *Manager) Check(ctx context.Context, accountID string, kind models.RateLimitKind) (Result, error) {
	used, limit, err := m.accounts.CheckAndReset(ctx, accountID, kind)
	if err != nil {
		return Result{}, err
	}
	if limit <= 0 {
		limit = m.defaultFor(kind)
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	canProceed := remaining > 0

	metrics.RateLimitChecks.WithLabelValues(string(kind), strconv.FormatBool(canProceed)).Inc()

	return Result{
		CanProceed: canProceed,
		Remaining:  remaining,
		Limit:      limit,
		Used:       used,
		ResetsAt:   nextReset(ctx, m, accountID, kind),
	}, nil
}

// Increment atomically advances used[kind] by n. It does not check or
// reset the limit; callers gate with Check first.
func (m *Manager) Increment(ctx context.Context, accountID string, kind models.RateLimitKind, n int) error {
	return m.accounts.Increment(ctx, accountID, kind, n)
}

// Reset forces an immediate counter reset, independent of the 24h clock —
// used by admin tooling and tests, not by the ordinary job lifecycle.
func (m *Manager) Reset(ctx context.Context, accountID string, kind models.RateLimitKind) error {
	return m.accounts.ResetCounter(ctx, accountID, kind)
}

func (m *Manager) defaultFor(kind models.RateLimitKind) int {
	switch kind {
	case models.RateLimitInvite:
		return m.defaults.Invite
	case models.RateLimitConnectionCheck:
		return m.defaults.ConnectionCheck
	case models.RateLimitMessage:
		return m.defaults.Message
	default:
		return 0
	}
}

// nextReset re-reads the account to report when the 24h window closes.
// Check already performed any due reset, so this merely surfaces the
// (possibly just-updated) lastReset + 24h for the caller's quota-exhausted
// message.
func nextReset(ctx context.Context, m *Manager, accountID string, kind models.RateLimitKind) time.Time {
	account, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return time.Time{}
	}
	return account.LastReset(kind).Add(24 * time.Hour)
}
