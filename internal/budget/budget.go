// Package budget enforces per-user and global spending limits with
// daily/weekly/monthly reset windows. Money is decimal end to end;
// floating point appears only at the display edge.
package budget

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
)

// Enforcement selects how budget violations are handled process-wide.
type Enforcement int

const (
	// Strict rejects requests that exceed any limit.
	Strict Enforcement = iota
	// Soft logs the violation and admits the request.
	Soft
)

// ParseEnforcement maps the BUDGET_ENFORCEMENT setting to a mode.
func ParseEnforcement(s string) Enforcement {
	if s == "soft" {
		return Soft
	}
	return Strict
}

// Rejection dimension names reported in Admission and gateway errors.
const (
	DimDaily   = "daily"
	DimWeekly  = "weekly"
	DimMonthly = "monthly"
	DimBudget  = "budget"
	DimGlobal  = "GLOBAL_BUDGET"
)

// Admission is the outcome of a budget check. Dimensions lists every failing
// limit; in soft mode Allowed is true even when Dimensions is non-empty.
type Admission struct {
	Allowed    bool
	Dimensions []string
}

// Account holds one user's windowed counters and spend.
type Account struct {
	UserID            string
	Tier              gateway.Tier
	MonthlyBudget     decimal.Decimal
	CurrentMonthUsage decimal.Decimal
	DailyRequests     int64
	WeeklyRequests    int64
	MonthlyRequests   int64
	LastReset         time.Time
}

// GlobalConfig bounds aggregate spend across all users.
type GlobalConfig struct {
	MonthlyBudget decimal.Decimal // zero disables the global check
	DailyFraction decimal.Decimal // fraction of the daily slice that trips rejection
}

// DefaultGlobalFraction is the share of the global daily slice that, once
// spent, rejects new non-critical requests.
var DefaultGlobalFraction = decimal.RequireFromString("0.9")

// Manager owns all BudgetAccount mutation. Per-user entries carry their own
// mutex so unrelated users never contend.
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*entry

	tiers       map[gateway.Tier]gateway.TierLimits
	enforcement Enforcement

	globalMu        sync.Mutex
	global          GlobalConfig
	globalDaySpend  decimal.Decimal
	globalMonthSpend decimal.Decimal
	globalLastReset time.Time

	now func() time.Time
}

type entry struct {
	mu  sync.Mutex
	acc Account
}

// NewManager creates a budget manager with the given tier table, global
// budget, and enforcement mode.
func NewManager(tiers map[gateway.Tier]gateway.TierLimits, global GlobalConfig, mode Enforcement) *Manager {
	if global.DailyFraction.IsZero() {
		global.DailyFraction = DefaultGlobalFraction
	}
	m := &Manager{
		accounts:    make(map[string]*entry),
		tiers:       tiers,
		enforcement: mode,
		global:      global,
		now:         time.Now,
	}
	m.globalLastReset = m.now()
	return m
}

// DefaultTierLimits returns the built-in quota table, overridable from the
// configuration store.
func DefaultTierLimits() map[gateway.Tier]gateway.TierLimits {
	return map[gateway.Tier]gateway.TierLimits{
		gateway.TierFree: {
			Tier: gateway.TierFree, DailyLimit: 15, WeeklyLimit: 75, MonthlyLimit: 200,
			MonthlyBudget: decimal.RequireFromString("5"),
		},
		gateway.TierPremium: {
			Tier: gateway.TierPremium, DailyLimit: 100, WeeklyLimit: 500, MonthlyLimit: 2000,
			MonthlyBudget: decimal.RequireFromString("50"),
		},
		gateway.TierEnterprise: {
			Tier: gateway.TierEnterprise, DailyLimit: 1000, WeeklyLimit: 5000, MonthlyLimit: 20000,
			MonthlyBudget: decimal.RequireFromString("500"),
		},
	}
}

// Check evaluates admission for one request. Window counters are rolled
// first (each window resets exactly once), then every limit is evaluated so
// the rejection lists all failing dimensions. The per-user lock makes the
// evaluation atomic with respect to Record for the same user.
func (m *Manager) Check(userID string, tier gateway.Tier, priority string) Admission {
	limits := m.limitsFor(tier)
	e := m.entryFor(userID, tier, limits)

	var dims []string

	e.mu.Lock()
	now := m.now()
	rollWindows(&e.acc, now)
	if limits.DailyLimit > 0 && e.acc.DailyRequests >= limits.DailyLimit {
		dims = append(dims, DimDaily)
	}
	if limits.WeeklyLimit > 0 && e.acc.WeeklyRequests >= limits.WeeklyLimit {
		dims = append(dims, DimWeekly)
	}
	if limits.MonthlyLimit > 0 && e.acc.MonthlyRequests >= limits.MonthlyLimit {
		dims = append(dims, DimMonthly)
	}
	if e.acc.MonthlyBudget.IsPositive() && e.acc.CurrentMonthUsage.GreaterThanOrEqual(e.acc.MonthlyBudget) {
		dims = append(dims, DimBudget)
	}
	e.mu.Unlock()

	if m.globalExhausted(priority) {
		dims = append(dims, DimGlobal)
	}

	if len(dims) == 0 {
		return Admission{Allowed: true}
	}
	if m.enforcement == Soft {
		slog.Warn("budget exceeded, admitting (soft enforcement)",
			"user_id", userID, "dimensions", dims)
		return Admission{Allowed: true, Dimensions: dims}
	}
	return Admission{Allowed: false, Dimensions: dims}
}

// Record debits one successful request: all three window counters increment
// and the cost is added to the user's month usage and the global aggregates.
func (m *Manager) Record(userID string, tier gateway.Tier, cost decimal.Decimal, tokens int) {
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	e := m.entryFor(userID, tier, m.limitsFor(tier))

	e.mu.Lock()
	rollWindows(&e.acc, m.now())
	e.acc.DailyRequests++
	e.acc.WeeklyRequests++
	e.acc.MonthlyRequests++
	e.acc.CurrentMonthUsage = e.acc.CurrentMonthUsage.Add(cost)
	e.mu.Unlock()

	m.globalMu.Lock()
	m.rollGlobal(m.now())
	m.globalDaySpend = m.globalDaySpend.Add(cost)
	m.globalMonthSpend = m.globalMonthSpend.Add(cost)
	m.globalMu.Unlock()

	_ = tokens // tokens are accounted in usage records; spend is the budget dimension
}

// Usage returns the user's current month spend (zero for unknown users).
func (m *Manager) Usage(userID string) decimal.Decimal {
	m.mu.RLock()
	e, ok := m.accounts[userID]
	m.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc.CurrentMonthUsage
}

// Snapshot returns a copy of every account for persistence sync.
func (m *Manager) Snapshot() []Account {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.accounts))
	for _, e := range m.accounts {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.acc)
		e.mu.Unlock()
	}
	return out
}

// Restore seeds an account from persisted state. Later Check/Record calls
// roll its windows forward as usual.
func (m *Manager) Restore(acc Account) {
	e := m.entryFor(acc.UserID, acc.Tier, m.limitsFor(acc.Tier))
	e.mu.Lock()
	e.acc = acc
	e.mu.Unlock()
}

// SetTierLimits replaces the quota table (serialized with entry creation).
func (m *Manager) SetTierLimits(tiers map[gateway.Tier]gateway.TierLimits) {
	m.mu.Lock()
	m.tiers = tiers
	m.mu.Unlock()
}

func (m *Manager) limitsFor(tier gateway.Tier) gateway.TierLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.tiers[tier]; ok {
		return l
	}
	return gateway.TierLimits{Tier: tier}
}

func (m *Manager) entryFor(userID string, tier gateway.Tier, limits gateway.TierLimits) *entry {
	m.mu.RLock()
	e, ok := m.accounts[userID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.accounts[userID]; ok {
		return e
	}
	e = &entry{acc: Account{
		UserID:        userID,
		Tier:          tier,
		MonthlyBudget: limits.MonthlyBudget,
		LastReset:     m.now(),
	}}
	m.accounts[userID] = e
	return e
}

// rollWindows resets any counter whose window has rolled over since
// LastReset. Caller holds the entry lock, so each reset happens exactly once.
func rollWindows(acc *Account, now time.Time) {
	last := acc.LastReset
	if last.IsZero() {
		acc.LastReset = now
		return
	}

	ly, lm, ld := last.Date()
	ny, nm, nd := now.Date()

	if ly != ny || lm != nm || ld != nd {
		acc.DailyRequests = 0
	}
	lwy, lw := last.ISOWeek()
	nwy, nw := now.ISOWeek()
	if lwy != nwy || lw != nw {
		acc.WeeklyRequests = 0
	}
	if ly != ny || lm != nm {
		acc.MonthlyRequests = 0
		acc.CurrentMonthUsage = decimal.Zero
	}
	acc.LastReset = now
}

// globalExhausted reports whether the global daily slice is spent. Critical
// priority requests bypass the global gate.
func (m *Manager) globalExhausted(priority string) bool {
	if priority == gateway.PriorityCritical.String() {
		return false
	}
	if !m.global.MonthlyBudget.IsPositive() {
		return false
	}

	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	now := m.now()
	m.rollGlobal(now)

	days := daysInMonth(now)
	slice := m.global.MonthlyBudget.Div(decimal.NewFromInt(int64(days)))
	threshold := slice.Mul(m.global.DailyFraction)
	return m.globalDaySpend.GreaterThanOrEqual(threshold)
}

func (m *Manager) rollGlobal(now time.Time) {
	ly, lm, ld := m.globalLastReset.Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm || ld != nd {
		m.globalDaySpend = decimal.Zero
	}
	if ly != ny || lm != nm {
		m.globalMonthSpend = decimal.Zero
	}
	m.globalLastReset = now
}

func daysInMonth(t time.Time) int {
	y, mo, _ := t.Date()
	return time.Date(y, mo+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
