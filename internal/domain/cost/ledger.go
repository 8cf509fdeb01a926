package cost

import (
	"fmt"
	"sync"
	"time"
)

// Entry records one priced collaborator call.
type Entry struct {
	Role      string    `json:"role"`
	Model     string    `json:"model"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger is a mission-scoped spend accumulator. Every mission owns
// exactly one Ledger instance; there is deliberately no process-global
// ledger and no cross-mission registry, so two concurrent missions can
// never contaminate each other's totals.
type Ledger struct {
	mu      sync.Mutex
	pricing *Pricing
	entries []Entry
	total   float64
}

// NewLedger creates an empty ledger priced by the given table.
func NewLedger(pricing *Pricing) *Ledger {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Ledger{pricing: pricing}
}

// Register records one call and returns the new running total.
func (l *Ledger) Register(role, model string, tokensIn, tokensOut int64) float64 {
	c := l.pricing.Cost(model, tokensIn, tokensOut)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		Role:      role,
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   c,
		CreatedAt: time.Now(),
	})
	l.total += c
	return l.total
}

// CheckCap performs the predictive budget check before a call is
// dispatched. The upcoming call is priced conservatively (all estimated
// tokens at the output rate). A cap <= 0 means uncapped.
func (l *Ledger) CheckCap(capUSD float64, estimatedTokens int64, model string) (wouldExceed bool, total float64, msg string) {
	l.mu.Lock()
	total = l.total
	l.mu.Unlock()

	if capUSD <= 0 {
		return false, total, ""
	}

	estimate := l.pricing.EstimateMax(model, estimatedTokens)
	if total+estimate > capUSD {
		return true, total, fmt.Sprintf(
			"projected spend %.4f USD (current %.4f + estimate %.4f) exceeds cap %.4f",
			total+estimate, total, estimate, capUSD)
	}
	return false, total, ""
}

// Total returns the accumulated spend.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Entries returns a copy of the append-only entry list.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Restore seeds the running total from a checkpoint. The per-entry log
// is not reconstructed; the checkpoint total is the single source of
// truth across restarts.
func (l *Ledger) Restore(total float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = total
	l.entries = nil
}
