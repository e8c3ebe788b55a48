// Package rules provides the weighted rule engine and its hot-reloadable configuration store.
package rules

import (
	"math"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// Evaluate scores one transaction against a snapshot. lastTxnTime is the
// Time of the user's previous transaction, or nil when there is none.
// It is a pure function of its inputs.
func Evaluate(tx *domain.Transaction, lastTxnTime *float64, snap *Snapshot) domain.RuleResult {
	flags := make(map[string]int, 4)
	var triggered float64

	set := func(key string, hit bool, weight float64) {
		if hit {
			flags[key] = 1
			triggered += weight
			return
		}
		flags[key] = 0
	}

	var velocityHit, pcaHit bool

	if r := snap.Velocity; r.Enabled {
		velocityHit = lastTxnTime != nil && tx.Time-*lastTxnTime < r.TimeWindowSec
		set(domain.FlagVelocity, velocityHit, r.Weight)
	}

	if r := snap.HighRiskPCA; r.Enabled {
		for _, comp := range r.Components {
			if math.Abs(tx.Feature(comp)) > r.Threshold(comp) {
				pcaHit = true
				break
			}
		}
		set(domain.FlagHighRiskPCA, pcaHit, r.Weight)
	}

	small := snap.AmountAnomaly.SmallThreshold
	large := snap.AmountAnomaly.LargeThreshold
	amt := tx.Amount

	if r := snap.AmountAnomaly; r.Enabled {
		tiny := amt > 0.01 && amt < small
		huge := amt > large
		round := math.Mod(amt, 50) == 0 && amt >= 100 && amt <= 500
		set(domain.FlagAmountAnomaly, tiny || huge || round, r.Weight)
	}

	// Combo reads the amount thresholds even when amount_anomaly is disabled.
	if r := snap.Combo; r.Enabled {
		hit := (velocityHit && amt < small) || (pcaHit && amt > large)
		set(domain.FlagComboPattern, hit, r.Weight)
	}

	total := snap.EnabledWeight()
	if total <= 0 {
		return domain.RuleResult{Score: 0, Flags: flags}
	}
	return domain.RuleResult{Score: clamp01(triggered / total), Flags: flags}
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

// Engine evaluates transactions against the store's current snapshot.
type Engine struct {
	store *Store
}

// NewEngine creates an engine bound to a configuration store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Score captures the current snapshot once and evaluates against it.
// The snapshot is returned so callers can record which version scored.
func (e *Engine) Score(tx *domain.Transaction, lastTxnTime *float64) (domain.RuleResult, *Snapshot) {
	snap := e.store.Current()
	return Evaluate(tx, lastTxnTime, snap), snap
}
