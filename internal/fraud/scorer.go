// Package fraud implements the risk gate consulted before every transfer commit.
package fraud

import (
	"context"

	"github.com/shopspring/decimal"
)

const (
	// DefaultThreshold is the confidence above which a fraud verdict blocks a transfer.
	DefaultThreshold = 0.7
	// DefaultLargeAmount is the rule-based ceiling for a single transfer.
	DefaultLargeAmount = 100000
)

// Verdict is a scorer's opinion of a proposed transfer.
type Verdict struct {
	IsFraud    bool    `json:"is_fraud"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Neutral is returned whenever scoring cannot produce an opinion.
var Neutral = Verdict{IsFraud: false, Confidence: 0.1, Reason: "model error"}

// Scorer assigns a verdict to a proposed transfer.
type Scorer interface {
	Score(ctx context.Context, f Features) (Verdict, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, f Features) (Verdict, error)

func (fn ScorerFunc) Score(ctx context.Context, f Features) (Verdict, error) { return fn(ctx, f) }

// RuleScorer is the fallback used when no trained model is configured.
type RuleScorer struct {
	LargeAmount decimal.Decimal
}

func NewRuleScorer(largeAmount decimal.Decimal) *RuleScorer {
	if !largeAmount.IsPositive() {
		largeAmount = decimal.NewFromInt(DefaultLargeAmount)
	}
	return &RuleScorer{LargeAmount: largeAmount}
}

func (r *RuleScorer) Score(ctx context.Context, f Features) (Verdict, error) {
	switch {
	case !f.Amount.IsPositive():
		return Verdict{IsFraud: true, Confidence: 0.9, Reason: "invalid amount"}, nil
	case f.Amount.GreaterThan(r.LargeAmount):
		return Verdict{IsFraud: true, Confidence: 0.8, Reason: "large amount"}, nil
	default:
		return Verdict{IsFraud: false, Confidence: 0.1, Reason: "normal transaction"}, nil
	}
}

// Gate applies the accept/reject rule on top of a Scorer.
type Gate struct {
	Scorer    Scorer
	Threshold float64
}

func NewGate(s Scorer, threshold float64) *Gate {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Gate{Scorer: s, Threshold: threshold}
}

// Rejects reports whether a verdict blocks the transfer.
func (g *Gate) Rejects(v Verdict) bool {
	return v.IsFraud && v.Confidence > g.Threshold
}

// Evaluate scores the features and reports whether the transfer is blocked.
func (g *Gate) Evaluate(ctx context.Context, f Features) (Verdict, bool, error) {
	v, err := g.Scorer.Score(ctx, f)
	if err != nil {
		return Verdict{}, false, err
	}
	return v, g.Rejects(v), nil
}
