package fraud

import (
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Options selects a scoring strategy at startup.
type Options struct {
	ModelPath   string // YAML logistic model
	ModelURL    string // remote scoring endpoint, used when ModelPath is empty
	Timeout     time.Duration
	LargeAmount decimal.Decimal
}

// New builds the configured scorer. A model that fails to load is not fatal:
// the rule-based scorer takes over, as it does when no model is configured.
func New(opts Options) Scorer {
	switch {
	case opts.ModelPath != "":
		m, err := LoadLogisticModel(opts.ModelPath)
		if err != nil {
			log.Printf("[fraud] model %s not loaded (%v); using rule-based detection", opts.ModelPath, err)
			break
		}
		log.Printf("[fraud] loaded logistic model %q", m.Version)
		return NewModelScorer(m, opts.Timeout)
	case opts.ModelURL != "":
		log.Printf("[fraud] using remote classifier at %s", opts.ModelURL)
		return NewModelScorer(NewHTTPClassifier(opts.ModelURL, &http.Client{}), opts.Timeout)
	}
	return NewRuleScorer(opts.LargeAmount)
}
