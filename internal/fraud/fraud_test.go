package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

func features(amount string) Features {
	return Features{
		Amount:          decimal.RequireFromString(amount),
		SenderBalance:   decimal.RequireFromString("200000"),
		ReceiverBalance: decimal.Zero,
		Kind:            domain.KindTransfer,
		At:              time.Date(2024, 3, 17, 14, 30, 0, 0, time.UTC),
	}
}

func TestRuleScorer(t *testing.T) {
	scorer := NewRuleScorer(decimal.Zero) // falls back to the default ceiling
	tests := []struct {
		amount     string
		fraud      bool
		confidence float64
		reason     string
	}{
		{"0", true, 0.9, "invalid amount"},
		{"-10", true, 0.9, "invalid amount"},
		{"150000", true, 0.8, "large amount"},
		{"100000", false, 0.1, "normal transaction"},
		{"40.00", false, 0.1, "normal transaction"},
	}

	for _, tt := range tests {
		v, err := scorer.Score(context.Background(), features(tt.amount))
		if err != nil {
			t.Fatalf("Score(%s): %v", tt.amount, err)
		}
		if v.IsFraud != tt.fraud || v.Confidence != tt.confidence || v.Reason != tt.reason {
			t.Errorf("Score(%s) = %+v, want fraud=%v conf=%v reason=%q", tt.amount, v, tt.fraud, tt.confidence, tt.reason)
		}
	}
}

func TestRuleScorerCustomCeiling(t *testing.T) {
	scorer := NewRuleScorer(decimal.NewFromInt(500))
	v, _ := scorer.Score(context.Background(), features("500.01"))
	if !v.IsFraud {
		t.Error("expected amount above custom ceiling to be flagged")
	}
}

func TestGateRejects(t *testing.T) {
	g := NewGate(NewRuleScorer(decimal.Zero), 0) // default threshold

	if g.Threshold != DefaultThreshold {
		t.Fatalf("Threshold = %v, want %v", g.Threshold, DefaultThreshold)
	}
	if !g.Rejects(Verdict{IsFraud: true, Confidence: 0.8}) {
		t.Error("0.8 fraud verdict must be rejected")
	}
	if g.Rejects(Verdict{IsFraud: true, Confidence: 0.7}) {
		t.Error("confidence equal to threshold must pass")
	}
	if g.Rejects(Verdict{IsFraud: false, Confidence: 0.99}) {
		t.Error("non-fraud verdict must pass regardless of confidence")
	}

	v, rejected, err := g.Evaluate(context.Background(), features("150000"))
	if err != nil || !rejected || v.Confidence != 0.8 {
		t.Errorf("Evaluate(150000) = %+v rejected=%v err=%v", v, rejected, err)
	}
}

func TestFeatureVector(t *testing.T) {
	f := Features{
		Amount:          decimal.RequireFromString("40"),
		SenderBalance:   decimal.RequireFromString("99"),
		ReceiverBalance: decimal.RequireFromString("0"),
		Kind:            domain.KindTransfer,
		At:              time.Date(2024, 3, 17, 14, 30, 0, 0, time.FixedZone("X", 3600)),
	}
	v := f.Vector()

	want := [VectorSize]float64{40, 99, 59, 0, 40, 1, 0, 0, 0, 0.4, 40, -40, 40, 13, 17}
	if v != want {
		t.Errorf("Vector() = %v\nwant      %v", v, want)
	}

	f.Kind = domain.KindQRPayment
	v = f.Vector()
	if v[5] != 0 || v[6] != 1 {
		t.Errorf("qr payment should set type_PAYMENT only, got %v", v[5:9])
	}
}

type stubClassifier struct {
	PredictFunc func(ctx context.Context, x [VectorSize]float64) (bool, float64, error)
	Calls       int
}

func (s *stubClassifier) Predict(ctx context.Context, x [VectorSize]float64) (bool, float64, error) {
	s.Calls++
	return s.PredictFunc(ctx, x)
}

func TestModelScorer(t *testing.T) {
	stub := &stubClassifier{PredictFunc: func(ctx context.Context, x [VectorSize]float64) (bool, float64, error) {
		return true, 0.93, nil
	}}
	scorer := NewModelScorer(stub, time.Second)

	v, err := scorer.Score(context.Background(), features("10"))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !v.IsFraud || v.Confidence != 0.93 || v.Reason != "ML model prediction" {
		t.Errorf("unexpected verdict: %+v", v)
	}
}

func TestModelScorerDegradesToNeutral(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, x [VectorSize]float64) (bool, float64, error)
	}{
		{"error", func(ctx context.Context, x [VectorSize]float64) (bool, float64, error) {
			return false, 0, errors.New("model file corrupt")
		}},
		{"panic", func(ctx context.Context, x [VectorSize]float64) (bool, float64, error) {
			panic("index out of range")
		}},
		{"bad probability", func(ctx context.Context, x [VectorSize]float64) (bool, float64, error) {
			return true, 1.7, nil
		}},
		{"timeout", func(ctx context.Context, x [VectorSize]float64) (bool, float64, error) {
			<-ctx.Done()
			return false, 0, ctx.Err()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var observed *ModelScoringError
			scorer := NewModelScorer(&stubClassifier{PredictFunc: tt.fn}, 20*time.Millisecond)
			scorer.OnError = func(err *ModelScoringError) { observed = err }

			v, err := scorer.Score(context.Background(), features("10"))
			if err != nil {
				t.Fatalf("Score must not fail, got %v", err)
			}
			if v != Neutral {
				t.Errorf("verdict = %+v, want Neutral", v)
			}
			if observed == nil {
				t.Error("expected the failure to be observed")
			}
		})
	}
}

const testModel = `
version: "test-1"
bias: -2
threshold: 0.5
features:
  - {name: amount, weight: 0.001}
  - {name: oldbalanceOrg, weight: 0}
  - {name: newbalanceOrig, weight: 0}
  - {name: oldbalanceDest, weight: 0}
  - {name: newbalanceDest, weight: 0}
  - {name: type_TRANSFER, weight: 0}
  - {name: type_PAYMENT, weight: 0}
  - {name: type_CASH_OUT, weight: 0}
  - {name: type_CASH_IN, weight: 0}
  - {name: amountToOldBalanceOrg, weight: 0}
  - {name: amountToOldBalanceDest, weight: 0}
  - {name: balanceChangeOrig, weight: 0}
  - {name: balanceChangeDest, weight: 0}
  - {name: hour, weight: 0, mean: 12, scale: 6}
  - {name: day, weight: 0}
`

func TestLogisticModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(testModel), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadLogisticModel(path)
	if err != nil {
		t.Fatalf("LoadLogisticModel: %v", err)
	}
	if m.Version != "test-1" || m.Scales[13] != 6 || m.Scales[0] != 1 {
		t.Fatalf("unexpected model: %+v", m)
	}

	scorer := NewModelScorer(m, time.Second)
	low, _ := scorer.Score(context.Background(), features("100"))  // z = -1.9
	high, _ := scorer.Score(context.Background(), features("5000")) // z = 3
	if low.IsFraud || low.Confidence >= 0.5 {
		t.Errorf("small amount scored %+v", low)
	}
	if !high.IsFraud || high.Confidence < 0.9 {
		t.Errorf("large amount scored %+v", high)
	}
}

func TestParseLogisticModelRejectsMisorderedFeatures(t *testing.T) {
	bad := strings.Replace(testModel, "name: amount,", "name: hour_of_day,", 1)
	if _, err := ParseLogisticModel([]byte(bad)); err == nil {
		t.Fatal("expected error for wrong feature name")
	}
	if _, err := ParseLogisticModel([]byte("features: []")); err == nil {
		t.Fatal("expected error for missing features")
	}
}

func TestHTTPClassifier(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"prediction": 1, "probability": 0.85}`))
	}))
	defer srv.Close()

	isFraud, p, err := NewHTTPClassifier(srv.URL, nil).Predict(context.Background(), features("10").Vector())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if !isFraud || p != 0.85 {
		t.Errorf("Predict = %v, %v", isFraud, p)
	}
	if len(got.Features) != VectorSize || got.Names[0] != "amount" {
		t.Errorf("unexpected request payload: %+v", got)
	}
}

func TestHTTPClassifierErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/partial" {
			w.Write([]byte(`{"prediction": 1}`))
			return
		}
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, _, err := NewHTTPClassifier(srv.URL, nil).Predict(context.Background(), [VectorSize]float64{}); err == nil {
		t.Error("expected error on 503")
	}
	if _, _, err := NewHTTPClassifier(srv.URL+"/partial", nil).Predict(context.Background(), [VectorSize]float64{}); err == nil {
		t.Error("expected error on missing probability")
	}
}

func TestNewFallsBackToRules(t *testing.T) {
	s := New(Options{ModelPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if _, ok := s.(*RuleScorer); !ok {
		t.Fatalf("expected RuleScorer fallback, got %T", s)
	}
}
