package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPClassifier calls a remote scoring service. The request carries the
// feature vector and the feature names; the response must carry a label and
// the positive-class probability.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

type predictRequest struct {
	Features []float64 `json:"features"`
	Names    []string  `json:"names"`
}

type predictResponse struct {
	Prediction  *int     `json:"prediction"`
	Probability *float64 `json:"probability"`
}

// NewHTTPClassifier creates a client for the scoring endpoint at url. Timeouts
// come from the caller's context.
func NewHTTPClassifier(url string, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClassifier{url: url, client: client}
}

func (c *HTTPClassifier) Predict(ctx context.Context, x [VectorSize]float64) (bool, float64, error) {
	body, err := json.Marshal(predictRequest{Features: x[:], Names: FeatureNames[:]})
	if err != nil {
		return false, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, 0, fmt.Errorf("scoring service error (%d): %s", resp.StatusCode, string(respBody))
	}

	var out predictResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return false, 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Prediction == nil || out.Probability == nil {
		return false, 0, fmt.Errorf("scoring response missing prediction or probability")
	}
	return *out.Prediction == 1, *out.Probability, nil
}
