package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"veracity-soc/internal/schema"
)

// DeepRequest carries everything the deep contextual pass may use to refine
// a rule-based verdict.
type DeepRequest struct {
	Entry      *schema.LogEntry `json:"entry"`
	RuleScore  float64          `json:"rule_score"`
	ThreatType string           `json:"threat_type"`
	Indicators []string         `json:"indicators"`
	Categories []string         `json:"categories"`
}

// DeepFinding is the refinement returned by a deep analyzer. Nil fields
// leave the corresponding rule-based value in place.
type DeepFinding struct {
	ThreatScore *float64 `json:"threat_score"`
	ThreatType  string   `json:"threat_type,omitempty"`
	Indicators  []string `json:"indicators,omitempty"`
}

// DeepAnalyzer is the expensive contextual pass behind the pre-filter.
// Implementations must honor ctx cancellation; the scorer calls with a
// bounded deadline and treats any error as a signal to fall back to the
// rule-based result.
type DeepAnalyzer interface {
	Analyze(ctx context.Context, req *DeepRequest) (*DeepFinding, error)
}

// DeepConfig holds the HTTP deep analyzer settings.
type DeepConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultDeepConfig returns the deep analyzer defaults. The timeout bounds
// the whole request; scoring latency can never exceed it.
func DefaultDeepConfig() DeepConfig {
	return DeepConfig{
		Timeout: 300 * time.Millisecond,
	}
}

// HTTPDeepAnalyzer calls an external reasoning service over HTTP.
type HTTPDeepAnalyzer struct {
	config DeepConfig
	client *http.Client
}

// NewHTTPDeepAnalyzer creates an analyzer for the configured endpoint.
func NewHTTPDeepAnalyzer(config DeepConfig) *HTTPDeepAnalyzer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultDeepConfig().Timeout
	}
	return &HTTPDeepAnalyzer{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (a *HTTPDeepAnalyzer) Analyze(ctx context.Context, req *DeepRequest) (*DeepFinding, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deep request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create deep request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deep analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("deep analysis returned status %d", resp.StatusCode)
	}

	var finding DeepFinding
	if err := json.NewDecoder(resp.Body).Decode(&finding); err != nil {
		return nil, fmt.Errorf("failed to decode deep finding: %w", err)
	}
	if finding.ThreatScore != nil && (*finding.ThreatScore < 0 || *finding.ThreatScore > 1) {
		return nil, fmt.Errorf("deep finding score out of range: %f", *finding.ThreatScore)
	}
	return &finding, nil
}
