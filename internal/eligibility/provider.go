// Package eligibility reads worker tier and workshop membership from the
// profile service. The engine never writes this data.
package eligibility

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spec-kit/dispatch-engine/internal/domain"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

// Provider resolves a worker's eligibility.
type Provider interface {
	Lookup(ctx context.Context, workerID string) (*domain.WorkerEligibility, error)
}

// HTTPProvider calls the profile service over HTTP.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider builds a provider against the profile service base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Lookup fetches GET {base}/workers/{id}/eligibility.
func (p *HTTPProvider) Lookup(ctx context.Context, workerID string) (*domain.WorkerEligibility, error) {
	url := fmt.Sprintf("%s/workers/%s/eligibility", p.baseURL, workerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperrors.NewNotFound("worker", map[string]any{"worker_id": workerID})
	default:
		return nil, fmt.Errorf("profile service returned status %d", resp.StatusCode)
	}

	var eligibility domain.WorkerEligibility
	if err := json.NewDecoder(resp.Body).Decode(&eligibility); err != nil {
		return nil, fmt.Errorf("decode eligibility: %w", err)
	}
	if eligibility.WorkerID == "" {
		eligibility.WorkerID = workerID
	}
	return &eligibility, nil
}
