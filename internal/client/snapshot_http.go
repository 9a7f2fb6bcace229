package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/storeops/be-approvals/internal/apperrors"
)

// SnapshotHTTPProvider fetches entity snapshots from the domain gateway over
// HTTP. Each entity kind maps to its service path via DisplayInfo; the
// gateway returns the flat attribute map the rule evaluator reads.
type SnapshotHTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewSnapshotHTTPProvider creates a provider rooted at baseURL.
func NewSnapshotHTTPProvider(baseURL string, timeout time.Duration) *SnapshotHTTPProvider {
	return &SnapshotHTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Snapshot implements SnapshotProvider.
func (p *SnapshotHTTPProvider) Snapshot(ctx context.Context, kind EntityKind, entityID string) (map[string]any, error) {
	if !kind.Valid() {
		return nil, apperrors.InvalidInput("entity_kind", "unknown entity kind: "+string(kind))
	}

	endpoint := fmt.Sprintf("%s%s/%s/snapshot", p.baseURL, kind.DisplayInfo().URLPath, url.PathEscape(entityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to build snapshot request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "snapshot request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperrors.NotFound(string(kind), entityID)
	default:
		return nil, apperrors.New(apperrors.ErrCodeInternal,
			fmt.Sprintf("snapshot request for %s/%s returned %d", kind, entityID, resp.StatusCode))
	}

	var snapshot map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode snapshot response")
	}
	return snapshot, nil
}
