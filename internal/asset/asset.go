package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"monalert/internal/config"
)

// Metadata is the display identity of one monitored asset.
// Params: human-readable name and asset type label.
// Returns: enrichment fields stamped onto new alerts.
type Metadata struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Provider resolves asset metadata by asset ID.
// Params: context and asset ID.
// Returns: metadata or lookup error; callers treat failures as non-fatal.
type Provider interface {
	Lookup(ctx context.Context, assetID int64) (Metadata, error)
}

// HTTPProvider queries the asset service over HTTP.
// Params: base URL and request timeout from config.
// Returns: provider backed by the asset inventory API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates an HTTP asset metadata provider.
// Params: asset config with base URL and timeout.
// Returns: initialized provider.
func NewHTTPProvider(cfg config.AssetConfig) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Lookup fetches metadata for one asset ID.
// Params: context and asset ID.
// Returns: decoded metadata or transport/decode error.
func (p *HTTPProvider) Lookup(ctx context.Context, assetID int64) (Metadata, error) {
	endpoint := fmt.Sprintf("%s/assets/%d", p.baseURL, assetID)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("build asset request: %w", err)
	}

	response, err := p.client.Do(request)
	if err != nil {
		return Metadata{}, fmt.Errorf("asset lookup: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("asset lookup status=%d", response.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(response.Body).Decode(&metadata); err != nil {
		return Metadata{}, fmt.Errorf("decode asset response: %w", err)
	}
	return metadata, nil
}

// StaticProvider serves metadata from a fixed map for single mode and tests.
// Params: asset ID to metadata mapping.
// Returns: provider without external dependencies.
type StaticProvider struct {
	entries map[int64]Metadata
}

// NewStaticProvider creates a map-backed provider.
// Params: entries map (may be nil).
// Returns: initialized provider.
func NewStaticProvider(entries map[int64]Metadata) *StaticProvider {
	if entries == nil {
		entries = make(map[int64]Metadata)
	}
	return &StaticProvider{entries: entries}
}

// Lookup returns metadata from the fixed map.
// Params: context and asset ID.
// Returns: metadata or miss error.
func (p *StaticProvider) Lookup(_ context.Context, assetID int64) (Metadata, error) {
	metadata, ok := p.entries[assetID]
	if !ok {
		return Metadata{}, fmt.Errorf("asset %d unknown", assetID)
	}
	return metadata, nil
}
