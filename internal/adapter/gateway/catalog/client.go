// Package catalog reads item prices and sellers from the marketplace catalogue.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/adapter/gateway"
	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const provider = "catalog"

// Client implements ports.ItemCatalog over the catalogue's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient gateway.HTTPClient
	log        zerolog.Logger
}

var _ ports.ItemCatalog = (*Client)(nil)

// NewClient creates a catalogue client. A nil httpClient gets a default client
// with cfg.Timeout.
func NewClient(cfg config.CatalogConfig, httpClient gateway.HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = gateway.NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		log:        log.With().Str("provider", provider).Logger(),
	}
}

// GetItem fetches one item. A 404 is reported as nil, nil.
func (c *Client) GetItem(ctx context.Context, itemID uuid.UUID) (item *domain.CatalogItem, err error) {
	started := time.Now()
	defer func() { metrics.ObserveGateway(provider, "get_item", started, err) }()

	resp, err := gateway.DoJSON(ctx, c.httpClient, http.MethodGet,
		c.baseURL+"/items/"+itemID.String(), http.Header{"X-Api-Key": {c.apiKey}}, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog get item: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case !resp.OK():
		c.log.Warn().Int("status", resp.StatusCode).Str("item_id", itemID.String()).Msg("catalog: unexpected status")
		return nil, fmt.Errorf("catalog get item: %w", gateway.NewStatusError(resp))
	}

	var out domain.CatalogItem
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("catalog get item: %w", err)
	}
	if out.ID != itemID || out.SellerID == uuid.Nil {
		return nil, fmt.Errorf("catalog get item: malformed item %s", itemID)
	}
	return &out, nil
}
