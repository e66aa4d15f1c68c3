package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bidding-engine/internal/auction"
)

// DirectoryOptions parameterise the auction service client.
type DirectoryOptions struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPDirectory talks to the auction service's REST API.
type HTTPDirectory struct {
	opts   DirectoryOptions
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPDirectory builds a directory client.
func NewHTTPDirectory(opts DirectoryOptions, logger zerolog.Logger) *HTTPDirectory {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDirectory{
		opts:   DirectoryOptions{BaseURL: strings.TrimRight(opts.BaseURL, "/"), Timeout: timeout},
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

// FetchConfig loads one auction's configuration by id.
func (d *HTTPDirectory) FetchConfig(ctx context.Context, auctionID string) (auction.Config, error) {
	if d.opts.BaseURL == "" {
		return auction.Config{}, errors.New("directory base url not configured")
	}

	url := fmt.Sprintf("%s/api/v1/auctions/%s", d.opts.BaseURL, auctionID)
	var cfg auction.Config
	if err := d.getJSON(ctx, url, &cfg); err != nil {
		return auction.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return auction.Config{}, fmt.Errorf("directory returned invalid config: %w", err)
	}
	return cfg, nil
}

// ListOngoing lists auctions currently in their bidding window.
func (d *HTTPDirectory) ListOngoing(ctx context.Context) ([]auction.Config, error) {
	if d.opts.BaseURL == "" {
		return nil, errors.New("directory base url not configured")
	}

	url := d.opts.BaseURL + "/api/v1/auctions?status=ONGOING"
	var configs []auction.Config
	if err := d.getJSON(ctx, url, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (d *HTTPDirectory) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send directory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return auction.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	return nil
}

var _ Directory = (*HTTPDirectory)(nil)
