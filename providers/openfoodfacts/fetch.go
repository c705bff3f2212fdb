package openfoodfacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"petscan/config"
	"petscan/providers"
)

// Fetcher implements the Provider interface for Open Food Facts.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	client *http.Client
}

// NewFetcher creates a new Open Food Facts fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		client: &http.Client{Timeout: cfg.ProviderTimeout},
	}
}

// Name returns the provider name.
func (f *Fetcher) Name() string {
	return "openfoodfacts"
}

// Fetch looks up a single barcode.
func (f *Fetcher) Fetch(ctx context.Context, barcode string) (*providers.ProductPayload, error) {
	log := f.Logger.With(zap.String("provider", f.Name()), zap.String("barcode", barcode))

	url := fmt.Sprintf("%s/api/v0/product/%s.json", f.Config.OpenFoodFactsURL, barcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.Config.ProviderUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, providers.ErrNotInCatalog
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("product lookup failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, err
	}
	if lr.Status != 1 || lr.Product == nil {
		log.Debug("Barcode not in catalog", zap.String("status_verbose", lr.StatusVerbose))
		return nil, providers.ErrNotInCatalog
	}

	p := lr.Product
	payload := &providers.ProductPayload{
		Barcode:      barcode,
		ProductName:  p.ProductName,
		GenericName:  p.GenericName,
		Brands:       p.Brands,
		Categories:   p.Categories,
		Ingredients:  p.Ingredients,
		AdditiveTags: p.AdditiveTags,
		Nutriments:   p.Nutriments,
		ImageURL:     p.ImageURL,
		Raw:          body,
	}
	log.Debug("Barcode resolved", zap.String("product_name", p.ProductName))
	return payload, nil
}
