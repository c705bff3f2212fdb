package providers

import (
	"context"
	"errors"
)

// ErrNotInCatalog signals that a provider answered but does not know the
// barcode. Callers treat it exactly like a transport failure: try the next
// provider in the chain.
var ErrNotInCatalog = errors.New("barcode not in provider catalog")

// Provider is the interface every external product catalog must implement.
type Provider interface {
	// Fetch looks up a barcode and returns the raw product payload, or
	// ErrNotInCatalog when the provider reports the product as absent.
	Fetch(ctx context.Context, barcode string) (*ProductPayload, error)

	// Name returns the unique provider name (e.g. "openpetfoodfacts").
	Name() string
}

// ProductPayload is the provider-agnostic shape both catalogs deliver.
// Fields stay as close to the wire as possible; the formatting into the
// internal product model happens in the services layer.
type ProductPayload struct {
	Barcode      string
	ProductName  string
	GenericName  string
	Brands       string
	Categories   string // free text, comma separated
	Ingredients  []IngredientEntry
	AdditiveTags []string // namespaced codes, e.g. "en:e320"
	Nutriments   Nutriments
	ImageURL     string

	Raw []byte // original response body, archived alongside the product
}

// IngredientEntry is one entry of the provider's ingredient list.
type IngredientEntry struct {
	Text string `json:"text"`
}

// Nutriments carries the per-100g values the scoring engine consumes.
// Missing keys decode to zero.
type Nutriments struct {
	Proteins100g float64 `json:"proteins_100g"`
	Fat100g      float64 `json:"fat_100g"`
	Fiber100g    float64 `json:"fiber_100g"`
}
