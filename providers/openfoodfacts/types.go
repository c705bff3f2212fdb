// Package openfoodfacts queries the general Open Food Facts catalog. It is
// the second entry of the fallback chain: pet products occasionally live in
// the general database only.
package openfoodfacts

import "petscan/providers"

// lookupResponse mirrors the v0 product API shape shared with the pet
// catalog.
type lookupResponse struct {
	Status        int    `json:"status"`
	StatusVerbose string `json:"status_verbose"`
	Code          string `json:"code"`
	Product       *struct {
		ProductName  string                      `json:"product_name"`
		GenericName  string                      `json:"generic_name"`
		Brands       string                      `json:"brands"`
		Categories   string                      `json:"categories"`
		Ingredients  []providers.IngredientEntry `json:"ingredients"`
		AdditiveTags []string                    `json:"additives_tags"`
		Nutriments   providers.Nutriments        `json:"nutriments"`
		ImageURL     string                      `json:"image_url"`
	} `json:"product"`
}
