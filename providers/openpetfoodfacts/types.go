// Package openpetfoodfacts queries the Open Pet Food Facts catalog, the
// pet-specific provider and first entry of the fallback chain.
package openpetfoodfacts

import "petscan/providers"

// lookupResponse is the v0 product API answer. Status 1 means the barcode is
// known; anything else is treated as absent.
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
