package services

import (
	"strings"

	"petscan/models"
	"petscan/providers"
)

// maxFormattedIngredients bounds how many provider ingredient entries are
// kept on a formatted product.
const maxFormattedIngredients = 15

// speciesKeywords maps each known species tag to the keywords that select it
// in the provider's free text.
var speciesKeywords = map[string][]string{
	"chien":   {"chien", "chiot", "dog", "puppy"},
	"chat":    {"chat", "chaton", "cat", "kitten"},
	"oiseau":  {"oiseau", "bird", "perruche"},
	"rongeur": {"rongeur", "rodent", "hamster", "lapin", "rabbit"},
	"poisson": {"poisson", "fish", "aquarium"},
	"reptile": {"reptile", "tortue", "turtle"},
}

// FormatPayload shapes a heterogeneous provider payload into the internal
// product model. Conservative defaults apply to externally sourced data:
// ingredients come back safe and non-controversial (the provider carries no
// risk signal, and the controversial-term list is not re-derived here), and
// every additive defaults to moderate risk.
func FormatPayload(payload *providers.ProductPayload) *models.Product {
	name := payload.ProductName
	if name == "" {
		name = payload.GenericName
	}

	ingredients := make([]models.Ingredient, 0, minInt(len(payload.Ingredients), maxFormattedIngredients))
	for i, entry := range payload.Ingredients {
		if i >= maxFormattedIngredients {
			break
		}
		ingredients = append(ingredients, models.Ingredient{
			Name:            entry.Text,
			IsControversial: false,
			Risk:            models.RiskSafe,
		})
	}

	additives := make([]models.Additive, 0, len(payload.AdditiveTags))
	for _, tag := range payload.AdditiveTags {
		code := additiveCodeFromTag(tag)
		if code == "" {
			continue
		}
		additives = append(additives, models.Additive{
			Code: code,
			Name: code,
			Risk: models.RiskModerate,
		})
	}

	return &models.Product{
		Barcode:       payload.Barcode,
		Name:          name,
		Brand:         payload.Brands,
		Category:      categoryFromText(payload.Categories),
		TargetAnimals: speciesFromText(name + " " + payload.Categories),
		Ingredients:   ingredients,
		Additives:     additives,
		ImageURL:      payload.ImageURL,
	}
}

// additiveCodeFromTag turns a namespaced additive tag ("en:e320") into an
// upper-cased bare code ("E320").
func additiveCodeFromTag(tag string) string {
	code := tag
	if idx := strings.LastIndex(tag, ":"); idx >= 0 {
		code = tag[idx+1:]
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// categoryFromText keyword-matches the provider's free-text category string.
// Match order is part of the contract.
func categoryFromText(categories string) string {
	text := strings.ToLower(categories)
	switch {
	case strings.Contains(text, "soin") || strings.Contains(text, "care"):
		return models.CategorySoin
	case strings.Contains(text, "hygien") || strings.Contains(text, "shampoo"):
		return models.CategoryHygiene
	case strings.Contains(text, "jouet") || strings.Contains(text, "toy"):
		return models.CategoryJouet
	default:
		return models.CategoryAlimentation
	}
}

// speciesFromText detects target species from name+category text. Falls back
// to the "tous" sentinel when nothing matches.
func speciesFromText(text string) []string {
	lower := strings.ToLower(text)
	var species []string
	for _, tag := range models.KnownSpecies {
		for _, kw := range speciesKeywords[tag] {
			if strings.Contains(lower, kw) {
				species = append(species, tag)
				break
			}
		}
	}
	if len(species) == 0 {
		return []string{models.SpeciesAll}
	}
	return species
}

// NutrientsFromPayload reads the per-100g values, defaulting to zero for
// missing fields.
func NutrientsFromPayload(payload *providers.ProductPayload) *NutrientStats {
	return &NutrientStats{
		Protein: payload.Nutriments.Proteins100g,
		Fat:     payload.Nutriments.Fat100g,
		Fiber:   payload.Nutriments.Fiber100g,
	}
}
