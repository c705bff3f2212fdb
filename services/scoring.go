package services

import (
	"strings"

	"petscan/models"
)

// Constant tables driving the score. Versioned: any change here changes
// every score computed afterwards, while already-persisted products keep
// their original score (there is no rescore path).
var (
	// Ingredient names matched case-insensitively as substrings. A match
	// counts the ingredient as controversial even without an explicit flag.
	controversialTerms = []string{
		"sous-produits animaux",
		"farines animales",
		"bha",
		"bht",
		"maïs",
		"blé",
		"sucre",
		"sirop de glucose",
		"colorant",
		"conservateur",
		"arôme artificiel",
		"propylène glycol",
		"cellulose",
	}

	// Additive codes with a known health concern, +10 penalty each.
	dangerousAdditiveCodes = map[string]bool{
		"E102":  true,
		"E110":  true,
		"E120":  true,
		"E124":  true,
		"E127":  true,
		"E129":  true,
		"E150D": true,
		"E171":  true,
		"E320":  true, // BHA
		"E321":  true, // BHT
	}

	// Additive codes under watch, +4 penalty each.
	moderateAdditiveCodes = map[string]bool{
		"E200": true,
		"E202": true,
		"E211": true,
		"E212": true,
		"E220": true,
		"E223": true,
		"E250": true,
		"E251": true,
		"E252": true,
		"E280": true,
	}
)

// NutrientStats carries the per-100g values entering the score.
type NutrientStats struct {
	Protein float64
	Fat     float64
	Fiber   float64
}

// ComputeScore derives the 0-100 quality score and its diagnostic breakdown
// from ingredient, additive and nutrient data. Pure and deterministic: same
// input, same output, no I/O.
//
// The breakdown reports the additives penalty and quality bonus as
// accumulated raw values even though their contribution to the score is
// capped at 30 and 15. The fields therefore do not necessarily reconcile to
// score-70 once a cap or the final clamp applies.
func ComputeScore(ingredients []models.Ingredient, additives []models.Additive, nutrients *NutrientStats) (int, models.ScoreDetails) {
	score := 70
	details := models.ScoreDetails{}

	if len(ingredients) > 0 {
		ingredientScore := 40
		for _, ing := range ingredients {
			if ing.IsControversial || matchesControversialTerm(ing.Name) {
				ingredientScore -= 5
			}
		}

		qualityBonus := 0
		for _, ing := range ingredients {
			name := strings.ToLower(ing.Name)
			if strings.Contains(name, "viande fraîche") || strings.Contains(name, "poisson frais") {
				qualityBonus += 5
			}
			if strings.Contains(name, "légume") || strings.Contains(name, "fruit") {
				qualityBonus += 2
			}
		}
		first := strings.ToLower(ingredients[0].Name)
		if strings.Contains(first, "viande") || strings.Contains(first, "poisson") || strings.Contains(first, "poulet") {
			qualityBonus += 10
		}
		details.QualityBonus = qualityBonus

		if ingredientScore < 0 {
			ingredientScore = 0
		}
		score = score - (40 - ingredientScore)
	}

	if len(additives) > 0 {
		penalty := 0
		for _, add := range additives {
			code := strings.ToUpper(add.Code)
			switch {
			case dangerousAdditiveCodes[code] || add.Risk == models.RiskDangerous:
				penalty += 10
			case moderateAdditiveCodes[code] || add.Risk == models.RiskModerate:
				penalty += 4
			}
		}
		details.AdditivesPenalty = penalty
		score -= minInt(penalty, 30)
	}

	score += minInt(details.QualityBonus, 15)

	if nutrients != nil {
		switch {
		case nutrients.Protein > 25:
			details.Protein = 5
		case nutrients.Protein > 15:
			details.Protein = 3
		}
		switch {
		case nutrients.Fat < 15:
			details.Fat = 3
		case nutrients.Fat > 25:
			details.Fat = -3
		}
		switch {
		case nutrients.Fiber > 3:
			details.Fiber = 3
		case nutrients.Fiber > 1:
			details.Fiber = 1
		}
		score += details.Protein + details.Fat + details.Fiber
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, details
}

// matchesControversialTerm reports whether an ingredient name contains one of
// the controversial terms, case-insensitively.
func matchesControversialTerm(name string) bool {
	lower := strings.ToLower(name)
	for _, term := range controversialTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
