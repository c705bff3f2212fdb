package models

import (
	"time"

	"gorm.io/datatypes"
)

// Risk classifies an ingredient or additive.
type Risk string

const (
	RiskSafe      Risk = "safe"
	RiskModerate  Risk = "moderate"
	RiskDangerous Risk = "dangerous"
)

// Product categories. Alimentation is the default when nothing matches.
const (
	CategoryAlimentation = "alimentation"
	CategorySoin         = "soin"
	CategoryHygiene      = "hygiene"
	CategoryJouet        = "jouet"
)

// SpeciesAll is the sentinel used when no species tag can be derived.
const SpeciesAll = "tous"

// KnownSpecies lists the species tags a product can target.
var KnownSpecies = []string{"chien", "chat", "oiseau", "rongeur", "poisson", "reptile"}

// Ingredient is a single entry of a product's ingredient list. Order matters:
// the first entry is the primary ingredient.
type Ingredient struct {
	Name            string `json:"name"`
	IsControversial bool   `json:"is_controversial"`
	Risk            Risk   `json:"risk"`
}

// Additive is a declared additive, usually identified by an E-number code.
type Additive struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
	Risk Risk   `json:"risk"`
}

// ScoreDetails is the diagnostic breakdown of a nutrition score. The
// additives penalty and quality bonus are recorded as accumulated raw values;
// their contribution to the score itself is capped (30 and 15 respectively),
// so the fields do not necessarily sum to score-70.
type ScoreDetails struct {
	Protein          int `json:"protein"`
	Fat              int `json:"fat"`
	Fiber            int `json:"fiber"`
	AdditivesPenalty int `json:"additives_penalty"`
	QualityBonus     int `json:"quality_bonus"`
}

// Product is a catalog entry, keyed by its barcode. Entries are created
// either by community submission or by the first successful provider
// resolution, and are never rescored afterwards.
type Product struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Barcode string `json:"barcode" gorm:"uniqueIndex;not null"`
	Name    string `json:"name" gorm:"not null"`
	Brand   string `json:"brand,omitempty"`

	Category      string   `json:"category" gorm:"index;default:'alimentation'"`
	TargetAnimals []string `json:"target_animals" gorm:"serializer:json;type:jsonb"`

	Ingredients []Ingredient `json:"ingredients" gorm:"serializer:json;type:jsonb"`
	Additives   []Additive   `json:"additives" gorm:"serializer:json;type:jsonb"`

	NutritionScore int          `json:"nutrition_score"`
	ScoreDetails   ScoreDetails `json:"score_details" gorm:"serializer:json;type:jsonb"`

	ImageURL  string `json:"image_url,omitempty"`
	S3Link    string `json:"s3_link,omitempty"`
	Submitted bool   `json:"submitted" gorm:"default:false"` // community contribution vs provider resolution

	// Raw provider payload kept for audit; empty for submitted products.
	RawPayload datatypes.JSON `json:"-" gorm:"type:jsonb"`
}

// TableName sets the explicit table name for GORM.
func (Product) TableName() string {
	return "products"
}
