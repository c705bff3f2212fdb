package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"petscan/config"
	"petscan/models"
	"petscan/providers"
	"petscan/storage"
)

// SourceStore marks a resolution served from the local catalog.
const SourceStore = "store"

// historyPageSize bounds the scan history returned per user.
const historyPageSize = 50

// searchPageSize bounds catalog search results.
const searchPageSize = 50

// ProductStore is the persistence surface the resolver needs. Implemented by
// storage.CatalogStore; tests substitute an in-memory version.
type ProductStore interface {
	// GetByBarcode returns nil without error on a miss.
	GetByBarcode(ctx context.Context, barcode string) (*models.Product, error)
	// InsertOrGet resolves concurrent first-fetch races by returning the
	// existing row; the boolean reports whether this call inserted.
	InsertOrGet(ctx context.Context, product *models.Product) (*models.Product, bool, error)
	Insert(ctx context.Context, product *models.Product) error
	SetImageLink(ctx context.Context, productID uint, link string) error
	Search(ctx context.Context, q storage.SearchQuery) ([]models.Product, error)
}

// ScanLedger is the append-only lookup ledger.
type ScanLedger interface {
	Append(ctx context.Context, userID, productID uint) error
	HistoryForUser(ctx context.Context, userID uint, limit int) ([]models.ScanHistory, error)
}

// ImageMirror copies a product image to object storage and returns its new
// location.
type ImageMirror interface {
	MirrorImage(ctx context.Context, barcode, imageURL string) (string, error)
}

// CatalogService resolves barcodes against the local catalog and the
// external provider chain, scoring and persisting new products on the way.
type CatalogService struct {
	Config    *config.Config
	Products  ProductStore
	Scans     ScanLedger
	Logger    *zap.Logger
	Providers []providers.Provider
	Mirror    ImageMirror // optional
}

// NewCatalogService wires up a resolver.
func NewCatalogService(cfg *config.Config, products ProductStore, scans ScanLedger, logger *zap.Logger, provs []providers.Provider, mirror ImageMirror) *CatalogService {
	return &CatalogService{
		Config:    cfg,
		Products:  products,
		Scans:     scans,
		Logger:    logger,
		Providers: provs,
		Mirror:    mirror,
	}
}

// Resolve returns the product for a barcode: from the store when known,
// otherwise from the first provider in the chain that delivers a structured
// payload. Provider timeouts, transport errors and absences are absorbed
// identically; only an exhausted chain yields ErrProductNotFound. The
// returned source is SourceStore or the winning provider's name.
//
// Authenticated lookups (userID > 0) append to the scan ledger; a ledger
// failure never fails the resolution.
func (s *CatalogService) Resolve(ctx context.Context, barcode string, userID uint) (*models.Product, string, error) {
	log := s.Logger.With(zap.String("barcode", barcode))

	existing, err := s.Products.GetByBarcode(ctx, barcode)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		s.recordScan(ctx, userID, existing.ID)
		return existing, SourceStore, nil
	}

	for _, provider := range s.Providers {
		pctx, cancel := context.WithTimeout(ctx, s.Config.ProviderTimeout)
		payload, err := provider.Fetch(pctx, barcode)
		cancel()
		if err != nil {
			if errors.Is(err, providers.ErrNotInCatalog) {
				log.Debug("Provider has no entry for barcode", zap.String("provider", provider.Name()))
			} else {
				log.Warn("Provider lookup failed", zap.String("provider", provider.Name()), zap.Error(err))
			}
			if ctx.Err() != nil {
				// Caller gave up; stop walking the chain.
				return nil, "", ctx.Err()
			}
			continue
		}

		product := FormatPayload(payload)
		score, details := ComputeScore(product.Ingredients, product.Additives, NutrientsFromPayload(payload))
		product.NutritionScore = score
		product.ScoreDetails = details
		if len(payload.Raw) > 0 {
			product.RawPayload = datatypes.JSON(payload.Raw)
		}

		saved, inserted, err := s.Products.InsertOrGet(ctx, product)
		if err != nil {
			return nil, "", err
		}
		if inserted {
			log.Info("New product resolved and persisted",
				zap.String("provider", provider.Name()),
				zap.Int("nutrition_score", saved.NutritionScore))
			s.mirrorImage(saved, payload.ImageURL)
		}

		s.recordScan(ctx, userID, saved.ID)
		return saved, provider.Name(), nil
	}

	return nil, "", ErrProductNotFound
}

// SubmitInput is a community product contribution.
type SubmitInput struct {
	Barcode       string              `json:"barcode"`
	Name          string              `json:"name"`
	Brand         string              `json:"brand"`
	Category      string              `json:"category"`
	TargetAnimals []string            `json:"target_animals"`
	Ingredients   []models.Ingredient `json:"ingredients"`
	Additives     []models.Additive   `json:"additives"`
	Nutrients     *NutrientStats      `json:"nutrients"`
	ImageURL      string              `json:"image_url"`
}

// Submit persists a community contribution. The barcode must be unused; the
// product is scored synchronously before it hits the store.
func (s *CatalogService) Submit(ctx context.Context, in SubmitInput) (*models.Product, error) {
	fields := map[string]string{}
	if in.Barcode == "" {
		fields["barcode"] = "required"
	}
	if in.Name == "" {
		fields["name"] = "required"
	}
	category := in.Category
	if category == "" {
		category = models.CategoryAlimentation
	}
	switch category {
	case models.CategoryAlimentation, models.CategorySoin, models.CategoryHygiene, models.CategoryJouet:
	default:
		fields["category"] = "unknown category"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	existing, err := s.Products.GetByBarcode(ctx, in.Barcode)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, newValidationError("barcode", "already exists")
	}

	animals := in.TargetAnimals
	if len(animals) == 0 {
		animals = []string{models.SpeciesAll}
	}

	score, details := ComputeScore(in.Ingredients, in.Additives, in.Nutrients)
	product := &models.Product{
		Barcode:        in.Barcode,
		Name:           in.Name,
		Brand:          in.Brand,
		Category:       category,
		TargetAnimals:  animals,
		Ingredients:    in.Ingredients,
		Additives:      in.Additives,
		NutritionScore: score,
		ScoreDetails:   details,
		ImageURL:       in.ImageURL,
		Submitted:      true,
	}

	if err := s.Products.Insert(ctx, product); err != nil {
		if errors.Is(err, storage.ErrDuplicateBarcode) {
			return nil, newValidationError("barcode", "already exists")
		}
		return nil, err
	}

	s.Logger.Info("Community product submitted",
		zap.String("barcode", product.Barcode),
		zap.Int("nutrition_score", product.NutritionScore))
	return product, nil
}

// History returns the caller's scan history, newest first, bounded.
func (s *CatalogService) History(ctx context.Context, userID uint) ([]models.ScanHistory, error) {
	return s.Scans.HistoryForUser(ctx, userID, historyPageSize)
}

// Search queries the catalog, ranked by nutrition score descending.
func (s *CatalogService) Search(ctx context.Context, text, category, species string) ([]models.Product, error) {
	return s.Products.Search(ctx, storage.SearchQuery{
		Text:     text,
		Category: category,
		Species:  species,
		Limit:    searchPageSize,
	})
}

// recordScan appends to the ledger for authenticated callers. Failures are
// logged and swallowed: the ledger must never fail a resolution.
func (s *CatalogService) recordScan(ctx context.Context, userID, productID uint) {
	if userID == 0 {
		return
	}
	if err := s.Scans.Append(ctx, userID, productID); err != nil {
		s.Logger.Warn("Scan ledger append failed",
			zap.Uint("user_id", userID),
			zap.Uint("product_id", productID),
			zap.Error(err))
	}
}

// mirrorImage copies the provider image to object storage in the background.
// Best effort only.
func (s *CatalogService) mirrorImage(product *models.Product, imageURL string) {
	if s.Mirror == nil || imageURL == "" {
		return
	}
	productID := product.ID
	barcode := product.Barcode
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.Config.ProviderTimeout*2)
		defer cancel()
		link, err := s.Mirror.MirrorImage(ctx, barcode, imageURL)
		if err != nil {
			s.Logger.Warn("Image mirror failed", zap.String("barcode", barcode), zap.Error(err))
			return
		}
		if err := s.Products.SetImageLink(ctx, productID, link); err != nil {
			s.Logger.Warn("Storing mirrored image link failed", zap.String("barcode", barcode), zap.Error(err))
		}
	}()
}
