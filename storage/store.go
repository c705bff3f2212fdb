package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"petscan/models"
)

// ErrDuplicateBarcode is returned by Insert when the barcode is already
// taken. Community submissions surface it; the resolver never sees it
// because it goes through InsertOrGet.
var ErrDuplicateBarcode = errors.New("barcode already exists")

// SearchQuery bundles the catalog search filters.
type SearchQuery struct {
	Text     string
	Category string
	Species  string
	Limit    int
}

// CatalogStore is the gorm-backed product store. It owns the product
// lifetime: nothing else mutates or deletes catalog entries.
type CatalogStore struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewCatalogStore creates a product store on the given connection.
func NewCatalogStore(db *gorm.DB, logger *zap.Logger) *CatalogStore {
	return &CatalogStore{DB: db, Logger: logger}
}

// GetByBarcode returns the product for a barcode, or nil when absent.
func (s *CatalogStore) GetByBarcode(ctx context.Context, barcode string) (*models.Product, error) {
	var product models.Product
	err := s.DB.WithContext(ctx).Where("barcode = ?", barcode).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// InsertOrGet persists a new product keyed by barcode. When a concurrent
// resolution won the insert race, the existing row is re-read and returned
// instead of surfacing a duplicate-key error. The boolean reports whether
// this call did the insert.
func (s *CatalogStore) InsertOrGet(ctx context.Context, product *models.Product) (*models.Product, bool, error) {
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "barcode"}},
		DoNothing: true,
	}).Create(product)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := s.GetByBarcode(ctx, product.Barcode)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			// Row vanished between conflict and re-read; treat as a plain miss.
			return nil, false, gorm.ErrRecordNotFound
		}
		s.Logger.Debug("Insert race lost, returning existing product",
			zap.String("barcode", product.Barcode))
		return existing, false, nil
	}
	return product, true, nil
}

// Insert persists a community submission and rejects duplicate barcodes.
func (s *CatalogStore) Insert(ctx context.Context, product *models.Product) error {
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "barcode"}},
		DoNothing: true,
	}).Create(product)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateBarcode
	}
	return nil
}

// SetImageLink stores the mirrored image location for a product. Scores and
// ingredient data stay untouched.
func (s *CatalogStore) SetImageLink(ctx context.Context, productID uint, link string) error {
	return s.DB.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).
		Update("s3_link", link).Error
}

// Search returns catalog entries matching the filters, ranked by nutrition
// score descending. Products targeting all species match any species filter.
func (s *CatalogStore) Search(ctx context.Context, q SearchQuery) ([]models.Product, error) {
	query := s.DB.WithContext(ctx).Model(&models.Product{})

	if q.Text != "" {
		pattern := "%" + q.Text + "%"
		query = query.Where("name ILIKE ? OR brand ILIKE ?", pattern, pattern)
	}
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}
	if q.Species != "" {
		query = query.Where("target_animals @> ? OR target_animals @> ?",
			`["`+q.Species+`"]`, `["`+models.SpeciesAll+`"]`)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var products []models.Product
	if err := query.Order("nutrition_score desc, created_at desc").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// Count returns the catalog size.
func (s *CatalogStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Product{}).Count(&count).Error
	return count, err
}

// LedgerStore is the gorm-backed scan ledger. Append-only: entries are never
// updated or deduplicated.
type LedgerStore struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewLedgerStore creates a scan ledger on the given connection.
func NewLedgerStore(db *gorm.DB, logger *zap.Logger) *LedgerStore {
	return &LedgerStore{DB: db, Logger: logger}
}

// Append records that a user looked up a product now.
func (s *LedgerStore) Append(ctx context.Context, userID, productID uint) error {
	entry := models.ScanHistory{
		UserID:    userID,
		ProductID: productID,
		ScannedAt: time.Now().UTC(),
	}
	return s.DB.WithContext(ctx).Create(&entry).Error
}

// HistoryForUser returns the most recent scans of a user, newest first,
// with the referenced products preloaded.
func (s *LedgerStore) HistoryForUser(ctx context.Context, userID uint, limit int) ([]models.ScanHistory, error) {
	var entries []models.ScanHistory
	err := s.DB.WithContext(ctx).
		Preload("Product").
		Where("user_id = ?", userID).
		Order("scanned_at desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CountSince returns the number of ledger entries written after t.
func (s *LedgerStore) CountSince(ctx context.Context, t time.Time) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.ScanHistory{}).
		Where("scanned_at > ?", t).Count(&count).Error
	return count, err
}
