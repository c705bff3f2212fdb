package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"petscan/config"
	"petscan/models"
	"petscan/providers"
	"petscan/storage"
)

// memProductStore is an in-memory ProductStore for tests.
type memProductStore struct {
	mu      sync.Mutex
	byCode  map[string]*models.Product
	nextID  uint
	inserts int
}

func newMemProductStore() *memProductStore {
	return &memProductStore{byCode: map[string]*models.Product{}}
}

func (m *memProductStore) GetByBarcode(_ context.Context, barcode string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byCode[barcode], nil
}

func (m *memProductStore) InsertOrGet(_ context.Context, product *models.Product) (*models.Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byCode[product.Barcode]; ok {
		return existing, false, nil
	}
	m.nextID++
	m.inserts++
	product.ID = m.nextID
	m.byCode[product.Barcode] = product
	return product, true, nil
}

func (m *memProductStore) Insert(_ context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCode[product.Barcode]; ok {
		return storage.ErrDuplicateBarcode
	}
	m.nextID++
	m.inserts++
	product.ID = m.nextID
	m.byCode[product.Barcode] = product
	return nil
}

func (m *memProductStore) SetImageLink(_ context.Context, productID uint, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byCode {
		if p.ID == productID {
			p.S3Link = link
		}
	}
	return nil
}

func (m *memProductStore) Search(_ context.Context, q storage.SearchQuery) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.byCode {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NutritionScore > out[j].NutritionScore })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// memLedger is an in-memory ScanLedger.
type memLedger struct {
	mu      sync.Mutex
	entries []models.ScanHistory
	failing bool
}

func (m *memLedger) Append(_ context.Context, userID, productID uint) error {
	if m.failing {
		return errors.New("ledger unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, models.ScanHistory{
		UserID:    userID,
		ProductID: productID,
		ScannedAt: time.Now(),
	})
	return nil
}

func (m *memLedger) HistoryForUser(_ context.Context, userID uint, limit int) ([]models.ScanHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScanHistory
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// stubProvider returns a fixed payload or error and counts its calls.
type stubProvider struct {
	name    string
	payload *providers.ProductPayload
	err     error

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(_ context.Context, barcode string) (*providers.ProductPayload, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	payload := *s.payload
	payload.Barcode = barcode
	return &payload, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testService(products ProductStore, scans ScanLedger, provs ...providers.Provider) *CatalogService {
	cfg := &config.Config{ProviderTimeout: time.Second}
	return NewCatalogService(cfg, products, scans, zap.NewNop(), provs, nil)
}

func petFoodPayload() *providers.ProductPayload {
	return &providers.ProductPayload{
		ProductName: "Croquettes pour chien adulte",
		Brands:      "TestBrand",
		Categories:  "Aliments pour chiens",
		Ingredients: []providers.IngredientEntry{
			{Text: "Viande fraîche de poulet"},
			{Text: "Riz"},
		},
		AdditiveTags: []string{"en:e330"},
		Nutriments:   providers.Nutriments{Proteins100g: 30, Fat100g: 10, Fiber100g: 4},
	}
}

func TestResolveFallbackOrdering(t *testing.T) {
	store := newMemProductStore()
	ledger := &memLedger{}
	petProvider := &stubProvider{name: "openpetfoodfacts", err: providers.ErrNotInCatalog}
	generalPayload := petFoodPayload()
	generalPayload.ProductName = "Croquettes générales"
	generalProvider := &stubProvider{name: "openfoodfacts", payload: generalPayload}

	svc := testService(store, ledger, petProvider, generalProvider)

	product, source, err := svc.Resolve(context.Background(), "3000000000001", 0)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if source != "openfoodfacts" {
		t.Errorf("source = %q, want the second provider", source)
	}
	if product.Name != "Croquettes générales" {
		t.Errorf("product name = %q, want data from the general provider", product.Name)
	}
	if petProvider.callCount() != 1 {
		t.Errorf("pet provider called %d times, want 1", petProvider.callCount())
	}
	if store.inserts != 1 {
		t.Errorf("expected exactly one insert, got %d", store.inserts)
	}
}

func TestResolveProviderErrorsAbsorbed(t *testing.T) {
	store := newMemProductStore()
	failing := &stubProvider{name: "openpetfoodfacts", err: errors.New("connection refused")}
	working := &stubProvider{name: "openfoodfacts", payload: petFoodPayload()}

	svc := testService(store, &memLedger{}, failing, working)

	if _, _, err := svc.Resolve(context.Background(), "3000000000002", 0); err != nil {
		t.Fatalf("transport error should be absorbed by the chain, got %v", err)
	}
}

func TestResolveAllProvidersExhausted(t *testing.T) {
	store := newMemProductStore()
	p1 := &stubProvider{name: "openpetfoodfacts", err: providers.ErrNotInCatalog}
	p2 := &stubProvider{name: "openfoodfacts", err: errors.New("timeout")}

	svc := testService(store, &memLedger{}, p1, p2)

	_, _, err := svc.Resolve(context.Background(), "3000000000003", 0)
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	store := newMemProductStore()
	provider := &stubProvider{name: "openpetfoodfacts", payload: petFoodPayload()}
	svc := testService(store, &memLedger{}, provider)

	first, source1, err := svc.Resolve(context.Background(), "3000000000004", 0)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if source1 != "openpetfoodfacts" {
		t.Errorf("first source = %q", source1)
	}

	second, source2, err := svc.Resolve(context.Background(), "3000000000004", 0)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if source2 != SourceStore {
		t.Errorf("second source = %q, want %q", source2, SourceStore)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1 (second resolve must hit the store)", provider.callCount())
	}
	if first.ID != second.ID || first.NutritionScore != second.NutritionScore {
		t.Errorf("second resolve returned a different product: %+v vs %+v", first, second)
	}
}

func TestResolveCacheDurability(t *testing.T) {
	store := newMemProductStore()
	provider := &stubProvider{name: "openpetfoodfacts", payload: petFoodPayload()}
	svc := testService(store, &memLedger{}, provider)

	if _, _, err := svc.Resolve(context.Background(), "3000000000005", 0); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	// Both providers gone: the store must still answer.
	svc.Providers = []providers.Provider{
		&stubProvider{name: "openpetfoodfacts", err: errors.New("gone")},
		&stubProvider{name: "openfoodfacts", err: errors.New("gone")},
	}
	product, source, err := svc.Resolve(context.Background(), "3000000000005", 0)
	if err != nil {
		t.Fatalf("resolve after provider loss failed: %v", err)
	}
	if source != SourceStore || product == nil {
		t.Fatalf("expected store hit, got source %q", source)
	}
}

func TestResolveScoresFormattedProduct(t *testing.T) {
	store := newMemProductStore()
	provider := &stubProvider{name: "openpetfoodfacts", payload: petFoodPayload()}
	svc := testService(store, &memLedger{}, provider)

	product, _, err := svc.Resolve(context.Background(), "3000000000006", 0)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// Formatted additives default to moderate: E330 -> -4. Ingredient pass
	// is clean (format-time safe defaults), bonus 15, nutrients +11.
	if product.NutritionScore != 92 {
		t.Errorf("nutrition score = %d, want 92", product.NutritionScore)
	}
	if product.NutritionScore < 0 || product.NutritionScore > 100 {
		t.Errorf("score %d out of bounds", product.NutritionScore)
	}
	if len(product.Additives) != 1 || product.Additives[0].Risk != models.RiskModerate {
		t.Errorf("unexpected additives: %+v", product.Additives)
	}
}

func TestResolveRecordsScanForAuthenticatedUser(t *testing.T) {
	store := newMemProductStore()
	ledger := &memLedger{}
	provider := &stubProvider{name: "openpetfoodfacts", payload: petFoodPayload()}
	svc := testService(store, ledger, provider)

	if _, _, err := svc.Resolve(context.Background(), "3000000000007", 42); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, _, err := svc.Resolve(context.Background(), "3000000000007", 42); err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}

	history, err := svc.History(context.Background(), 42)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	// Never deduplicated: two lookups, two entries.
	if len(history) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(history))
	}
}

func TestResolveAnonymousSkipsLedger(t *testing.T) {
	store := newMemProductStore()
	ledger := &memLedger{}
	provider := &stubProvider{name: "openpetfoodfacts", payload: petFoodPayload()}
	svc := testService(store, ledger, provider)

	if _, _, err := svc.Resolve(context.Background(), "3000000000008", 0); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(ledger.entries) != 0 {
		t.Fatalf("anonymous lookup wrote %d ledger entries", len(ledger.entries))
	}
}

func TestResolveLedgerFailureDoesNotFailResolve(t *testing.T) {
	store := newMemProductStore()
	ledger := &memLedger{failing: true}
	provider := &stubProvider{name: "openpetfoodfacts", payload: petFoodPayload()}
	svc := testService(store, ledger, provider)

	if _, _, err := svc.Resolve(context.Background(), "3000000000009", 42); err != nil {
		t.Fatalf("ledger failure leaked into resolve: %v", err)
	}
}

func TestResolveInsertRaceReturnsExisting(t *testing.T) {
	store := newMemProductStore()
	provider := &stubProvider{name: "openpetfoodfacts", payload: petFoodPayload()}
	svc := testService(store, &memLedger{}, provider)

	// Simulate a concurrent resolution winning the insert between our miss
	// and our insert: the store already holds the row when InsertOrGet runs.
	winner := &models.Product{Barcode: "3000000000010", Name: "Winner", NutritionScore: 88}
	raced := &racingStore{memProductStore: store, winner: winner}
	svc.Products = raced

	product, _, err := svc.Resolve(context.Background(), "3000000000010", 0)
	if err != nil {
		t.Fatalf("race must be recovered, got %v", err)
	}
	if product.Name != "Winner" {
		t.Fatalf("expected the winner's row, got %q", product.Name)
	}
}

// racingStore reports a miss on read but an existing row on insert.
type racingStore struct {
	*memProductStore
	winner *models.Product
}

func (r *racingStore) GetByBarcode(_ context.Context, barcode string) (*models.Product, error) {
	return nil, nil
}

func (r *racingStore) InsertOrGet(_ context.Context, product *models.Product) (*models.Product, bool, error) {
	return r.winner, false, nil
}

func TestSubmitValidation(t *testing.T) {
	store := newMemProductStore()
	svc := testService(store, &memLedger{})

	_, err := svc.Submit(context.Background(), SubmitInput{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Fields["barcode"] == "" || verr.Fields["name"] == "" {
		t.Fatalf("expected field-level detail for barcode and name, got %+v", verr.Fields)
	}
}

func TestSubmitDuplicateBarcode(t *testing.T) {
	store := newMemProductStore()
	svc := testService(store, &memLedger{})

	input := SubmitInput{Barcode: "4000000000001", Name: "Pâtée maison"}
	if _, err := svc.Submit(context.Background(), input); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	_, err := svc.Submit(context.Background(), input)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate barcode, got %v", err)
	}
	if verr.Fields["barcode"] == "" {
		t.Fatalf("expected barcode field detail, got %+v", verr.Fields)
	}
}

func TestSubmitScoresSynchronously(t *testing.T) {
	store := newMemProductStore()
	svc := testService(store, &memLedger{})

	product, err := svc.Submit(context.Background(), SubmitInput{
		Barcode: "4000000000002",
		Name:    "Croquettes maison",
		Ingredients: []models.Ingredient{
			{Name: "Viande fraîche de poulet", Risk: models.RiskSafe},
		},
		Nutrients: &NutrientStats{Protein: 30, Fat: 10, Fiber: 4},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if product.NutritionScore != 96 {
		t.Errorf("score = %d, want 96", product.NutritionScore)
	}
	if !product.Submitted {
		t.Errorf("expected the submitted flag to be set")
	}
	if len(product.TargetAnimals) != 1 || product.TargetAnimals[0] != models.SpeciesAll {
		t.Errorf("expected species sentinel default, got %v", product.TargetAnimals)
	}
}

func TestSubmitUnknownCategory(t *testing.T) {
	svc := testService(newMemProductStore(), &memLedger{})

	_, err := svc.Submit(context.Background(), SubmitInput{
		Barcode:  "4000000000003",
		Name:     "Produit",
		Category: "electronique",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Fields["category"] == "" {
		t.Fatalf("expected category field detail, got %+v", verr.Fields)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	store := newMemProductStore()
	ledger := &memLedger{}
	svc := testService(store, ledger)

	for i := 0; i < 3; i++ {
		barcode := fmt.Sprintf("500000000000%d", i)
		store.byCode[barcode] = &models.Product{ID: uint(i + 1), Barcode: barcode}
		if _, _, err := svc.Resolve(context.Background(), barcode, 7); err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
	}

	history, err := svc.History(context.Background(), 7)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	if history[0].ProductID != 3 || history[2].ProductID != 1 {
		t.Fatalf("history not newest-first: %+v", history)
	}
}
