package storesync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/shopify"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const testAccountID = "acct-1"

var errRemoteRejected = errors.New("remote rejected")

type fakeCommerce struct {
	mu sync.Mutex

	product          shopify.CreatedProduct
	createErr        error
	updateErr        error
	imagesErr        error
	updateVariantErr error
	failQuantities   map[string]error
	quantities       map[string]int
	createdFor       []string
	updatedBases     map[string]string
	deleted          []string
	imageCalls       int
	imageSets        [][]catalog.Media
	nextVariant      int
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{failQuantities: map[string]error{}, quantities: map[string]int{}, updatedBases: map[string]string{}}
}

func (f *fakeCommerce) CreateProduct(ctx context.Context, colorway catalog.Colorway, bases []catalog.Base) (shopify.CreatedProduct, error) {
	if f.createErr != nil {
		return shopify.CreatedProduct{}, f.createErr
	}
	return f.product, nil
}

func (f *fakeCommerce) UpdateProduct(ctx context.Context, productID string, colorway catalog.Colorway) error {
	return f.updateErr
}

func (f *fakeCommerce) CreateVariant(ctx context.Context, productID string, base catalog.Base) (shopify.CreatedVariant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextVariant++
	f.createdFor = append(f.createdFor, base.ID)
	return shopify.CreatedVariant{
		ID:              fmt.Sprintf("gid://shopify/ProductVariant/9%d", f.nextVariant),
		InventoryItemID: fmt.Sprintf("gid://shopify/InventoryItem/9%d", f.nextVariant),
	}, nil
}

func (f *fakeCommerce) UpdateVariant(ctx context.Context, productID, variantID string, base catalog.Base) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateVariantErr != nil {
		return f.updateVariantErr
	}
	f.updatedBases[variantID] = base.Descriptor + "@" + base.RetailPrice.StringFixed(2)
	return nil
}

func (f *fakeCommerce) DeleteVariant(ctx context.Context, productID, variantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, variantID)
	return nil
}

func (f *fakeCommerce) SetInventoryQuantity(ctx context.Context, variantID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failQuantities[variantID]; err != nil {
		return err
	}
	f.quantities[variantID] = quantity
	return nil
}

func (f *fakeCommerce) SyncImages(ctx context.Context, productID string, media []catalog.Media) error {
	f.imageCalls++
	f.imageSets = append(f.imageSets, media)
	return f.imagesErr
}

func (f *fakeCommerce) VariantForInventoryItem(ctx context.Context, inventoryItemID string) (string, bool, error) {
	return "", false, nil
}

type fakeProvider struct {
	commerce *fakeCommerce
}

func (p fakeProvider) ForIntegration(ctx context.Context, connection *integration.Integration) (Commerce, error) {
	return p.commerce, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type fixture struct {
	db          *gorm.DB
	service     *Service
	identifiers *identity.Service
	commerce    *fakeCommerce
	publisher   *capturePublisher
	connection  *integration.Integration
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "storesync.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	models := append(catalog.Models(), &integration.Integration{}, &identity.Identifier{}, &SyncLog{})
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	identifiers, err := identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create identity service: %v", err)
	}
	integrations, err := integration.NewService(integration.ServiceConfig{Database: db, Identifiers: identifiers})
	if err != nil {
		t.Fatalf("failed to create integration service: %v", err)
	}
	connection, err := integrations.Create(context.Background(), integration.CreateRequest{
		AccountID:   testAccountID,
		Kind:        integration.KindShopify,
		ShopDomain:  "dye-house",
		AccessToken: "shpat_test",
	})
	if err != nil {
		t.Fatalf("failed to create integration: %v", err)
	}

	f := &fixture{
		db:          db,
		identifiers: identifiers,
		commerce:    newFakeCommerce(),
		publisher:   &capturePublisher{},
		connection:  connection,
		now:         time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	service, err := NewService(ServiceConfig{
		Database:     db,
		Identifiers:  identifiers,
		Integrations: integrations,
		Commerce:     fakeProvider{commerce: f.commerce},
		Publisher:    f.publisher,
		Clock:        func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	f.service = service
	return f
}

func (f *fixture) createColorway(t *testing.T, id string) catalog.Colorway {
	t.Helper()
	colorway := catalog.Colorway{ID: id, AccountID: testAccountID, Name: "Colorway " + id, Status: catalog.ColorwayStatusActive}
	if err := f.db.Create(&colorway).Error; err != nil {
		t.Fatalf("failed to create colorway: %v", err)
	}
	return colorway
}

func (f *fixture) createBase(t *testing.T, id, descriptor string, createdAt time.Time) catalog.Base {
	t.Helper()
	base := catalog.Base{
		ID:          id,
		AccountID:   testAccountID,
		Descriptor:  descriptor,
		RetailPrice: decimal.RequireFromString("28.00"),
		Status:      catalog.BaseStatusActive,
		CreatedAt:   createdAt,
	}
	if err := f.db.Create(&base).Error; err != nil {
		t.Fatalf("failed to create base: %v", err)
	}
	return base
}

func (f *fixture) createInventory(t *testing.T, id, colorwayID, baseID string, quantity int) catalog.Inventory {
	t.Helper()
	row := catalog.Inventory{ID: id, AccountID: testAccountID, ColorwayID: colorwayID, BaseID: baseID, Quantity: quantity}
	if err := f.db.Create(&row).Error; err != nil {
		t.Fatalf("failed to create inventory: %v", err)
	}
	return row
}

func (f *fixture) mapVariant(t *testing.T, inventoryID, variantID string) {
	t.Helper()
	if err := f.identifiers.Record(context.Background(), f.connection.ID, identity.Inventory(inventoryID), identity.ExternalVariant, variantID, nil); err != nil {
		t.Fatalf("failed to map variant: %v", err)
	}
}

func (f *fixture) loadInventory(t *testing.T, id string) catalog.Inventory {
	t.Helper()
	var row catalog.Inventory
	if err := f.db.Where("id = ?", id).Take(&row).Error; err != nil {
		t.Fatalf("failed to load inventory: %v", err)
	}
	return row
}

func (f *fixture) logs(t *testing.T) []SyncLog {
	t.Helper()
	var logs []SyncLog
	if err := f.db.Order("synced_at ASC").Order("id ASC").Find(&logs).Error; err != nil {
		t.Fatalf("failed to load logs: %v", err)
	}
	return logs
}
