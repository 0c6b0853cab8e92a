package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/ids"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testIntegrationID = "integration-1"

func TestRecordIsIdempotentForIdenticalTuple(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	for attempt := 0; attempt < 2; attempt++ {
		if err := service.Record(ctx, testIntegrationID, Inventory("inv-1"), ExternalVariant, "gid://shopify/ProductVariant/11", nil); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", attempt, err)
		}
	}

	var count int64
	if err := db.Model(&Identifier{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count identifiers: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one identifier row, got %d", count)
	}
}

func TestRecordRejectsExternalIDClaimedByAnotherEntity(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if err := service.Record(ctx, testIntegrationID, Colorway("cw-1"), ExternalProduct, "gid://shopify/Product/1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := service.Record(ctx, testIntegrationID, Colorway("cw-2"), ExternalProduct, "gid://shopify/Product/1", nil)
	if !errors.Is(err, ErrExternalIDClaimed) {
		t.Fatalf("expected ErrExternalIDClaimed, got %v", err)
	}
}

func TestRecordReplacesChangedExternalID(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if err := service.Record(ctx, testIntegrationID, Colorway("cw-1"), ExternalProduct, "gid://shopify/Product/1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Record(ctx, testIntegrationID, Colorway("cw-1"), ExternalProduct, "gid://shopify/Product/2", map[string]any{"handle": "ember"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	externalID, found, err := service.Resolve(ctx, testIntegrationID, Colorway("cw-1"), ExternalProduct)
	if err != nil || !found {
		t.Fatalf("expected mapping, found=%v err=%v", found, err)
	}
	if externalID != "gid://shopify/Product/2" {
		t.Fatalf("expected replaced external id, got %s", externalID)
	}

	var rows []Identifier
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("failed to load identifiers: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single identifier after replacement, got %d", len(rows))
	}
	if rows[0].Data["handle"] != "ember" {
		t.Fatalf("expected data blob to be stored, got %#v", rows[0].Data)
	}
}

func TestMappingsAreScopedPerIntegration(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if err := service.Record(ctx, "integration-a", Inventory("inv-1"), ExternalVariant, "gid://shopify/ProductVariant/5", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Record(ctx, "integration-b", Inventory("inv-2"), ExternalVariant, "gid://shopify/ProductVariant/5", nil); err != nil {
		t.Fatalf("same external id under another integration should be allowed: %v", err)
	}

	entity, found, err := service.ResolveInternal(ctx, "integration-b", ExternalVariant, "gid://shopify/ProductVariant/5", EntityInventory)
	if err != nil || !found {
		t.Fatalf("expected reverse mapping, found=%v err=%v", found, err)
	}
	if entity.ID != "inv-2" {
		t.Fatalf("expected inv-2, got %s", entity.ID)
	}
}

func TestResolveReportsMissingMapping(t *testing.T) {
	service, _ := newTestService(t)

	_, found, err := service.Resolve(context.Background(), testIntegrationID, Inventory("inv-404"), ExternalVariant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected no mapping")
	}

	_, found, err = service.ResolveInternal(context.Background(), testIntegrationID, ExternalVariant, "gid://shopify/ProductVariant/404", EntityInventory)
	if err != nil || found {
		t.Fatalf("expected no reverse mapping, found=%v err=%v", found, err)
	}
}

func TestNewEntityRefRejectsUnknownKind(t *testing.T) {
	if _, err := NewEntityRef("widget", "1"); !errors.Is(err, ErrUnknownEntityKind) {
		t.Fatalf("expected ErrUnknownEntityKind, got %v", err)
	}
	if _, err := NewEntityRef(EntityColorway, "  "); !errors.Is(err, ErrMissingEntityID) {
		t.Fatalf("expected ErrMissingEntityID, got %v", err)
	}
}

func TestDeleteForIntegrationCascades(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_ = service.Record(ctx, testIntegrationID, Colorway("cw-1"), ExternalProduct, "gid://shopify/Product/1", nil)
	_ = service.Record(ctx, testIntegrationID, Inventory("inv-1"), ExternalVariant, "gid://shopify/ProductVariant/1", nil)
	_ = service.Record(ctx, "integration-other", Inventory("inv-1"), ExternalVariant, "gid://shopify/ProductVariant/1", nil)

	removed, err := service.DeleteForIntegration(ctx, testIntegrationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed identifiers, got %d", removed)
	}
	if _, found, _ := service.Resolve(ctx, "integration-other", Inventory("inv-1"), ExternalVariant); !found {
		t.Fatalf("mappings of other integrations must survive")
	}
}

func TestForgetRemovesOnlyTheScopedMapping(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_ = service.Record(ctx, testIntegrationID, Inventory("inv-1"), ExternalVariant, "gid://shopify/ProductVariant/1", nil)
	_ = service.Record(ctx, testIntegrationID, Inventory("inv-1"), ExternalInventoryItem, "gid://shopify/InventoryItem/1", nil)
	_ = service.Record(ctx, "integration-other", Inventory("inv-1"), ExternalVariant, "gid://shopify/ProductVariant/1", nil)

	removed, err := service.Forget(ctx, testIntegrationID, Inventory("inv-1"), ExternalVariant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed identifier, got %d", removed)
	}
	if _, found, _ := service.Resolve(ctx, testIntegrationID, Inventory("inv-1"), ExternalVariant); found {
		t.Fatalf("expected variant mapping to be forgotten")
	}
	if _, found, _ := service.Resolve(ctx, testIntegrationID, Inventory("inv-1"), ExternalInventoryItem); !found {
		t.Fatalf("mappings of other kinds must survive")
	}
	if _, found, _ := service.Resolve(ctx, "integration-other", Inventory("inv-1"), ExternalVariant); !found {
		t.Fatalf("mappings of other integrations must survive")
	}

	removed, err = service.Forget(ctx, testIntegrationID, Inventory("inv-1"), ExternalVariant)
	if err != nil || removed != 0 {
		t.Fatalf("expected forgetting twice to be a no-op, removed=%d err=%v", removed, err)
	}
	if _, err := service.Forget(ctx, testIntegrationID, Inventory("inv-1"), ExternalKind("sku")); !errors.Is(err, ErrUnknownExternalKind) {
		t.Fatalf("expected ErrUnknownExternalKind, got %v", err)
	}
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "identity.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identifier{}); err != nil {
		t.Fatalf("failed to migrate identifier schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, IDProvider: ids.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}
