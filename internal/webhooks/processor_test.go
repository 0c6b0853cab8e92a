package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/shopify"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/storesync"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubCommerce struct {
	variants map[string]string
	lookups  int
}

func (s *stubCommerce) CreateProduct(ctx context.Context, colorway catalog.Colorway, bases []catalog.Base) (shopify.CreatedProduct, error) {
	return shopify.CreatedProduct{}, errors.New("not supported")
}

func (s *stubCommerce) UpdateProduct(ctx context.Context, productID string, colorway catalog.Colorway) error {
	return errors.New("not supported")
}

func (s *stubCommerce) CreateVariant(ctx context.Context, productID string, base catalog.Base) (shopify.CreatedVariant, error) {
	return shopify.CreatedVariant{}, errors.New("not supported")
}

func (s *stubCommerce) UpdateVariant(ctx context.Context, productID, variantID string, base catalog.Base) error {
	return nil
}

func (s *stubCommerce) DeleteVariant(ctx context.Context, productID, variantID string) error {
	return nil
}

func (s *stubCommerce) SetInventoryQuantity(ctx context.Context, variantID string, quantity int) error {
	return errors.New("pull must not push")
}

func (s *stubCommerce) SyncImages(ctx context.Context, productID string, media []catalog.Media) error {
	return errors.New("not supported")
}

func (s *stubCommerce) VariantForInventoryItem(ctx context.Context, inventoryItemID string) (string, bool, error) {
	s.lookups++
	variantID, ok := s.variants[inventoryItemID]
	return variantID, ok, nil
}

type stubProvider struct {
	commerce *stubCommerce
}

func (p stubProvider) ForIntegration(ctx context.Context, connection *integration.Integration) (storesync.Commerce, error) {
	return p.commerce, nil
}

type processorFixture struct {
	db           *gorm.DB
	processor    *Processor
	integrations *integration.Service
	connection   *integration.Integration
	commerce     *stubCommerce
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "webhooks.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	models := append(catalog.Models(), &integration.Integration{}, &identity.Identifier{}, &storesync.SyncLog{})
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
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
		AccountID: "acct", Kind: integration.KindShopify, ShopDomain: "dye-house", AccessToken: "shpat",
	})
	if err != nil {
		t.Fatalf("failed to create integration: %v", err)
	}

	commerce := &stubCommerce{variants: map[string]string{"808": "gid://shopify/ProductVariant/1"}}
	provider := stubProvider{commerce: commerce}
	syncService, err := storesync.NewService(storesync.ServiceConfig{
		Database:     db,
		Identifiers:  identifiers,
		Integrations: integrations,
		Commerce:     provider,
	})
	if err != nil {
		t.Fatalf("failed to create sync service: %v", err)
	}
	processor, err := NewProcessor(ProcessorConfig{
		Connections: integrations,
		Puller:      syncService,
		Commerce:    provider,
		Ledger:      NewMemoryLedger(time.Hour, nil),
	})
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}

	if err := db.Create(&catalog.Inventory{ID: "inv-1", AccountID: "acct", ColorwayID: "cw-1", BaseID: "base-1", Quantity: 5}).Error; err != nil {
		t.Fatalf("failed to seed inventory: %v", err)
	}
	if err := identifiers.Record(context.Background(), connection.ID, identity.Inventory("inv-1"), identity.ExternalVariant, "gid://shopify/ProductVariant/1", nil); err != nil {
		t.Fatalf("failed to seed mapping: %v", err)
	}

	return &processorFixture{db: db, processor: processor, integrations: integrations, connection: connection, commerce: commerce}
}

func (f *processorFixture) quantity(t *testing.T) int {
	t.Helper()
	var row catalog.Inventory
	if err := f.db.Where("id = ?", "inv-1").Take(&row).Error; err != nil {
		t.Fatalf("failed to load inventory: %v", err)
	}
	return row.Quantity
}

func TestInventoryLevelUpdatePullsQuantity(t *testing.T) {
	f := newProcessorFixture(t)
	result, err := f.processor.Process(context.Background(), Delivery{
		Topic:      TopicInventoryLevelsUpdate,
		ShopDomain: "DYE-HOUSE.myshopify.com",
		WebhookID:  "delivery-1",
		Body:       []byte(`{"inventory_item_id":808,"location_id":1,"available":12}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeProcessed || result.IntegrationID != f.connection.ID {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := f.quantity(t); got != 12 {
		t.Fatalf("expected quantity 12, got %d", got)
	}
}

func TestReplayedDeliveryIsAcknowledgedOnce(t *testing.T) {
	f := newProcessorFixture(t)
	delivery := Delivery{
		Topic:      TopicInventoryLevelsUpdate,
		ShopDomain: "dye-house.myshopify.com",
		WebhookID:  "delivery-1",
		Body:       []byte(`{"inventory_item_id":808,"available":12}`),
	}
	if _, err := f.processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delivery.Body = []byte(`{"inventory_item_id":808,"available":99}`)
	result, err := f.processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome, got %q", result.Outcome)
	}
	if got := f.quantity(t); got != 12 {
		t.Fatalf("expected replay to be ignored, got %d", got)
	}
	if f.commerce.lookups != 1 {
		t.Fatalf("expected one variant lookup, got %d", f.commerce.lookups)
	}
}

func TestMalformedInventoryPayloadIsRejected(t *testing.T) {
	f := newProcessorFixture(t)
	bodies := [][]byte{
		[]byte(`not json`),
		[]byte(`{"available":3}`),
		[]byte(`{"inventory_item_id":808}`),
	}
	for _, body := range bodies {
		_, err := f.processor.Process(context.Background(), Delivery{
			Topic:      TopicInventoryLevelsUpdate,
			ShopDomain: "dye-house.myshopify.com",
			Body:       body,
		})
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload for %s, got %v", body, err)
		}
	}
	if got := f.quantity(t); got != 5 {
		t.Fatalf("expected untouched quantity, got %d", got)
	}
}

func TestUnknownShopAndTopicAreIgnored(t *testing.T) {
	f := newProcessorFixture(t)
	result, err := f.processor.Process(context.Background(), Delivery{
		Topic:      TopicInventoryLevelsUpdate,
		ShopDomain: "someone-else.myshopify.com",
		Body:       []byte(`{"inventory_item_id":808,"available":1}`),
	})
	if err != nil || result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored unknown shop, got %+v %v", result, err)
	}
	result, err = f.processor.Process(context.Background(), Delivery{
		Topic:      "orders/create",
		ShopDomain: "dye-house.myshopify.com",
		Body:       []byte(`{}`),
	})
	if err != nil || result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored topic, got %+v %v", result, err)
	}
	if got := f.quantity(t); got != 5 {
		t.Fatalf("expected untouched quantity, got %d", got)
	}
}

func TestUnknownInventoryItemIsIgnored(t *testing.T) {
	f := newProcessorFixture(t)
	result, err := f.processor.Process(context.Background(), Delivery{
		Topic:      TopicInventoryLevelsUpdate,
		ShopDomain: "dye-house.myshopify.com",
		Body:       []byte(`{"inventory_item_id":999,"available":1}`),
	})
	if err != nil || result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored item, got %+v %v", result, err)
	}
}

func TestAppUninstalledDeactivatesConnection(t *testing.T) {
	f := newProcessorFixture(t)
	result, err := f.processor.Process(context.Background(), Delivery{
		Topic:      TopicAppUninstalled,
		ShopDomain: "dye-house.myshopify.com",
		Body:       []byte(`{"id":1}`),
	})
	if err != nil || result.Outcome != OutcomeProcessed {
		t.Fatalf("unexpected result: %+v %v", result, err)
	}
	if _, err := f.integrations.FindActiveByShopDomain(context.Background(), integration.KindShopify, "dye-house"); !errors.Is(err, integration.ErrNotFound) {
		t.Fatalf("expected connection to be inactive, got %v", err)
	}
}

func TestVerifierAcceptsOnlyMatchingSignature(t *testing.T) {
	body := []byte(`{"inventory_item_id":808,"available":12}`)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	verifier := NewVerifier("topsecret")
	request := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(body))
	request.Header.Set(HeaderHmac, signature)
	if !verifier.Verify(request) {
		t.Fatalf("expected matching signature to verify")
	}
	replayed, err := io.ReadAll(request.Body)
	if err != nil || !bytes.Equal(replayed, body) {
		t.Fatalf("expected body to remain readable, got %q %v", replayed, err)
	}

	tampered := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader([]byte(`{"available":99}`)))
	tampered.Header.Set(HeaderHmac, signature)
	if verifier.Verify(tampered) {
		t.Fatalf("expected tampered body to fail verification")
	}

	unsigned := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(body))
	if verifier.Verify(unsigned) {
		t.Fatalf("expected missing signature to fail verification")
	}
}

func TestMemoryLedgerExpiresClaims(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := NewMemoryLedger(time.Minute, func() time.Time { return now })
	ctx := context.Background()
	if first, _ := ledger.Claim(ctx, "a"); !first {
		t.Fatalf("expected first claim")
	}
	if first, _ := ledger.Claim(ctx, "a"); first {
		t.Fatalf("expected repeated claim to be rejected")
	}
	now = now.Add(2 * time.Minute)
	if first, _ := ledger.Claim(ctx, "a"); !first {
		t.Fatalf("expected claim after expiry")
	}
}
