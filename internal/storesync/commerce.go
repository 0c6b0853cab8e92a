package storesync

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/shopify"
	"go.uber.org/zap"
)

// Commerce is the subset of the remote mutation layer the orchestrator drives.
type Commerce interface {
	CreateProduct(ctx context.Context, colorway catalog.Colorway, bases []catalog.Base) (shopify.CreatedProduct, error)
	UpdateProduct(ctx context.Context, productID string, colorway catalog.Colorway) error
	CreateVariant(ctx context.Context, productID string, base catalog.Base) (shopify.CreatedVariant, error)
	UpdateVariant(ctx context.Context, productID, variantID string, base catalog.Base) error
	DeleteVariant(ctx context.Context, productID, variantID string) error
	SetInventoryQuantity(ctx context.Context, variantID string, quantity int) error
	SyncImages(ctx context.Context, productID string, media []catalog.Media) error
	VariantForInventoryItem(ctx context.Context, inventoryItemID string) (string, bool, error)
}

// CommerceProvider resolves the remote store behind a connection.
type CommerceProvider interface {
	ForIntegration(ctx context.Context, connection *integration.Integration) (Commerce, error)
}

// ShopifyProvider builds one Admin per connection from a shared client template and
// reuses it while the connection's credentials stay the same.
type ShopifyProvider struct {
	template shopify.ClientConfig
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]shopifyEntry
}

type shopifyEntry struct {
	accessToken string
	shopDomain  string
	admin       *shopify.Admin
}

// NewShopifyProvider uses template for everything except shop domain and access token.
func NewShopifyProvider(template shopify.ClientConfig, logger *zap.Logger) *ShopifyProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShopifyProvider{template: template, logger: logger, entries: make(map[string]shopifyEntry)}
}

// ForIntegration implements CommerceProvider.
func (p *ShopifyProvider) ForIntegration(ctx context.Context, connection *integration.Integration) (Commerce, error) {
	accessToken, err := connection.AccessToken()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[connection.ID]; ok && entry.accessToken == accessToken && entry.shopDomain == connection.ShopDomain {
		return entry.admin, nil
	}

	cfg := p.template
	cfg.ShopDomain = connection.ShopDomain
	cfg.AccessToken = accessToken
	cfg.APIVersion = connection.Setting("api_version", p.template.APIVersion)
	cfg.Logger = p.logger.With(zap.String("integration_id", connection.ID))
	client, err := shopify.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	admin := shopify.NewAdmin(client, cfg.Logger)
	p.entries[connection.ID] = shopifyEntry{accessToken: accessToken, shopDomain: connection.ShopDomain, admin: admin}
	return admin, nil
}
