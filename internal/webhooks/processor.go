package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/storesync"
	goshopify "github.com/bold-commerce/go-shopify/v4"
	"go.uber.org/zap"
)

// Topics handled by the processor.
const (
	TopicInventoryLevelsUpdate = "inventory_levels/update"
	TopicAppUninstalled        = "app/uninstalled"
)

// Request headers set by the platform on every delivery.
const (
	HeaderTopic      = "X-Shopify-Topic"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
	HeaderHmac       = "X-Shopify-Hmac-Sha256"
)

// Outcome values reported in Result.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// ErrMalformedPayload indicates a delivery body that cannot be interpreted for its topic.
var ErrMalformedPayload = errors.New("webhooks: malformed payload")

// Delivery is one authenticated webhook request.
type Delivery struct {
	Topic      string
	ShopDomain string
	WebhookID  string
	Body       []byte
}

// Result describes how a delivery was handled. Every Result is acknowledged with 200.
type Result struct {
	Outcome       string
	IntegrationID string
}

// Connections resolves and deactivates the connection a delivery is addressed to.
type Connections interface {
	FindActiveByShopDomain(ctx context.Context, kind integration.Kind, shopDomain string) (*integration.Integration, error)
	Deactivate(ctx context.Context, id string) error
}

// Puller applies remote inventory levels locally.
type Puller interface {
	PullInventory(ctx context.Context, integrationID, variantID string, quantity int, source string) (storesync.PullOutcome, error)
}

// ProcessorConfig describes the dependencies required by the processor.
type ProcessorConfig struct {
	Connections Connections
	Puller      Puller
	Commerce    storesync.CommerceProvider
	Ledger      DeliveryLedger
	Logger      *zap.Logger
}

// Processor routes verified deliveries to the sync engine.
type Processor struct {
	connections Connections
	puller      Puller
	commerce    storesync.CommerceProvider
	ledger      DeliveryLedger
	logger      *zap.Logger
}

// NewProcessor validates dependencies.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Connections == nil {
		return nil, fmt.Errorf("webhooks: connections required")
	}
	if cfg.Puller == nil {
		return nil, fmt.Errorf("webhooks: sync service required")
	}
	if cfg.Commerce == nil {
		return nil, fmt.Errorf("webhooks: commerce provider required")
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger(0, nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		connections: cfg.Connections,
		puller:      cfg.Puller,
		commerce:    cfg.Commerce,
		ledger:      ledger,
		logger:      logger,
	}, nil
}

// Process handles one delivery. The only returned error is ErrMalformedPayload;
// internal failures are logged and reported as OutcomeFailed.
func (p *Processor) Process(ctx context.Context, delivery Delivery) (Result, error) {
	var (
		result Result
		err    error
	)
	switch delivery.Topic {
	case TopicInventoryLevelsUpdate:
		result, err = p.inventoryLevelsUpdate(ctx, delivery)
	case TopicAppUninstalled:
		result, err = p.appUninstalled(ctx, delivery)
	default:
		result = Result{Outcome: OutcomeIgnored}
	}
	outcome := result.Outcome
	if err != nil {
		outcome = "malformed"
	}
	DeliveriesTotal.WithLabelValues(delivery.Topic, outcome).Inc()
	return result, err
}

type inventoryLevelPayload struct {
	InventoryItemID json.Number `json:"inventory_item_id"`
	LocationID      json.Number `json:"location_id"`
	Available       *int        `json:"available"`
}

func (p *Processor) inventoryLevelsUpdate(ctx context.Context, delivery Delivery) (Result, error) {
	var payload inventoryLevelPayload
	decoder := json.NewDecoder(bytes.NewReader(delivery.Body))
	if err := decoder.Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	inventoryItemID := strings.TrimSpace(payload.InventoryItemID.String())
	if inventoryItemID == "" || payload.Available == nil {
		return Result{}, fmt.Errorf("%w: inventory_item_id and available are required", ErrMalformedPayload)
	}

	connection, ok := p.route(ctx, delivery)
	if !ok {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	result := Result{IntegrationID: connection.ID}
	if !p.claim(ctx, delivery) {
		result.Outcome = OutcomeDuplicate
		return result, nil
	}

	commerce, err := p.commerce.ForIntegration(ctx, connection)
	if err != nil {
		p.logFailure(delivery, connection.ID, "commerce_unavailable", err)
		result.Outcome = OutcomeFailed
		return result, nil
	}
	variantID, found, err := commerce.VariantForInventoryItem(ctx, inventoryItemID)
	if err != nil {
		p.logFailure(delivery, connection.ID, "variant_lookup_failed", err)
		result.Outcome = OutcomeFailed
		return result, nil
	}
	if !found {
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	outcome, err := p.puller.PullInventory(ctx, connection.ID, variantID, *payload.Available, storesync.SourceWebhook)
	if err != nil {
		p.logFailure(delivery, connection.ID, "pull_failed", err)
		result.Outcome = OutcomeFailed
		return result, nil
	}
	if !outcome.Handled {
		result.Outcome = OutcomeIgnored
		return result, nil
	}
	result.Outcome = OutcomeProcessed
	return result, nil
}

func (p *Processor) appUninstalled(ctx context.Context, delivery Delivery) (Result, error) {
	connection, ok := p.route(ctx, delivery)
	if !ok {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	result := Result{IntegrationID: connection.ID}
	if !p.claim(ctx, delivery) {
		result.Outcome = OutcomeDuplicate
		return result, nil
	}
	if err := p.connections.Deactivate(ctx, connection.ID); err != nil {
		p.logFailure(delivery, connection.ID, "deactivate_failed", err)
		result.Outcome = OutcomeFailed
		return result, nil
	}
	p.logger.Info("integration deactivated by uninstall webhook",
		zap.String("integration_id", connection.ID),
		zap.String("shop_domain", connection.ShopDomain))
	result.Outcome = OutcomeProcessed
	return result, nil
}

func (p *Processor) route(ctx context.Context, delivery Delivery) (*integration.Integration, bool) {
	connection, err := p.connections.FindActiveByShopDomain(ctx, integration.KindShopify, delivery.ShopDomain)
	if errors.Is(err, integration.ErrNotFound) {
		p.logger.Info("webhook for unknown shop ignored",
			zap.String("topic", delivery.Topic),
			zap.String("shop_domain", delivery.ShopDomain))
		return nil, false
	}
	if err != nil {
		p.logFailure(delivery, "", "route_failed", err)
		return nil, false
	}
	return connection, true
}

// claim reports whether the delivery should be handled. Deliveries without an id and
// ledger outages are handled rather than dropped.
func (p *Processor) claim(ctx context.Context, delivery Delivery) bool {
	if strings.TrimSpace(delivery.WebhookID) == "" {
		return true
	}
	first, err := p.ledger.Claim(ctx, delivery.WebhookID)
	if err != nil {
		p.logger.Warn("webhook ledger unavailable",
			zap.String("webhook_id", delivery.WebhookID),
			zap.Error(err))
		return true
	}
	if !first {
		p.logger.Info("duplicate webhook delivery acknowledged",
			zap.String("webhook_id", delivery.WebhookID),
			zap.String("topic", delivery.Topic))
	}
	return first
}

func (p *Processor) logFailure(delivery Delivery, integrationID, reason string, err error) {
	p.logger.Error("webhook processing failed",
		zap.String("operation", "webhooks.process"),
		zap.String("reason", reason),
		zap.String("topic", delivery.Topic),
		zap.String("shop_domain", delivery.ShopDomain),
		zap.String("integration_id", integrationID),
		zap.Error(err))
}

// Verifier authenticates deliveries with the app's shared secret.
type Verifier struct {
	app goshopify.App
}

// NewVerifier constructs a verifier for the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{app: goshopify.App{ApiSecret: secret}}
}

// Verify checks the base64 HMAC-SHA256 header against the raw body. The request body
// remains readable afterwards.
func (v *Verifier) Verify(request *http.Request) bool {
	if v == nil || v.app.ApiSecret == "" {
		return false
	}
	if strings.TrimSpace(request.Header.Get(HeaderHmac)) == "" {
		return false
	}
	return v.app.VerifyWebhookRequest(request)
}

// DeliveryFromRequest reads the routing headers and body of an authenticated request.
func DeliveryFromRequest(request *http.Request, body []byte) Delivery {
	return Delivery{
		Topic:      strings.TrimSpace(request.Header.Get(HeaderTopic)),
		ShopDomain: strings.TrimSpace(request.Header.Get(HeaderShopDomain)),
		WebhookID:  strings.TrimSpace(request.Header.Get(HeaderWebhookID)),
		Body:       body,
	}
}
