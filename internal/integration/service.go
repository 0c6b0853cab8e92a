package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ServiceConfig describes the dependencies required by the integration service.
type ServiceConfig struct {
	Database    *gorm.DB
	Identifiers *identity.Service
	IDProvider  ids.Provider
	Logger      *zap.Logger
}

// Service manages integration lifecycle and webhook routing lookups.
type Service struct {
	db          *gorm.DB
	identifiers *identity.Service
	idProvider  ids.Provider
	logger      *zap.Logger
}

// NewService constructs the integration service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("integration: database connection required")
	}
	if cfg.Identifiers == nil {
		return nil, fmt.Errorf("integration: identity map required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, identifiers: cfg.Identifiers, idProvider: idProvider, logger: logger}, nil
}

// CreateRequest carries the attributes of a new integration.
type CreateRequest struct {
	AccountID   string
	Kind        Kind
	ShopDomain  string
	AccessToken string
	Settings    map[string]any
}

// Create persists a new active integration.
func (s *Service) Create(ctx context.Context, request CreateRequest) (*Integration, error) {
	if request.Kind != KindShopify {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, request.Kind)
	}
	domain := NormalizeShopDomain(request.ShopDomain)
	if domain == "" {
		return nil, ErrMissingShopDomain
	}
	if strings.TrimSpace(request.AccessToken) == "" {
		return nil, ErrMissingAccessToken
	}
	credentials, err := json.Marshal(Credentials{AccessToken: strings.TrimSpace(request.AccessToken)})
	if err != nil {
		return nil, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}
	record := &Integration{
		ID:          id,
		AccountID:   strings.TrimSpace(request.AccountID),
		Kind:        request.Kind,
		ShopDomain:  domain,
		Credentials: credentials,
		Settings:    datatypes.JSONMap(request.Settings),
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	s.logger.Info("integration created",
		zap.String("integration_id", record.ID),
		zap.String("kind", string(record.Kind)),
		zap.String("shop_domain", record.ShopDomain))
	return record, nil
}

// Get loads a non-deleted integration by id.
func (s *Service) Get(ctx context.Context, id string) (*Integration, error) {
	var record Integration
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindActiveByShopDomain resolves the single active integration of a kind for a shop domain.
// When several rows match, the oldest one wins so routing stays deterministic.
func (s *Service) FindActiveByShopDomain(ctx context.Context, kind Kind, shopDomain string) (*Integration, error) {
	domain := NormalizeShopDomain(shopDomain)
	if domain == "" {
		return nil, ErrNotFound
	}
	var record Integration
	err := s.db.WithContext(ctx).
		Where("kind = ? AND shop_domain = ? AND active = ?", kind, domain, true).
		Order("created_at ASC").
		Order("id ASC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Deactivate stops routing webhooks to the integration without deleting its mappings.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&Integration{}).Where("id = ?", id).Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.logger.Info("integration deactivated", zap.String("integration_id", id))
	return nil
}

// Delete soft-deletes the integration and removes the identity mappings it owns.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&Integration{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		removed, err := s.identifiers.WithTx(tx).DeleteForIntegration(ctx, id)
		if err != nil {
			return err
		}
		s.logger.Info("integration deleted",
			zap.String("integration_id", id),
			zap.Int64("identifiers_removed", removed))
		return nil
	})
}
