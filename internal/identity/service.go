package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryByExternal = "integration_id = ? AND external_type = ? AND external_id = ?"
	queryByInternal = "integration_id = ? AND identifiable_type = ? AND identifiable_id = ? AND external_type = ?"
)

// ServiceConfig describes the dependencies required by the identity map.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service correlates internal entities with remote identifiers, scoped per integration.
type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the identity map.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, idProvider: idProvider, logger: logger}, nil
}

// WithTx returns a copy of the service whose reads and writes run on the supplied transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	clone := *s
	clone.db = tx
	return &clone
}

// Resolve returns the external id mapped to the entity, if any.
func (s *Service) Resolve(ctx context.Context, integrationID string, entity EntityRef, kind ExternalKind) (string, bool, error) {
	if err := entity.validate(); err != nil {
		return "", false, err
	}
	var record Identifier
	err := s.db.WithContext(ctx).
		Select("external_id").
		Where(queryByInternal, integrationID, entity.Kind, entity.ID, kind).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return record.ExternalID, true, nil
}

// ResolveInternal returns the internal entity of the given kind mapped to the remote object, if any.
func (s *Service) ResolveInternal(ctx context.Context, integrationID string, kind ExternalKind, externalID string, entityKind EntityKind) (EntityRef, bool, error) {
	if !entityKind.Valid() {
		return EntityRef{}, false, fmt.Errorf("%w: %q", ErrUnknownEntityKind, entityKind)
	}
	var record Identifier
	err := s.db.WithContext(ctx).
		Where(queryByExternal, integrationID, kind, strings.TrimSpace(externalID)).
		Where("identifiable_type = ?", entityKind).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EntityRef{}, false, nil
	}
	if err != nil {
		return EntityRef{}, false, err
	}
	return record.Entity(), true, nil
}

// Record stores the mapping. Recording an identical tuple again is a no-op. When the entity is
// already mapped to a different external id the previous record is replaced rather than updated.
func (s *Service) Record(ctx context.Context, integrationID string, entity EntityRef, kind ExternalKind, externalID string, data map[string]any) error {
	if err := entity.validate(); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownExternalKind, kind)
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ErrMissingExternalID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claimed Identifier
		err := tx.Where(queryByExternal, integrationID, kind, externalID).Take(&claimed).Error
		switch {
		case err == nil:
			if claimed.Entity() == entity {
				return nil
			}
			return fmt.Errorf("%w: %s %s held by %s", ErrExternalIDClaimed, kind, externalID, claimed.Entity())
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var previous Identifier
		err = tx.Where(queryByInternal, integrationID, entity.Kind, entity.ID, kind).Take(&previous).Error
		if err == nil {
			if deleteErr := tx.Delete(&Identifier{}, "id = ?", previous.ID).Error; deleteErr != nil {
				return deleteErr
			}
			s.logger.Info("identity mapping replaced",
				zap.String("integration_id", integrationID),
				zap.String("entity", entity.String()),
				zap.String("external_type", string(kind)),
				zap.String("previous_external_id", previous.ExternalID),
				zap.String("external_id", externalID))
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		record := Identifier{
			ID:               id,
			IntegrationID:    integrationID,
			IdentifiableType: entity.Kind,
			IdentifiableID:   entity.ID,
			ExternalType:     kind,
			ExternalID:       externalID,
		}
		if len(data) > 0 {
			record.Data = datatypes.JSONMap(data)
		}
		created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if created.Error != nil {
			return created.Error
		}
		if created.RowsAffected == 0 {
			// Lost a race against a concurrent writer; accept only if it wrote the same tuple.
			var winner Identifier
			if err := tx.Where(queryByExternal, integrationID, kind, externalID).Take(&winner).Error; err != nil {
				return err
			}
			if winner.Entity() != entity {
				return fmt.Errorf("%w: %s %s held by %s", ErrExternalIDClaimed, kind, externalID, winner.Entity())
			}
		}
		return nil
	})
}

// DeleteForIntegration removes every mapping owned by the integration.
func (s *Service) DeleteForIntegration(ctx context.Context, integrationID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("integration_id = ?", integrationID).Delete(&Identifier{})
	return result.RowsAffected, result.Error
}

// Forget removes the entity's mapping of the given kind within one integration.
func (s *Service) Forget(ctx context.Context, integrationID string, entity EntityRef, kind ExternalKind) (int64, error) {
	if err := entity.validate(); err != nil {
		return 0, err
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownExternalKind, kind)
	}
	result := s.db.WithContext(ctx).
		Where(queryByInternal, integrationID, entity.Kind, entity.ID, kind).
		Delete(&Identifier{})
	return result.RowsAffected, result.Error
}
