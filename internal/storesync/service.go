package storesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100

	loggableIntegration = "integration"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies required by the sync orchestrator.
type ServiceConfig struct {
	Database     *gorm.DB
	Identifiers  *identity.Service
	Integrations *integration.Service
	Commerce     CommerceProvider
	Publisher    Publisher
	Clock        func() time.Time
	IDProvider   ids.Provider
	Logger       *zap.Logger
}

// Service moves inventory and catalog state between the local store and remote stores.
type Service struct {
	db           *gorm.DB
	identifiers  *identity.Service
	integrations *integration.Service
	commerce     CommerceProvider
	publisher    Publisher
	clock        func() time.Time
	idProvider   ids.Provider
	logger       *zap.Logger
}

// NewService validates dependencies and applies defaults.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Identifiers == nil {
		return nil, newServiceError(opServiceNew, "missing_identifiers", errMissingIdentifiers)
	}
	if cfg.Integrations == nil {
		return nil, newServiceError(opServiceNew, "missing_integrations", errMissingIntegrations)
	}
	if cfg.Commerce == nil {
		return nil, newServiceError(opServiceNew, "missing_commerce", errMissingCommerce)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:           cfg.Database,
		identifiers:  cfg.Identifiers,
		integrations: cfg.Integrations,
		commerce:     cfg.Commerce,
		publisher:    publisher,
		clock:        clock,
		idProvider:   idProvider,
		logger:       logger,
	}, nil
}

// PushOutcome reports the result of a single inventory push.
type PushOutcome struct {
	Skipped   bool
	VariantID string
	Quantity  int
}

// PushInventory sends one row's local quantity to its mapped remote variant.
// Rows without a variant mapping are skipped without side effects.
func (s *Service) PushInventory(ctx context.Context, integrationID, inventoryID, source string) (PushOutcome, error) {
	connection, commerce, err := s.connect(ctx, opPushInventory, integrationID)
	if err != nil {
		return PushOutcome{}, err
	}
	var row catalog.Inventory
	if err := s.db.WithContext(ctx).Where("id = ? AND account_id = ?", inventoryID, connection.AccountID).Take(&row).Error; err != nil {
		return PushOutcome{}, s.lookupError(opPushInventory, "inventory", err, zap.String("inventory_id", inventoryID))
	}

	variantID, found, err := s.identifiers.Resolve(ctx, integrationID, identity.Inventory(row.ID), identity.ExternalVariant)
	if err != nil {
		s.logError(opPushInventory, "resolve_failed", err, zap.String("inventory_id", row.ID))
		return PushOutcome{}, newServiceError(opPushInventory, "resolve_failed", err)
	}
	if !found {
		s.logger.Debug("inventory push skipped", zap.String("integration_id", integrationID), zap.String("inventory_id", row.ID))
		return PushOutcome{Skipped: true}, nil
	}

	outcome := PushOutcome{VariantID: variantID, Quantity: row.Quantity}
	if err := s.pushRow(ctx, commerce, integrationID, row, variantID, source, "inventory_push"); err != nil {
		return outcome, newServiceError(opPushInventory, "remote_failed", err)
	}
	return outcome, nil
}

// PushResult summarizes a colorway push.
type PushResult struct {
	ProductID       string
	ProductCreated  bool
	VariantsCreated int
	VariantsDeleted int
	Updated         int
	Skipped         int
}

// PushColorway creates or updates the remote product for a colorway and pushes every
// active row's quantity. A failing row is logged and skipped; the rest continue.
func (s *Service) PushColorway(ctx context.Context, integrationID, colorwayID, source string) (PushResult, error) {
	connection, commerce, err := s.connect(ctx, opPushColorway, integrationID)
	if err != nil {
		return PushResult{}, err
	}
	var colorway catalog.Colorway
	if err := s.db.WithContext(ctx).Where("id = ? AND account_id = ?", colorwayID, connection.AccountID).Take(&colorway).Error; err != nil {
		return PushResult{}, s.lookupError(opPushColorway, "colorway", err, zap.String("colorway_id", colorwayID))
	}
	bases, err := catalog.ActiveBases(ctx, s.db, colorway.AccountID)
	if err != nil {
		s.logError(opPushColorway, "bases_query_failed", err, zap.String("colorway_id", colorway.ID))
		return PushResult{}, newServiceError(opPushColorway, "bases_query_failed", err)
	}
	rows, err := catalog.InventoryForColorway(ctx, s.db, colorway.ID)
	if err != nil {
		s.logError(opPushColorway, "inventory_query_failed", err, zap.String("colorway_id", colorway.ID))
		return PushResult{}, newServiceError(opPushColorway, "inventory_query_failed", err)
	}

	productID, found, err := s.identifiers.Resolve(ctx, integrationID, identity.Colorway(colorway.ID), identity.ExternalProduct)
	if err != nil {
		s.logError(opPushColorway, "resolve_failed", err, zap.String("colorway_id", colorway.ID))
		return PushResult{}, newServiceError(opPushColorway, "resolve_failed", err)
	}

	var result PushResult
	if !found {
		result, err = s.createProduct(ctx, commerce, integrationID, colorway, bases, rows, source)
	} else {
		result, err = s.updateProduct(ctx, commerce, integrationID, colorway, productID, bases, rows, source)
	}
	if err != nil {
		return result, err
	}

	s.syncImages(ctx, commerce, integrationID, colorway, result.ProductID, result.ProductCreated, source)
	return result, nil
}

func (s *Service) createProduct(ctx context.Context, commerce Commerce, integrationID string, colorway catalog.Colorway, bases []catalog.Base, rows []catalog.Inventory, source string) (PushResult, error) {
	entity := identity.Colorway(colorway.ID)
	created, err := commerce.CreateProduct(ctx, colorway, bases)
	if err != nil {
		s.recordLog(ctx, activity{
			integrationID: integrationID,
			entity:        entity,
			status:        LogStatusError,
			message:       fmt.Sprintf("product create failed: %v", err),
			metadata:      pushMetadata(source, "product_create"),
		})
		return PushResult{}, newServiceError(opPushColorway, "product_create_failed", err)
	}
	if err := s.identifiers.Record(ctx, integrationID, entity, identity.ExternalProduct, created.ID, map[string]any{"handle": created.Handle}); err != nil {
		s.logError(opPushColorway, "product_mapping_failed", err,
			zap.String("colorway_id", colorway.ID), zap.String("product_id", created.ID))
		return PushResult{ProductID: created.ID}, newServiceError(opPushColorway, "product_mapping_failed", err)
	}
	if created.Handle != "" {
		if err := s.identifiers.Record(ctx, integrationID, entity, identity.ExternalHandle, created.Handle, nil); err != nil {
			s.logger.Warn("product handle not mapped",
				zap.String("colorway_id", colorway.ID), zap.String("handle", created.Handle), zap.Error(err))
		}
	}

	result := PushResult{ProductID: created.ID, ProductCreated: true}
	rowByBase := make(map[string]catalog.Inventory, len(rows))
	for _, row := range rows {
		rowByBase[row.BaseID] = row
	}
	var unmatched []string
	for index, base := range bases {
		if index >= len(created.Variants) {
			unmatched = append(unmatched, base.Descriptor)
			result.Skipped++
			continue
		}
		variant := created.Variants[index]
		row, ok := rowByBase[base.ID]
		if !ok {
			row, err = s.createInventoryRow(ctx, colorway, base)
			if err != nil {
				s.logError(opPushColorway, "inventory_create_failed", err,
					zap.String("colorway_id", colorway.ID), zap.String("base_id", base.ID))
				result.Skipped++
				continue
			}
		}
		data := map[string]any{"inventory_item_id": variant.InventoryItemID, "base_id": base.ID}
		if err := s.identifiers.Record(ctx, integrationID, identity.Inventory(row.ID), identity.ExternalVariant, variant.ID, data); err != nil {
			s.rowFailed(ctx, integrationID, row, source, "variant mapping failed", err)
			result.Skipped++
			continue
		}
		if err := s.pushRow(ctx, commerce, integrationID, row, variant.ID, source, ""); err != nil {
			result.Skipped++
			continue
		}
		result.VariantsCreated++
	}

	if len(unmatched) > 0 {
		s.logger.Warn("remote product returned fewer variants than bases",
			zap.String("integration_id", integrationID),
			zap.String("colorway_id", colorway.ID),
			zap.Int("bases", len(bases)),
			zap.Int("variants", len(created.Variants)))
		metadata := pushMetadata(source, "product_create")
		metadata["external_id"] = created.ID
		metadata["unmatched_bases"] = unmatched
		s.recordLog(ctx, activity{
			integrationID: integrationID,
			entity:        entity,
			status:        LogStatusError,
			message:       fmt.Sprintf("no remote variant returned for %d bases", len(unmatched)),
			metadata:      metadata,
		})
	}

	metadata := pushMetadata(source, "product_create")
	metadata["external_id"] = created.ID
	metadata["variants_created"] = result.VariantsCreated
	metadata["skipped"] = result.Skipped
	if err := s.recordLog(ctx, activity{
		integrationID: integrationID,
		entity:        entity,
		status:        LogStatusSuccess,
		message:       fmt.Sprintf("product created with %d variants", len(created.Variants)),
		metadata:      metadata,
	}); err != nil {
		return result, newServiceError(opPushColorway, "log_failed", err)
	}
	return result, nil
}

func (s *Service) updateProduct(ctx context.Context, commerce Commerce, integrationID string, colorway catalog.Colorway, productID string, bases []catalog.Base, rows []catalog.Inventory, source string) (PushResult, error) {
	entity := identity.Colorway(colorway.ID)
	result := PushResult{ProductID: productID}

	if err := commerce.UpdateProduct(ctx, productID, colorway); err != nil {
		s.recordLog(ctx, activity{
			integrationID: integrationID,
			entity:        entity,
			status:        LogStatusWarning,
			message:       fmt.Sprintf("product details not updated: %v", err),
			metadata:      pushMetadata(source, "product_update"),
		})
	}

	activeBases := make(map[string]catalog.Base, len(bases))
	for _, base := range bases {
		activeBases[base.ID] = base
	}
	for _, row := range rows {
		variantID, found, err := s.identifiers.Resolve(ctx, integrationID, identity.Inventory(row.ID), identity.ExternalVariant)
		if err != nil {
			s.rowFailed(ctx, integrationID, row, source, "variant lookup failed", err)
			result.Skipped++
			continue
		}
		base, active := activeBases[row.BaseID]
		if !active {
			if found && s.retireVariant(ctx, commerce, integrationID, productID, row, variantID, source) {
				result.VariantsDeleted++
			}
			continue
		}
		createdVariant := false
		if found {
			if err := commerce.UpdateVariant(ctx, productID, variantID, base); err != nil {
				s.rowFailed(ctx, integrationID, row, source, "variant update failed", err)
				result.Skipped++
				continue
			}
		} else {
			variant, err := commerce.CreateVariant(ctx, productID, base)
			if err != nil {
				s.rowFailed(ctx, integrationID, row, source, "variant create failed", err)
				result.Skipped++
				continue
			}
			data := map[string]any{"inventory_item_id": variant.InventoryItemID, "base_id": base.ID}
			if err := s.identifiers.Record(ctx, integrationID, identity.Inventory(row.ID), identity.ExternalVariant, variant.ID, data); err != nil {
				s.rowFailed(ctx, integrationID, row, source, "variant mapping failed", err)
				result.Skipped++
				continue
			}
			variantID = variant.ID
			createdVariant = true
		}
		if err := s.pushRow(ctx, commerce, integrationID, row, variantID, source, ""); err != nil {
			result.Skipped++
			continue
		}
		if createdVariant {
			result.VariantsCreated++
		} else {
			result.Updated++
		}
	}

	if result.VariantsCreated+result.VariantsDeleted+result.Updated > 0 {
		metadata := pushMetadata(source, "colorway_push")
		metadata["external_id"] = productID
		metadata["variants_created"] = result.VariantsCreated
		metadata["variants_deleted"] = result.VariantsDeleted
		metadata["updated"] = result.Updated
		metadata["skipped"] = result.Skipped
		message := fmt.Sprintf("colorway pushed: %d created, %d updated, %d deleted, %d skipped",
			result.VariantsCreated, result.Updated, result.VariantsDeleted, result.Skipped)
		if err := s.recordLog(ctx, activity{
			integrationID: integrationID,
			entity:        entity,
			status:        LogStatusSuccess,
			message:       message,
			metadata:      metadata,
		}); err != nil {
			return result, newServiceError(opPushColorway, "log_failed", err)
		}
	}
	return result, nil
}

// retireVariant removes the remote variant of a row whose base is no longer active and
// drops the row's variant mapping. It reports whether the variant was removed.
func (s *Service) retireVariant(ctx context.Context, commerce Commerce, integrationID, productID string, row catalog.Inventory, variantID, source string) bool {
	if err := commerce.DeleteVariant(ctx, productID, variantID); err != nil {
		s.rowFailed(ctx, integrationID, row, source, "variant delete failed", err)
		return false
	}
	if _, err := s.identifiers.Forget(ctx, integrationID, identity.Inventory(row.ID), identity.ExternalVariant); err != nil {
		s.logError(opPushColorway, "variant_unmap_failed", err,
			zap.String("inventory_id", row.ID), zap.String("variant_id", variantID))
		return false
	}
	if err := s.markRow(ctx, s.db, row.ID, catalog.SyncStatusNone, nil); err != nil {
		s.logError(opPushColorway, "mark_retired_failed", err, zap.String("inventory_id", row.ID))
	}
	metadata := pushMetadata(source, "variant_delete")
	metadata["external_id"] = variantID
	s.recordLog(ctx, activity{
		integrationID: integrationID,
		entity:        identity.Inventory(row.ID),
		status:        LogStatusSuccess,
		message:       "variant removed for inactive base",
		metadata:      metadata,
	})
	return true
}

// syncImages mirrors local media onto the product. An existing product with no local media
// has its remote media cleared; a product created without media has nothing to clear.
func (s *Service) syncImages(ctx context.Context, commerce Commerce, integrationID string, colorway catalog.Colorway, productID string, productCreated bool, source string) {
	media, err := catalog.OrderedMedia(ctx, s.db, colorway.ID)
	if err != nil {
		s.logError(opPushColorway, "media_query_failed", err, zap.String("colorway_id", colorway.ID))
		return
	}
	if len(media) == 0 && productCreated {
		return
	}
	if err := commerce.SyncImages(ctx, productID, media); err != nil {
		s.recordLog(ctx, activity{
			integrationID: integrationID,
			entity:        identity.Colorway(colorway.ID),
			status:        LogStatusWarning,
			message:       fmt.Sprintf("images not synced: %v", err),
			metadata:      pushMetadata(source, "image_sync"),
		})
	}
}

// pushRow sets the remote quantity for one mapped row and maintains its sync marker.
// A non-empty action appends a success log for the row.
func (s *Service) pushRow(ctx context.Context, commerce Commerce, integrationID string, row catalog.Inventory, variantID, source, action string) error {
	if err := s.markRow(ctx, s.db, row.ID, catalog.SyncStatusPending, nil); err != nil {
		s.logError(opPushInventory, "mark_pending_failed", err, zap.String("inventory_id", row.ID))
		return err
	}
	if err := commerce.SetInventoryQuantity(ctx, variantID, row.Quantity); err != nil {
		s.rowFailed(ctx, integrationID, row, source, "quantity push failed", err)
		return err
	}
	now := s.clock().UTC()
	if err := s.markRow(ctx, s.db, row.ID, catalog.SyncStatusSynced, &now); err != nil {
		s.logError(opPushInventory, "mark_synced_failed", err, zap.String("inventory_id", row.ID))
		return err
	}
	if action == "" {
		return nil
	}
	metadata := pushMetadata(source, action)
	metadata["quantity"] = row.Quantity
	metadata["external_id"] = variantID
	return s.recordLog(ctx, activity{
		integrationID: integrationID,
		entity:        identity.Inventory(row.ID),
		status:        LogStatusSuccess,
		message:       fmt.Sprintf("quantity %d pushed", row.Quantity),
		metadata:      metadata,
	})
}

func (s *Service) rowFailed(ctx context.Context, integrationID string, row catalog.Inventory, source, message string, cause error) {
	if err := s.markRow(ctx, s.db, row.ID, catalog.SyncStatusError, nil); err != nil {
		s.logError(opPushInventory, "mark_error_failed", err, zap.String("inventory_id", row.ID))
	}
	metadata := pushMetadata(source, "inventory_push")
	metadata["quantity"] = row.Quantity
	s.recordLog(ctx, activity{
		integrationID: integrationID,
		entity:        identity.Inventory(row.ID),
		status:        LogStatusError,
		message:       fmt.Sprintf("%s: %v", message, cause),
		metadata:      metadata,
	})
}

func (s *Service) createInventoryRow(ctx context.Context, colorway catalog.Colorway, base catalog.Base) (catalog.Inventory, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return catalog.Inventory{}, err
	}
	row := catalog.Inventory{ID: id, AccountID: colorway.AccountID, ColorwayID: colorway.ID, BaseID: base.ID}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return catalog.Inventory{}, err
	}
	return row, nil
}

// PullOutcome reports the result of applying a remote quantity.
type PullOutcome struct {
	Handled        bool
	InventoryID    string
	Conflict       bool
	QuantityBefore int
	QuantityAfter  int
}

// PullInventory applies a remote quantity to the mapped local row. It never pushes outward.
// Unmapped variants are ignored without writes.
func (s *Service) PullInventory(ctx context.Context, integrationID, variantID string, quantity int, source string) (PullOutcome, error) {
	ref, found, err := s.identifiers.ResolveInternal(ctx, integrationID, identity.ExternalVariant, variantID, identity.EntityInventory)
	if err != nil {
		s.logError(opPullInventory, "resolve_failed", err, zap.String("variant_id", variantID))
		return PullOutcome{}, newServiceError(opPullInventory, "resolve_failed", err)
	}
	if !found {
		s.logger.Debug("inventory pull ignored for unmapped variant",
			zap.String("integration_id", integrationID), zap.String("variant_id", variantID))
		return PullOutcome{}, nil
	}

	var outcome PullOutcome
	var appended SyncLog
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row catalog.Inventory
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", ref.ID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("inventory pull mapped to missing row",
				zap.String("integration_id", integrationID), zap.String("inventory_id", ref.ID))
			return nil
		}
		if err != nil {
			s.logError(opPullInventory, "inventory_select_failed", err, zap.String("inventory_id", ref.ID))
			return newServiceError(opPullInventory, "inventory_select_failed", err)
		}

		now := s.clock().UTC()
		conflict := DetectConflict(row, quantity, now)
		if err := tx.Model(&catalog.Inventory{}).Where("id = ?", row.ID).UpdateColumns(map[string]any{
			"quantity":       quantity,
			"last_synced_at": now,
			"sync_status":    catalog.SyncStatusSynced,
			"updated_at":     now,
		}).Error; err != nil {
			s.logError(opPullInventory, "inventory_update_failed", err, zap.String("inventory_id", row.ID))
			return newServiceError(opPullInventory, "inventory_update_failed", err)
		}

		status := LogStatusSuccess
		message := fmt.Sprintf("quantity %d pulled (was %d)", quantity, row.Quantity)
		if conflict {
			status = LogStatusWarning
			message = fmt.Sprintf("remote quantity %d overwrote unsynced local quantity %d", quantity, row.Quantity)
		}
		entry, err := s.appendLog(ctx, tx, activity{
			integrationID: integrationID,
			entity:        identity.Inventory(row.ID),
			status:        status,
			message:       message,
			metadata: map[string]any{
				"direction":       DirectionPull,
				"source":          source,
				"action":          "inventory_pull",
				"conflict":        conflict,
				"quantity_before": row.Quantity,
				"quantity_after":  quantity,
				"external_id":     variantID,
			},
		})
		if err != nil {
			return newServiceError(opPullInventory, "log_failed", err)
		}
		appended = entry
		outcome = PullOutcome{
			Handled:        true,
			InventoryID:    row.ID,
			Conflict:       conflict,
			QuantityBefore: row.Quantity,
			QuantityAfter:  quantity,
		}
		return nil
	})
	if txErr != nil {
		return PullOutcome{}, txErr
	}
	if outcome.Handled {
		s.publish(appended)
	}
	return outcome, nil
}

// Page selects a window of a paginated listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// LogPage is one window of sync log entries, newest first.
type LogPage struct {
	Logs     []SyncLog
	Total    int64
	Page     int
	PageSize int
}

// ListLogs returns the integration's audit trail, newest first.
func (s *Service) ListLogs(ctx context.Context, integrationID string, page Page) (LogPage, error) {
	number := page.Number
	if number < 1 {
		number = 1
	}
	size := page.Size
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	query := s.db.WithContext(ctx).Model(&SyncLog{}).Where("integration_id = ?", integrationID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logError(opListLogs, "count_failed", err, zap.String("integration_id", integrationID))
		return LogPage{}, newServiceError(opListLogs, "count_failed", err)
	}
	logs := make([]SyncLog, 0, size)
	if err := s.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Order("synced_at DESC").
		Order("id DESC").
		Limit(size).
		Offset((number - 1) * size).
		Find(&logs).Error; err != nil {
		s.logError(opListLogs, "query_failed", err, zap.String("integration_id", integrationID))
		return LogPage{}, newServiceError(opListLogs, "query_failed", err)
	}
	return LogPage{Logs: logs, Total: total, Page: number, PageSize: size}, nil
}

// Activity describes an audit entry recorded on behalf of another component.
type Activity struct {
	IntegrationID string
	Status        LogStatus
	Message       string
	Metadata      map[string]any
}

// RecordActivity appends an integration-level log entry, optionally inside tx.
func (s *Service) RecordActivity(ctx context.Context, tx *gorm.DB, entry Activity) (SyncLog, error) {
	db := tx
	if db == nil {
		db = s.db
	}
	record, err := s.appendLog(ctx, db, activity{
		integrationID: entry.IntegrationID,
		loggableType:  loggableIntegration,
		loggableID:    entry.IntegrationID,
		status:        entry.Status,
		message:       entry.Message,
		metadata:      entry.Metadata,
	})
	if err != nil {
		return SyncLog{}, newServiceError(opRecordActivity, "log_failed", err)
	}
	if tx == nil {
		s.publish(record)
	}
	return record, nil
}

// Announce publishes an entry that was appended inside a committed transaction.
func (s *Service) Announce(entry SyncLog) {
	s.publish(entry)
}

func (s *Service) connect(ctx context.Context, operation, integrationID string) (*integration.Integration, Commerce, error) {
	connection, err := s.integrations.Get(ctx, integrationID)
	if errors.Is(err, integration.ErrNotFound) {
		return nil, nil, newServiceError(operation, "integration_not_found", errors.Join(ErrNotFound, err))
	}
	if err != nil {
		s.logError(operation, "integration_lookup_failed", err, zap.String("integration_id", integrationID))
		return nil, nil, newServiceError(operation, "integration_lookup_failed", err)
	}
	if !connection.Active {
		return nil, nil, newServiceError(operation, "integration_inactive", ErrIntegrationInactive)
	}
	commerce, err := s.commerce.ForIntegration(ctx, connection)
	if err != nil {
		s.logError(operation, "commerce_unavailable", err, zap.String("integration_id", integrationID))
		return nil, nil, newServiceError(operation, "commerce_unavailable", err)
	}
	return connection, commerce, nil
}

func (s *Service) lookupError(operation, subject string, err error, fields ...zap.Field) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(operation, subject+"_not_found", ErrNotFound)
	}
	s.logError(operation, subject+"_query_failed", err, fields...)
	return newServiceError(operation, subject+"_query_failed", err)
}

func (s *Service) markRow(ctx context.Context, db *gorm.DB, rowID string, status catalog.SyncStatus, syncedAt *time.Time) error {
	updates := map[string]any{"sync_status": status}
	if syncedAt != nil {
		updates["last_synced_at"] = *syncedAt
	}
	return db.WithContext(ctx).Model(&catalog.Inventory{}).Where("id = ?", rowID).UpdateColumns(updates).Error
}

type activity struct {
	integrationID string
	entity        identity.EntityRef
	loggableType  string
	loggableID    string
	status        LogStatus
	message       string
	metadata      map[string]any
}

func (s *Service) appendLog(ctx context.Context, db *gorm.DB, entry activity) (SyncLog, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordActivity, "id_generation_failed", err)
		return SyncLog{}, err
	}
	loggableType, loggableID := entry.loggableType, entry.loggableID
	if loggableType == "" {
		loggableType, loggableID = string(entry.entity.Kind), entry.entity.ID
	}
	record := SyncLog{
		ID:            id,
		IntegrationID: entry.integrationID,
		LoggableType:  loggableType,
		LoggableID:    loggableID,
		Status:        entry.status,
		Message:       entry.message,
		Metadata:      entry.metadata,
		SyncedAt:      s.clock().UTC(),
	}
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opRecordActivity, "log_insert_failed", err,
			zap.String("integration_id", entry.integrationID),
			zap.String("loggable_id", loggableID))
		return SyncLog{}, err
	}
	LogsTotal.WithLabelValues(record.Direction(), string(record.Status)).Inc()
	return record, nil
}

func (s *Service) recordLog(ctx context.Context, entry activity) error {
	record, err := s.appendLog(ctx, s.db, entry)
	if err != nil {
		return err
	}
	s.publish(record)
	return nil
}

func (s *Service) publish(entry SyncLog) {
	s.publisher.Publish(eventFromLog(entry))
}

func pushMetadata(source, action string) map[string]any {
	return map[string]any{
		"direction": DirectionPush,
		"source":    source,
		"action":    action,
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("storesync service error", attrs...)
}
