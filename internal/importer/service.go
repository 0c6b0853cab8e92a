package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/storesync"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	actionProductsImport = "products_import"
	actionOrdersImport   = "orders_import"
)

// Result summarizes one imported file.
type Result struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

func (r *Result) rowError(line int, format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf("row %d: %s", line, fmt.Sprintf(format, args...)))
}

// ServiceConfig describes the dependencies required by the importer.
type ServiceConfig struct {
	Database     *gorm.DB
	Identifiers  *identity.Service
	Integrations *integration.Service
	Sync         *storesync.Service
	IDProvider   ids.Provider
	Logger       *zap.Logger
}

// Service reconciles flat-file exports against the catalog and the identity map.
type Service struct {
	db           *gorm.DB
	identifiers  *identity.Service
	integrations *integration.Service
	sync         *storesync.Service
	validate     *validator.Validate
	idProvider   ids.Provider
	logger       *zap.Logger
}

// NewService validates dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("importer: database connection required")
	}
	if cfg.Identifiers == nil {
		return nil, fmt.Errorf("importer: identity map required")
	}
	if cfg.Integrations == nil {
		return nil, fmt.Errorf("importer: integration service required")
	}
	if cfg.Sync == nil {
		return nil, fmt.Errorf("importer: sync service required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:           cfg.Database,
		identifiers:  cfg.Identifiers,
		integrations: cfg.Integrations,
		sync:         cfg.Sync,
		validate:     newValidator(),
		idProvider:   idProvider,
		logger:       logger,
	}, nil
}

// importRun carries the per-file state shared by row handlers.
type importRun struct {
	service       *Service
	tx            *gorm.DB
	identifiers   *identity.Service
	accountID     string
	integrationID string
	result        Result
}

// ImportProducts upserts colorways, bases and inventory from a product export.
func (s *Service) ImportProducts(ctx context.Context, integrationID string, file io.Reader) (Result, error) {
	return s.importFile(ctx, integrationID, file, actionProductsImport, func(run *importRun, records []record) error {
		for _, rec := range records {
			if err := run.isolate(ctx, rec.Line, func() error { return run.productRecord(ctx, rec) }); err != nil {
				return err
			}
		}
		return nil
	})
}

// ImportOrders upserts orders and their items from an order export. Rows sharing an
// order number form one order.
func (s *Service) ImportOrders(ctx context.Context, integrationID string, file io.Reader) (Result, error) {
	return s.importFile(ctx, integrationID, file, actionOrdersImport, func(run *importRun, records []record) error {
		keys := make([]string, 0)
		groups := make(map[string][]record)
		for _, rec := range records {
			key := rec.value(fieldOrderNumber)
			if key == "" {
				key = rec.value(fieldOrderID)
			}
			if key == "" {
				run.result.rowError(rec.Line, "order number is required")
				run.result.Skipped++
				continue
			}
			if _, ok := groups[key]; !ok {
				keys = append(keys, key)
			}
			groups[key] = append(groups[key], rec)
		}
		for _, key := range keys {
			group := groups[key]
			if err := run.isolate(ctx, group[0].Line, func() error { return run.orderGroup(ctx, group) }); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) importFile(ctx context.Context, integrationID string, file io.Reader, action string, apply func(run *importRun, records []record) error) (Result, error) {
	connection, err := s.integrations.Get(ctx, integrationID)
	if err != nil {
		return Result{}, err
	}
	records, skipped, err := readRecords(file)
	if err != nil {
		s.recordOutcome(ctx, integrationID, action, Result{}, err)
		return Result{}, err
	}

	run := &importRun{
		service:       s,
		accountID:     connection.AccountID,
		integrationID: connection.ID,
		result:        Result{Skipped: skipped, Errors: []string{}},
	}
	var summary storesync.SyncLog
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run.tx = tx
		run.identifiers = s.identifiers.WithTx(tx)
		if err := apply(run, records); err != nil {
			return err
		}
		// The summary commits with the rows it describes.
		entry, err := s.sync.RecordActivity(ctx, tx, outcomeActivity(connection.ID, action, run.result, nil))
		if err != nil {
			return err
		}
		summary = entry
		return nil
	})
	if txErr != nil {
		s.logger.Error("import failed",
			zap.String("operation", "importer."+action),
			zap.String("reason", "transaction_failed"),
			zap.String("integration_id", integrationID),
			zap.Error(txErr))
		s.recordOutcome(ctx, integrationID, action, Result{}, txErr)
		return Result{}, txErr
	}

	s.sync.Announce(summary)
	s.logger.Info("import finished",
		zap.String("integration_id", integrationID),
		zap.String("action", action),
		zap.Int("created", run.result.Created),
		zap.Int("updated", run.result.Updated),
		zap.Int("skipped", run.result.Skipped),
		zap.Int("errors", len(run.result.Errors)))
	return run.result, nil
}

// recordOutcome logs an import that did not commit.
func (s *Service) recordOutcome(ctx context.Context, integrationID, action string, result Result, failure error) {
	if _, err := s.sync.RecordActivity(ctx, nil, outcomeActivity(integrationID, action, result, failure)); err != nil {
		s.logger.Warn("import log not recorded", zap.String("integration_id", integrationID), zap.Error(err))
	}
}

func outcomeActivity(integrationID, action string, result Result, failure error) storesync.Activity {
	activity := storesync.Activity{
		IntegrationID: integrationID,
		Status:        storesync.LogStatusSuccess,
		Message:       fmt.Sprintf("%d created, %d updated, %d skipped", result.Created, result.Updated, result.Skipped),
		Metadata: map[string]any{
			"direction": storesync.DirectionImport,
			"source":    storesync.SourceImport,
			"action":    action,
			"created":   result.Created,
			"updated":   result.Updated,
			"skipped":   result.Skipped,
			"errors":    len(result.Errors),
		},
	}
	switch {
	case failure != nil:
		activity.Status = storesync.LogStatusError
		activity.Message = fmt.Sprintf("import aborted: %v", failure)
	case len(result.Errors) > 0:
		activity.Status = storesync.LogStatusWarning
		activity.Message += fmt.Sprintf(", %d row errors", len(result.Errors))
	}
	return activity
}

// rowFailure is a recoverable problem with a single row or order group.
type rowFailure struct {
	message string
}

func (f *rowFailure) Error() string {
	return f.message
}

func rowFailed(format string, args ...any) error {
	return &rowFailure{message: fmt.Sprintf(format, args...)}
}

// isolate runs fn inside a savepoint. Row failures roll the savepoint back and are
// collected; any other error aborts the file.
func (run *importRun) isolate(ctx context.Context, line int, fn func() error) error {
	savepoint := fmt.Sprintf("import_row_%d", line)
	if err := run.tx.SavePoint(savepoint).Error; err != nil {
		return err
	}
	snapshot := run.result
	errorCount := len(run.result.Errors)
	err := fn()
	if err == nil {
		return nil
	}
	if rollbackErr := run.tx.RollbackTo(savepoint).Error; rollbackErr != nil {
		return rollbackErr
	}
	// Line errors gathered before the rollback describe writes that no longer exist.
	run.result.Created, run.result.Updated = snapshot.Created, snapshot.Updated
	run.result.Errors = run.result.Errors[:errorCount]
	var failure *rowFailure
	if errors.As(err, &failure) || errors.Is(err, identity.ErrExternalIDClaimed) {
		run.result.rowError(line, "%s", err.Error())
		run.result.Skipped++
		return nil
	}
	return err
}

func (run *importRun) productRecord(ctx context.Context, rec record) error {
	switch classify(rec) {
	case rowKindProduct:
		_, created, err := run.upsertColorway(ctx, rec)
		if err != nil {
			return err
		}
		run.count(created)
		return nil
	case rowKindVariant:
		return run.variantRecord(ctx, rec)
	default:
		return rowFailed("cannot tell product from variant row")
	}
}

func (run *importRun) upsertColorway(ctx context.Context, rec record) (catalog.Colorway, bool, error) {
	fields := parseProductRow(rec)
	if err := run.service.validate.Struct(fields); err != nil {
		return catalog.Colorway{}, false, rowFailed("%s", describeValidation(err))
	}
	keys := rec.productKeys()
	colorway, found, err := run.findColorway(ctx, keys, fields.Title)
	if err != nil {
		return catalog.Colorway{}, false, err
	}

	created := !found
	if created {
		id, err := run.service.idProvider.NewID()
		if err != nil {
			return catalog.Colorway{}, false, err
		}
		colorway = catalog.Colorway{ID: id, AccountID: run.accountID, Status: catalog.ColorwayStatusIdea}
	}
	colorway.Name = fields.Title
	if fields.Description != "" {
		colorway.Description = fields.Description
	}
	if status, ok := colorwayStatus(fields.Status); ok {
		colorway.Status = status
	}
	if fields.Colors != "" {
		colorway.Colors = fields.Colors
	}
	if fields.Technique != "" {
		colorway.Technique = fields.Technique
	}
	if err := run.persist(ctx, &colorway, created); err != nil {
		return catalog.Colorway{}, false, err
	}
	if keys.productID != "" {
		if err := run.identifiers.Record(ctx, run.integrationID, identity.Colorway(colorway.ID), identity.ExternalProduct, keys.productID, nil); err != nil {
			return catalog.Colorway{}, false, err
		}
	}
	if keys.handle != "" {
		if err := run.identifiers.Record(ctx, run.integrationID, identity.Colorway(colorway.ID), identity.ExternalHandle, keys.handle, nil); err != nil {
			return catalog.Colorway{}, false, err
		}
	}
	return colorway, created, nil
}

// findColorway looks up by product mapping, then by handle mapping, then by name.
func (run *importRun) findColorway(ctx context.Context, keys productKeys, name string) (catalog.Colorway, bool, error) {
	lookups := []struct {
		kind  identity.ExternalKind
		value string
	}{
		{identity.ExternalProduct, keys.productID},
		{identity.ExternalHandle, keys.handle},
	}
	for _, lookup := range lookups {
		if lookup.value == "" {
			continue
		}
		colorway, found, err := run.mappedColorway(ctx, lookup.kind, lookup.value)
		if err != nil || found {
			return colorway, found, err
		}
	}
	if name == "" {
		return catalog.Colorway{}, false, nil
	}
	var colorway catalog.Colorway
	err := run.tx.WithContext(ctx).
		Where("account_id = ? AND name = ?", run.accountID, name).
		Order("created_at ASC").
		Take(&colorway).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.Colorway{}, false, nil
	}
	if err != nil {
		return catalog.Colorway{}, false, err
	}
	return colorway, true, nil
}

func (run *importRun) mappedColorway(ctx context.Context, kind identity.ExternalKind, externalID string) (catalog.Colorway, bool, error) {
	ref, found, err := run.identifiers.ResolveInternal(ctx, run.integrationID, kind, externalID, identity.EntityColorway)
	if err != nil || !found {
		return catalog.Colorway{}, false, err
	}
	var colorway catalog.Colorway
	err = run.tx.WithContext(ctx).Where("id = ? AND account_id = ?", ref.ID, run.accountID).Take(&colorway).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.Colorway{}, false, nil
	}
	if err != nil {
		return catalog.Colorway{}, false, err
	}
	return colorway, true, nil
}

func (run *importRun) variantRecord(ctx context.Context, rec record) error {
	fields, err := parseVariantRow(rec)
	if err != nil {
		return rowFailed("%s", err.Error())
	}
	if err := run.service.validate.Struct(fields); err != nil {
		return rowFailed("%s", describeValidation(err))
	}

	var colorway catalog.Colorway
	if rec.value(fieldTitle) != "" {
		colorway, _, err = run.upsertColorway(ctx, rec)
		if err != nil {
			return err
		}
	} else {
		var found bool
		colorway, found, err = run.findColorway(ctx, rec.productKeys(), "")
		if err != nil {
			return err
		}
		if !found {
			return rowFailed("no product matches variant %q", fields.OptionValue)
		}
	}

	base, err := run.ensureBase(ctx, fields)
	if err != nil {
		return err
	}

	var row catalog.Inventory
	err = run.tx.WithContext(ctx).
		Where("account_id = ? AND colorway_id = ? AND base_id = ?", run.accountID, colorway.ID, base.ID).
		Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		id, err := run.service.idProvider.NewID()
		if err != nil {
			return err
		}
		row = catalog.Inventory{ID: id, AccountID: run.accountID, ColorwayID: colorway.ID, BaseID: base.ID}
		if fields.Quantity != nil {
			row.Quantity = *fields.Quantity
		}
		if err := run.tx.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
		run.count(true)
	case err != nil:
		return err
	default:
		if fields.Quantity != nil && *fields.Quantity != row.Quantity {
			if err := run.tx.WithContext(ctx).Model(&row).Update("quantity", *fields.Quantity).Error; err != nil {
				return err
			}
		}
		run.count(false)
	}

	if fields.VariantID != "" {
		data := map[string]any{"base_id": base.ID, "source": storesync.SourceImport}
		if err := run.identifiers.Record(ctx, run.integrationID, identity.Inventory(row.ID), identity.ExternalVariant, fields.VariantID, data); err != nil {
			return err
		}
	}
	return nil
}

func (run *importRun) ensureBase(ctx context.Context, fields variantRow) (catalog.Base, error) {
	var base catalog.Base
	err := run.tx.WithContext(ctx).
		Where("account_id = ? AND descriptor = ?", run.accountID, fields.OptionValue).
		Order("created_at ASC").
		Take(&base).Error
	if err == nil {
		return base, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.Base{}, err
	}
	id, err := run.service.idProvider.NewID()
	if err != nil {
		return catalog.Base{}, err
	}
	base = catalog.Base{
		ID:         id,
		AccountID:  run.accountID,
		Descriptor: fields.OptionValue,
		Weight:     fields.Weight,
		Status:     catalog.BaseStatusActive,
	}
	if fields.Price != nil {
		base.RetailPrice = *fields.Price
	}
	if err := run.tx.WithContext(ctx).Create(&base).Error; err != nil {
		return catalog.Base{}, err
	}
	return base, nil
}

func (run *importRun) orderGroup(ctx context.Context, recs []record) error {
	header, err := parseOrderHeader(recs)
	if err != nil {
		return rowFailed("%s", err.Error())
	}
	if err := run.service.validate.Struct(header); err != nil {
		return rowFailed("%s", describeValidation(err))
	}
	order, found, err := run.findOrder(ctx, header.ExternalID, header.Number)
	if err != nil {
		return err
	}
	if !found {
		id, err := run.service.idProvider.NewID()
		if err != nil {
			return err
		}
		order = catalog.Order{ID: id, AccountID: run.accountID}
	}
	order.Number = header.Number
	order.Email = header.Email
	order.Total = header.Total
	order.ExternalState = header.State
	order.PlacedAt = header.PlacedAt
	order.Items = nil
	if err := run.persist(ctx, &order, !found); err != nil {
		return err
	}
	if err := run.tx.WithContext(ctx).Where("order_id = ?", order.ID).Delete(&catalog.OrderItem{}).Error; err != nil {
		return err
	}

	for _, rec := range recs {
		if rec.value(fieldItemName) == "" {
			continue
		}
		line, err := parseOrderLine(rec)
		if err == nil {
			err = run.service.validate.Struct(line)
			if err != nil {
				err = errors.New(describeValidation(err))
			}
		}
		if err != nil {
			run.result.rowError(rec.Line, "%s", err.Error())
			continue
		}
		if err := run.createOrderItem(ctx, order.ID, line); err != nil {
			return err
		}
	}

	if header.ExternalID != "" {
		if err := run.identifiers.Record(ctx, run.integrationID, identity.Order(order.ID), identity.ExternalOrder, header.ExternalID, nil); err != nil {
			return err
		}
	}
	run.count(!found)
	return nil
}

// findOrder looks up by order mapping when the file carries an order id, then by number.
func (run *importRun) findOrder(ctx context.Context, externalID, number string) (catalog.Order, bool, error) {
	var order catalog.Order
	if externalID != "" {
		ref, found, err := run.identifiers.ResolveInternal(ctx, run.integrationID, identity.ExternalOrder, externalID, identity.EntityOrder)
		if err != nil {
			return catalog.Order{}, false, err
		}
		if found {
			err := run.tx.WithContext(ctx).Where("id = ? AND account_id = ?", ref.ID, run.accountID).Take(&order).Error
			if err == nil {
				return order, true, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return catalog.Order{}, false, err
			}
		}
	}
	err := run.tx.WithContext(ctx).Where("account_id = ? AND number = ?", run.accountID, number).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.Order{}, false, nil
	}
	if err != nil {
		return catalog.Order{}, false, err
	}
	return order, true, nil
}

// createOrderItem links the item to a colorway via the product mapping, or by name using
// the "Colorway - Base" convention of line item titles.
func (run *importRun) createOrderItem(ctx context.Context, orderID string, line orderLine) error {
	id, err := run.service.idProvider.NewID()
	if err != nil {
		return err
	}
	item := catalog.OrderItem{ID: id, OrderID: orderID, Name: line.Name, Quantity: line.Quantity, UnitPrice: line.UnitPrice}

	colorwayName, baseDescriptor := line.Name, ""
	if cut := strings.LastIndex(line.Name, " - "); cut > 0 {
		colorwayName, baseDescriptor = strings.TrimSpace(line.Name[:cut]), strings.TrimSpace(line.Name[cut+3:])
	}
	colorway, found, err := run.findColorway(ctx, productKeys{productID: line.ProductID}, colorwayName)
	if err != nil {
		return err
	}
	if !found && colorwayName != line.Name {
		colorway, found, err = run.findColorway(ctx, productKeys{}, line.Name)
		if err != nil {
			return err
		}
		baseDescriptor = ""
	}
	if found {
		item.ColorwayID = &colorway.ID
	}
	if baseDescriptor != "" {
		var base catalog.Base
		err := run.tx.WithContext(ctx).Where("account_id = ? AND descriptor = ?", run.accountID, baseDescriptor).Take(&base).Error
		if err == nil {
			item.BaseID = &base.ID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return run.tx.WithContext(ctx).Create(&item).Error
}

func (run *importRun) persist(ctx context.Context, value any, created bool) error {
	db := run.tx.WithContext(ctx).Omit(clause.Associations)
	if created {
		return db.Create(value).Error
	}
	return db.Save(value).Error
}

func (run *importRun) count(created bool) {
	if created {
		run.result.Created++
		return
	}
	run.result.Updated++
}
