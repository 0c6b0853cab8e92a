package shopify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"go.uber.org/zap"
)

const (
	baseOptionName     = "Base"
	defaultOptionName  = "Title"
	defaultOptionValue = "Default Title"

	perPanNamespace = "custom"
	perPanKey       = "per_pan"
)

// ProductStatus maps a colorway lifecycle state to the remote product status.
func ProductStatus(status catalog.ColorwayStatus) string {
	switch status {
	case catalog.ColorwayStatusActive:
		return "ACTIVE"
	case catalog.ColorwayStatusRetired:
		return "ARCHIVED"
	default:
		return "DRAFT"
	}
}

// CreatedVariant identifies a remote variant and the inventory item behind it.
type CreatedVariant struct {
	ID              string
	InventoryItemID string
}

// CreatedProduct is the outcome of CreateProduct. Variants follow the order of the input bases;
// with no bases it holds the single default variant.
type CreatedProduct struct {
	ID       string
	Handle   string
	Variants []CreatedVariant
}

// Admin is the catalog-aware mutation layer over an Executor.
type Admin struct {
	executor Executor
	logger   *zap.Logger

	locationMu sync.Mutex
	locationID string
}

// NewAdmin wraps an executor.
func NewAdmin(executor Executor, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admin{executor: executor, logger: logger}
}

type selectedOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type variantNode struct {
	ID              string           `json:"id"`
	SelectedOptions []selectedOption `json:"selectedOptions"`
	InventoryItem   *struct {
		ID string `json:"id"`
	} `json:"inventoryItem"`
}

func (v variantNode) created() CreatedVariant {
	variant := CreatedVariant{ID: v.ID}
	if v.InventoryItem != nil {
		variant.InventoryItemID = v.InventoryItem.ID
	}
	return variant
}

func (v variantNode) optionValue(name string) string {
	for _, option := range v.SelectedOptions {
		if option.Name == name {
			return option.Value
		}
	}
	return ""
}

// CreateProduct creates the product with one variant per base in a single request.
func (a *Admin) CreateProduct(ctx context.Context, colorway catalog.Colorway, bases []catalog.Base) (CreatedProduct, error) {
	optionName := baseOptionName
	optionValues := make([]map[string]any, 0, len(bases))
	variants := make([]map[string]any, 0, len(bases))
	for _, base := range bases {
		optionValues = append(optionValues, map[string]any{"name": base.Descriptor})
		variants = append(variants, variantInput(base))
	}
	if len(bases) == 0 {
		optionName = defaultOptionName
		optionValues = append(optionValues, map[string]any{"name": defaultOptionValue})
		variants = append(variants, map[string]any{
			"optionValues":  []map[string]any{{"optionName": defaultOptionName, "name": defaultOptionValue}},
			"inventoryItem": map[string]any{"tracked": true},
		})
	}

	input := productFields(colorway)
	input["productOptions"] = []map[string]any{{"name": optionName, "values": optionValues}}
	input["variants"] = variants
	if colorway.PerPan > 0 {
		input["metafields"] = []map[string]any{{
			"namespace": perPanNamespace,
			"key":       perPanKey,
			"type":      "number_integer",
			"value":     strconv.Itoa(colorway.PerPan),
		}}
	}

	var payload struct {
		ProductSet struct {
			Product *struct {
				ID       string `json:"id"`
				Handle   string `json:"handle"`
				Variants struct {
					Nodes []variantNode `json:"nodes"`
				} `json:"variants"`
			} `json:"product"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"productSet"`
	}
	if err := a.run(ctx, productSetMutation, map[string]any{"input": input}, &payload); err != nil {
		return CreatedProduct{}, err
	}
	if len(payload.ProductSet.UserErrors) > 0 {
		return CreatedProduct{}, newUserError("productSet", payload.ProductSet.UserErrors)
	}
	product := payload.ProductSet.Product
	if product == nil || product.ID == "" {
		return CreatedProduct{}, &RemoteAPIError{Kind: KindMalformed, Message: "productSet returned no product"}
	}

	nodes := product.Variants.Nodes
	created := CreatedProduct{ID: product.ID, Handle: product.Handle}
	if len(bases) == 0 {
		if len(nodes) == 0 {
			return CreatedProduct{}, &RemoteAPIError{Kind: KindMalformed, Message: "productSet returned no default variant"}
		}
		created.Variants = []CreatedVariant{nodes[0].created()}
		return created, nil
	}

	byOption := make(map[string]variantNode, len(nodes))
	for _, node := range nodes {
		byOption[node.optionValue(baseOptionName)] = node
	}
	created.Variants = make([]CreatedVariant, len(bases))
	for index, base := range bases {
		node, ok := byOption[base.Descriptor]
		if !ok {
			if index >= len(nodes) {
				return CreatedProduct{}, &RemoteAPIError{
					Kind:    KindMalformed,
					Message: fmt.Sprintf("productSet returned %d variants for %d bases", len(nodes), len(bases)),
				}
			}
			node = nodes[index]
		}
		created.Variants[index] = node.created()
	}
	return created, nil
}

// UpdateProduct pushes title, description, status and tags.
func (a *Admin) UpdateProduct(ctx context.Context, productID string, colorway catalog.Colorway) error {
	input := productFields(colorway)
	input["id"] = ProductGID(productID)

	var payload struct {
		ProductUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productUpdate"`
	}
	if err := a.run(ctx, productUpdateMutation, map[string]any{"product": input}, &payload); err != nil {
		return err
	}
	if len(payload.ProductUpdate.UserErrors) > 0 {
		return newUserError("productUpdate", payload.ProductUpdate.UserErrors)
	}
	return nil
}

// CreateVariant adds a variant for base to an existing product.
func (a *Admin) CreateVariant(ctx context.Context, productID string, base catalog.Base) (CreatedVariant, error) {
	variables := map[string]any{
		"productId": ProductGID(productID),
		"variants":  []map[string]any{variantInput(base)},
	}
	var payload struct {
		Result struct {
			ProductVariants []variantNode `json:"productVariants"`
			UserErrors      []UserError   `json:"userErrors"`
		} `json:"productVariantsBulkCreate"`
	}
	if err := a.run(ctx, variantsBulkCreateMutation, variables, &payload); err != nil {
		return CreatedVariant{}, err
	}
	if len(payload.Result.UserErrors) > 0 {
		return CreatedVariant{}, newUserError("productVariantsBulkCreate", payload.Result.UserErrors)
	}
	if len(payload.Result.ProductVariants) == 0 {
		return CreatedVariant{}, &RemoteAPIError{Kind: KindMalformed, Message: "productVariantsBulkCreate returned no variant"}
	}
	return payload.Result.ProductVariants[0].created(), nil
}

// UpdateVariant refreshes the option value and price of a variant.
func (a *Admin) UpdateVariant(ctx context.Context, productID, variantID string, base catalog.Base) error {
	variant := map[string]any{
		"id":           VariantGID(variantID),
		"price":        base.RetailPrice.StringFixed(2),
		"optionValues": []map[string]any{{"optionName": baseOptionName, "name": base.Descriptor}},
	}
	variables := map[string]any{
		"productId": ProductGID(productID),
		"variants":  []map[string]any{variant},
	}
	var payload struct {
		Result struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productVariantsBulkUpdate"`
	}
	if err := a.run(ctx, variantsBulkUpdateMutation, variables, &payload); err != nil {
		return err
	}
	if len(payload.Result.UserErrors) > 0 {
		return newUserError("productVariantsBulkUpdate", payload.Result.UserErrors)
	}
	return nil
}

// DeleteVariant removes a variant from a product.
func (a *Admin) DeleteVariant(ctx context.Context, productID, variantID string) error {
	variables := map[string]any{
		"productId":   ProductGID(productID),
		"variantsIds": []string{VariantGID(variantID)},
	}
	var payload struct {
		Result struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productVariantsBulkDelete"`
	}
	if err := a.run(ctx, variantsBulkDeleteMutation, variables, &payload); err != nil {
		return err
	}
	if len(payload.Result.UserErrors) > 0 {
		return newUserError("productVariantsBulkDelete", payload.Result.UserErrors)
	}
	return nil
}

// SetInventoryQuantity sets the absolute available quantity of a variant at the shop's
// first manageable location.
func (a *Admin) SetInventoryQuantity(ctx context.Context, variantID string, quantity int) error {
	inventoryItemID, err := a.inventoryItemForVariant(ctx, variantID)
	if err != nil {
		return err
	}
	locationID, err := a.location(ctx)
	if err != nil {
		return err
	}

	input := map[string]any{
		"name":                  "available",
		"reason":                "correction",
		"ignoreCompareQuantity": true,
		"quantities": []map[string]any{{
			"inventoryItemId": inventoryItemID,
			"locationId":      locationID,
			"quantity":        quantity,
		}},
	}
	var payload struct {
		Result struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"inventorySetQuantities"`
	}
	if err := a.run(ctx, inventorySetQuantitiesMutation, map[string]any{"input": input}, &payload); err != nil {
		return err
	}
	if len(payload.Result.UserErrors) > 0 {
		return newUserError("inventorySetQuantities", payload.Result.UserErrors)
	}
	return nil
}

// VariantForInventoryItem resolves the variant that owns an inventory item.
func (a *Admin) VariantForInventoryItem(ctx context.Context, inventoryItemID string) (string, bool, error) {
	var payload struct {
		InventoryItem *struct {
			Variant *struct {
				ID string `json:"id"`
			} `json:"variant"`
		} `json:"inventoryItem"`
	}
	if err := a.run(ctx, inventoryItemVariantQuery, map[string]any{"id": InventoryItemGID(inventoryItemID)}, &payload); err != nil {
		return "", false, err
	}
	if payload.InventoryItem == nil || payload.InventoryItem.Variant == nil || payload.InventoryItem.Variant.ID == "" {
		return "", false, nil
	}
	return payload.InventoryItem.Variant.ID, true, nil
}

// SyncImages replaces every media item on the product with the given set, primary first.
func (a *Admin) SyncImages(ctx context.Context, productID string, media []catalog.Media) error {
	productGID := ProductGID(productID)

	var existing struct {
		Product *struct {
			Media struct {
				Nodes []struct {
					ID string `json:"id"`
				} `json:"nodes"`
			} `json:"media"`
		} `json:"product"`
	}
	if err := a.run(ctx, productMediaQuery, map[string]any{"id": productGID}, &existing); err != nil {
		return err
	}
	if existing.Product != nil && len(existing.Product.Media.Nodes) > 0 {
		mediaIDs := make([]string, 0, len(existing.Product.Media.Nodes))
		for _, node := range existing.Product.Media.Nodes {
			mediaIDs = append(mediaIDs, node.ID)
		}
		var deleted struct {
			Result struct {
				MediaUserErrors []UserError `json:"mediaUserErrors"`
			} `json:"productDeleteMedia"`
		}
		if err := a.run(ctx, productDeleteMediaMutation, map[string]any{"productId": productGID, "mediaIds": mediaIDs}, &deleted); err != nil {
			return err
		}
		if len(deleted.Result.MediaUserErrors) > 0 {
			return newUserError("productDeleteMedia", deleted.Result.MediaUserErrors)
		}
	}

	if len(media) == 0 {
		return nil
	}
	inputs := make([]map[string]any, 0, len(media))
	for _, item := range media {
		if strings.TrimSpace(item.URL) == "" {
			continue
		}
		inputs = append(inputs, map[string]any{
			"originalSource":   item.URL,
			"alt":              item.AltText,
			"mediaContentType": "IMAGE",
		})
	}
	if len(inputs) == 0 {
		return nil
	}
	var created struct {
		Result struct {
			MediaUserErrors []UserError `json:"mediaUserErrors"`
		} `json:"productCreateMedia"`
	}
	if err := a.run(ctx, productCreateMediaMutation, map[string]any{"productId": productGID, "media": inputs}, &created); err != nil {
		return err
	}
	if len(created.Result.MediaUserErrors) > 0 {
		return newUserError("productCreateMedia", created.Result.MediaUserErrors)
	}
	return nil
}

func (a *Admin) inventoryItemForVariant(ctx context.Context, variantID string) (string, error) {
	var payload struct {
		ProductVariant *struct {
			InventoryItem *struct {
				ID string `json:"id"`
			} `json:"inventoryItem"`
		} `json:"productVariant"`
	}
	if err := a.run(ctx, variantInventoryItemQuery, map[string]any{"id": VariantGID(variantID)}, &payload); err != nil {
		return "", err
	}
	if payload.ProductVariant == nil || payload.ProductVariant.InventoryItem == nil || payload.ProductVariant.InventoryItem.ID == "" {
		return "", &RemoteAPIError{Kind: KindValidation, Message: fmt.Sprintf("variant %s has no inventory item", variantID)}
	}
	return payload.ProductVariant.InventoryItem.ID, nil
}

func (a *Admin) location(ctx context.Context) (string, error) {
	a.locationMu.Lock()
	defer a.locationMu.Unlock()
	if a.locationID != "" {
		return a.locationID, nil
	}

	var payload struct {
		Locations struct {
			Nodes []struct {
				ID                   string `json:"id"`
				IsActive             bool   `json:"isActive"`
				FulfillsOnlineOrders bool   `json:"fulfillsOnlineOrders"`
			} `json:"nodes"`
		} `json:"locations"`
	}
	if err := a.run(ctx, locationsQuery, nil, &payload); err != nil {
		return "", err
	}
	fallback := ""
	for _, node := range payload.Locations.Nodes {
		if !node.IsActive {
			continue
		}
		if node.FulfillsOnlineOrders {
			a.locationID = node.ID
			return a.locationID, nil
		}
		if fallback == "" {
			fallback = node.ID
		}
	}
	if fallback == "" {
		return "", &RemoteAPIError{Kind: KindValidation, Message: "shop has no active location"}
	}
	a.locationID = fallback
	a.logger.Debug("shopify location selected without online fulfillment", zap.String("location_id", fallback))
	return a.locationID, nil
}

func (a *Admin) run(ctx context.Context, query string, variables map[string]any, target any) error {
	response, err := a.executor.Execute(ctx, query, variables)
	if err != nil {
		return err
	}
	return response.Decode(target)
}

func productFields(colorway catalog.Colorway) map[string]any {
	return map[string]any{
		"title":           colorway.Name,
		"descriptionHtml": colorway.Description,
		"status":          ProductStatus(colorway.Status),
		"tags":            colorway.Tags(),
	}
}

func variantInput(base catalog.Base) map[string]any {
	return map[string]any{
		"optionValues":  []map[string]any{{"optionName": baseOptionName, "name": base.Descriptor}},
		"price":         base.RetailPrice.StringFixed(2),
		"inventoryItem": map[string]any{"tracked": true},
	}
}
