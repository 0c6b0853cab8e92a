package shopify

import (
	"strings"
)

const gidPrefix = "gid://shopify/"

// Resource types used in global IDs.
const (
	ResourceProduct       = "Product"
	ResourceVariant       = "ProductVariant"
	ResourceInventoryItem = "InventoryItem"
	ResourceLocation      = "Location"
	ResourceOrder         = "Order"
	ResourceMedia         = "MediaImage"
)

// GID builds a global ID. Values that already carry the prefix are returned unchanged.
func GID(resource, id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || strings.HasPrefix(trimmed, gidPrefix) {
		return trimmed
	}
	return gidPrefix + resource + "/" + trimmed
}

// NumericID returns the trailing identifier of a global ID, or the input when it is not one.
func NumericID(gid string) string {
	trimmed := strings.TrimSpace(gid)
	if !strings.HasPrefix(trimmed, gidPrefix) {
		return trimmed
	}
	tail := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if query := strings.IndexByte(tail, '?'); query >= 0 {
		tail = tail[:query]
	}
	return tail
}

// ProductGID returns the global ID for a product.
func ProductGID(id string) string { return GID(ResourceProduct, id) }

// VariantGID returns the global ID for a product variant.
func VariantGID(id string) string { return GID(ResourceVariant, id) }

// InventoryItemGID returns the global ID for an inventory item.
func InventoryItemGID(id string) string { return GID(ResourceInventoryItem, id) }

// OrderGID returns the global ID for an order.
func OrderGID(id string) string { return GID(ResourceOrder, id) }
