package importer

import (
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/shopify"
)

// Remote identifiers read from a file are stored as global IDs, the form webhooks and
// pushes use, whether the file carried the numeric or the global form.

// productKeys are the ways a file row can name a remote product. The handle is kept apart
// from the product id: it locates a colorway but is never a product id.
type productKeys struct {
	productID string
	handle    string
}

func (r record) productKeys() productKeys {
	return productKeys{
		productID: shopify.ProductGID(r.value(fieldProductID)),
		handle:    r.value(fieldHandle),
	}
}

func (r record) variantGID() string {
	return shopify.VariantGID(r.value(fieldVariantID))
}

func (r record) lineProductGID() string {
	return shopify.ProductGID(r.value(fieldItemProductID))
}

func orderGID(recs []record) string {
	return shopify.OrderGID(firstValue(recs, fieldOrderID))
}
