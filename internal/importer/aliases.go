package importer

// Logical field names.
const (
	fieldRowType     = "type"
	fieldProductID   = "product_id"
	fieldHandle      = "handle"
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldStatus      = "status"
	fieldColors      = "colors"
	fieldTechnique   = "technique"
	fieldOptionValue = "option_value"
	fieldPrice       = "price"
	fieldWeight      = "weight"
	fieldQuantity    = "quantity"
	fieldVariantID   = "variant_id"

	fieldOrderID       = "order_id"
	fieldOrderNumber   = "order_number"
	fieldEmail         = "email"
	fieldTotal         = "total"
	fieldOrderState    = "order_state"
	fieldPlacedAt      = "placed_at"
	fieldItemName      = "item_name"
	fieldItemQuantity  = "item_quantity"
	fieldItemPrice     = "item_price"
	fieldItemProductID = "item_product_id"
)

// aliases lists, per logical field, the source columns tried in order.
var aliases = map[string][]string{
	fieldRowType:     {"Row Type", "row_type"},
	fieldProductID:   {"Product ID"},
	fieldHandle:      {"Handle"},
	fieldTitle:       {"Title", "Name", "name"},
	fieldDescription: {"Body (HTML)", "body_html", "Description"},
	fieldStatus:      {"Status"},
	fieldColors:      {"Tags", "tags", "Colors"},
	fieldTechnique:   {"Technique"},
	fieldOptionValue: {"Option1 Value", "option1", "Base", "base"},
	fieldPrice:       {"Variant Price", "price", "Price"},
	fieldWeight:      {"Weight"},
	fieldQuantity:    {"Variant Inventory Qty", "inventory_quantity", "Quantity"},
	fieldVariantID:   {"Variant ID", "variant_id"},

	fieldOrderID:       {"Id", "order_id"},
	fieldOrderNumber:   {"Name", "Order Number", "number"},
	fieldEmail:         {"Email"},
	fieldTotal:         {"Total", "total_price"},
	fieldOrderState:    {"Financial Status", "financial_status"},
	fieldPlacedAt:      {"Created at", "created_at"},
	fieldItemName:      {"Lineitem name", "line_item_name"},
	fieldItemQuantity:  {"Lineitem quantity", "line_item_quantity"},
	fieldItemPrice:     {"Lineitem price", "line_item_price"},
	fieldItemProductID: {"Lineitem product id", "line_item_product_id"},
}

// value resolves a logical field: the first non-empty aliased column wins, then the
// logical name itself.
func (r record) value(field string) string {
	for _, column := range aliases[field] {
		if value := r.Fields[column]; value != "" {
			return value
		}
	}
	return r.Fields[field]
}
