package importer

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type rowKind int

const (
	rowKindProduct rowKind = iota
	rowKindVariant
	rowKindUnknown
)

// classify uses the explicit row type when present, otherwise infers it: a title with no
// option value is a product row, an option value marks a variant row.
func classify(rec record) rowKind {
	switch strings.ToLower(rec.value(fieldRowType)) {
	case "product":
		return rowKindProduct
	case "variant":
		return rowKindVariant
	case "":
	default:
		return rowKindUnknown
	}
	if rec.value(fieldOptionValue) != "" {
		return rowKindVariant
	}
	if rec.value(fieldTitle) != "" {
		return rowKindProduct
	}
	return rowKindUnknown
}

type productRow struct {
	Title       string `field:"title" validate:"required,max=255"`
	Description string `field:"description"`
	Status      string `field:"status" validate:"omitempty,oneof=active idea retired draft archived"`
	Colors      string `field:"colors" validate:"max=512"`
	Technique   string `field:"technique" validate:"max=64"`
}

type variantRow struct {
	OptionValue string `field:"option_value" validate:"required,max=255"`
	Quantity    *int   `field:"quantity" validate:"omitempty,gte=0"`
	Price       *decimal.Decimal
	Weight      string `field:"weight" validate:"max=64"`
	VariantID   string `field:"variant_id"`
}

type orderHeader struct {
	Number     string `field:"order_number" validate:"required,max=64"`
	Email      string `field:"email" validate:"omitempty,email"`
	Total      decimal.Decimal
	State      string `field:"order_state" validate:"max=64"`
	PlacedAt   *time.Time
	ExternalID string `field:"order_id"`
}

type orderLine struct {
	Name      string `field:"item_name" validate:"required,max=512"`
	Quantity  int    `field:"item_quantity" validate:"gte=1"`
	UnitPrice decimal.Decimal
	ProductID string `field:"item_product_id"`
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("field"); name != "" {
			return name
		}
		return field.Name
	})
	return validate
}

func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		switch fieldError.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fieldError.Field()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of %s", fieldError.Field(), fieldError.Param()))
		case "email":
			messages = append(messages, fmt.Sprintf("%s must be an email address", fieldError.Field()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s=%s", fieldError.Field(), fieldError.Tag(), fieldError.Param()))
		}
	}
	return strings.Join(messages, "; ")
}

func parseProductRow(rec record) productRow {
	return productRow{
		Title:       rec.value(fieldTitle),
		Description: rec.value(fieldDescription),
		Status:      strings.ToLower(rec.value(fieldStatus)),
		Colors:      rec.value(fieldColors),
		Technique:   rec.value(fieldTechnique),
	}
}

func parseVariantRow(rec record) (variantRow, error) {
	row := variantRow{
		OptionValue: rec.value(fieldOptionValue),
		Weight:      rec.value(fieldWeight),
		VariantID:   rec.variantGID(),
	}
	if raw := rec.value(fieldQuantity); raw != "" {
		quantity, err := strconv.Atoi(raw)
		if err != nil {
			return variantRow{}, fmt.Errorf("quantity %q is not a whole number", raw)
		}
		row.Quantity = &quantity
	}
	if raw := rec.value(fieldPrice); raw != "" {
		price, err := parseMoney(raw)
		if err != nil {
			return variantRow{}, fmt.Errorf("price %q is not a number", raw)
		}
		row.Price = &price
	}
	return row, nil
}

func parseOrderHeader(recs []record) (orderHeader, error) {
	header := orderHeader{
		Number:     firstValue(recs, fieldOrderNumber),
		Email:      firstValue(recs, fieldEmail),
		State:      strings.ToLower(firstValue(recs, fieldOrderState)),
		ExternalID: orderGID(recs),
	}
	if raw := firstValue(recs, fieldTotal); raw != "" {
		total, err := parseMoney(raw)
		if err != nil {
			return orderHeader{}, fmt.Errorf("total %q is not a number", raw)
		}
		header.Total = total
	}
	if raw := firstValue(recs, fieldPlacedAt); raw != "" {
		placedAt, err := parseTimestamp(raw)
		if err != nil {
			return orderHeader{}, err
		}
		header.PlacedAt = &placedAt
	}
	return header, nil
}

func parseOrderLine(rec record) (orderLine, error) {
	line := orderLine{
		Name:      rec.value(fieldItemName),
		Quantity:  1,
		ProductID: rec.lineProductGID(),
	}
	if raw := rec.value(fieldItemQuantity); raw != "" {
		quantity, err := strconv.Atoi(raw)
		if err != nil {
			return orderLine{}, fmt.Errorf("item quantity %q is not a whole number", raw)
		}
		line.Quantity = quantity
	}
	if raw := rec.value(fieldItemPrice); raw != "" {
		price, err := parseMoney(raw)
		if err != nil {
			return orderLine{}, fmt.Errorf("item price %q is not a number", raw)
		}
		line.UnitPrice = price
	}
	return line, nil
}

func colorwayStatus(raw string) (catalog.ColorwayStatus, bool) {
	switch raw {
	case "active":
		return catalog.ColorwayStatusActive, true
	case "draft", "idea":
		return catalog.ColorwayStatusIdea, true
	case "archived", "retired":
		return catalog.ColorwayStatusRetired, true
	}
	return "", false
}

func parseMoney(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	return decimal.NewFromString(cleaned)
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("placed at %q is not a recognised timestamp", raw)
}

func firstValue(recs []record, field string) string {
	for _, rec := range recs {
		if value := rec.value(field); value != "" {
			return value
		}
	}
	return ""
}
