package catalog

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ColorwayStatus enumerates the lifecycle states of a catalog item.
type ColorwayStatus string

const (
	// ColorwayStatusActive marks a colorway that is offered for sale.
	ColorwayStatusActive ColorwayStatus = "active"
	// ColorwayStatusIdea marks a colorway that is still being developed.
	ColorwayStatusIdea ColorwayStatus = "idea"
	// ColorwayStatusRetired marks a colorway that is no longer produced.
	ColorwayStatusRetired ColorwayStatus = "retired"
)

// BaseStatus enumerates whether a base participates in the sellable catalog.
type BaseStatus string

const (
	BaseStatusActive   BaseStatus = "active"
	BaseStatusInactive BaseStatus = "inactive"
)

// SyncStatus tags the outcome of the most recent sync attempt for an inventory row.
type SyncStatus string

const (
	SyncStatusNone    SyncStatus = ""
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// Colorway is a catalog item: one dye recipe offered across every active base.
type Colorway struct {
	ID          string         `gorm:"column:id;primaryKey;size:190;not null"`
	AccountID   string         `gorm:"column:account_id;size:190;not null;index:idx_colorways_account_name,priority:1"`
	Name        string         `gorm:"column:name;size:255;not null;index:idx_colorways_account_name,priority:2"`
	Description string         `gorm:"column:description;type:text;not null;default:''"`
	Status      ColorwayStatus `gorm:"column:status;size:32;not null;default:'idea'"`
	Technique   string         `gorm:"column:technique;size:64;not null;default:''"`
	Colors      string         `gorm:"column:colors;size:512;not null;default:''"`
	PerPan      int            `gorm:"column:per_pan;not null;default:0"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Colorway) TableName() string {
	return "colorways"
}

// Tags derives the free-text tag set from the colour and technique attributes.
func (c Colorway) Tags() []string {
	seen := make(map[string]struct{})
	tags := make([]string, 0, 4)
	add := func(value string) {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		tags = append(tags, trimmed)
	}
	for _, color := range strings.Split(c.Colors, ",") {
		add(color)
	}
	add(c.Technique)
	return tags
}

// Base is the material axis a colorway is dyed on, e.g. a yarn weight.
type Base struct {
	ID          string          `gorm:"column:id;primaryKey;size:190;not null"`
	AccountID   string          `gorm:"column:account_id;size:190;not null;index:idx_bases_account_created,priority:1"`
	Descriptor  string          `gorm:"column:descriptor;size:255;not null"`
	Weight      string          `gorm:"column:weight;size:64;not null;default:''"`
	RetailPrice decimal.Decimal `gorm:"column:retail_price;type:decimal(10,2);not null;default:0"`
	Status      BaseStatus      `gorm:"column:status;size:32;not null;default:'active'"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime;index:idx_bases_account_created,priority:2"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Base) TableName() string {
	return "bases"
}

// Inventory is the system of record for the on-hand quantity of one colorway on one base.
type Inventory struct {
	ID           string     `gorm:"column:id;primaryKey;size:190;not null"`
	AccountID    string     `gorm:"column:account_id;size:190;not null;uniqueIndex:idx_inventory_account_colorway_base,priority:1"`
	ColorwayID   string     `gorm:"column:colorway_id;size:190;not null;uniqueIndex:idx_inventory_account_colorway_base,priority:2"`
	BaseID       string     `gorm:"column:base_id;size:190;not null;uniqueIndex:idx_inventory_account_colorway_base,priority:3"`
	Quantity     int        `gorm:"column:quantity;not null;default:0"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	SyncStatus   SyncStatus `gorm:"column:sync_status;size:32;not null;default:''"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Inventory) TableName() string {
	return "inventories"
}

// Media is an image attached to a colorway.
type Media struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	ColorwayID string    `gorm:"column:colorway_id;size:190;not null;index"`
	URL        string    `gorm:"column:url;size:1024;not null"`
	AltText    string    `gorm:"column:alt_text;size:512;not null;default:''"`
	IsPrimary  bool      `gorm:"column:is_primary;not null;default:false"`
	Position   int       `gorm:"column:position;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Media) TableName() string {
	return "media"
}

// Order is the minimal order aggregate populated by flat-file imports.
type Order struct {
	ID            string          `gorm:"column:id;primaryKey;size:190;not null"`
	AccountID     string          `gorm:"column:account_id;size:190;not null;index"`
	Number        string          `gorm:"column:number;size:64;not null"`
	Email         string          `gorm:"column:email;size:320;not null;default:''"`
	Total         decimal.Decimal `gorm:"column:total;type:decimal(10,2);not null;default:0"`
	ExternalState string          `gorm:"column:external_state;size:64;not null;default:''"`
	PlacedAt      *time.Time      `gorm:"column:placed_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	Items         []OrderItem     `gorm:"foreignKey:OrderID"`
}

// TableName provides the explicit table binding for GORM.
func (Order) TableName() string {
	return "orders"
}

// OrderItem is one line of an Order.
type OrderItem struct {
	ID         string          `gorm:"column:id;primaryKey;size:190;not null"`
	OrderID    string          `gorm:"column:order_id;size:190;not null;index"`
	ColorwayID *string         `gorm:"column:colorway_id;size:190"`
	BaseID     *string         `gorm:"column:base_id;size:190"`
	Name       string          `gorm:"column:name;size:512;not null"`
	Quantity   int             `gorm:"column:quantity;not null;default:1"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:decimal(10,2);not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (OrderItem) TableName() string {
	return "order_items"
}

// Models lists every catalog model for schema migration.
func Models() []any {
	return []any{&Colorway{}, &Base{}, &Inventory{}, &Media{}, &Order{}, &OrderItem{}}
}
