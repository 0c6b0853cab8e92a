package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// EntityKind tags the internal entity type an identifier or log entry points at.
type EntityKind string

const (
	EntityColorway  EntityKind = "colorway"
	EntityBase      EntityKind = "base"
	EntityInventory EntityKind = "inventory"
	EntityOrder     EntityKind = "order"
	EntityCustomer  EntityKind = "customer"
	EntityMedia     EntityKind = "media"
)

// ExternalKind names the kind of remote object an identifier maps to.
type ExternalKind string

const (
	ExternalProduct       ExternalKind = "product"
	ExternalHandle        ExternalKind = "product_handle"
	ExternalVariant       ExternalKind = "variant"
	ExternalOrder         ExternalKind = "order"
	ExternalCustomer      ExternalKind = "customer"
	ExternalInventoryItem ExternalKind = "inventory_item"
	ExternalMedia         ExternalKind = "media"
)

var (
	// ErrUnknownEntityKind indicates an entity reference with an unsupported kind tag.
	ErrUnknownEntityKind = errors.New("identity: unknown entity kind")
	// ErrUnknownExternalKind indicates an unsupported remote object kind.
	ErrUnknownExternalKind = errors.New("identity: unknown external kind")
	// ErrMissingEntityID indicates an entity reference without an identifier.
	ErrMissingEntityID = errors.New("identity: entity id required")
	// ErrMissingExternalID indicates an empty remote identifier.
	ErrMissingExternalID = errors.New("identity: external id required")
	// ErrExternalIDClaimed indicates the remote object is already mapped to a different internal entity.
	ErrExternalIDClaimed = errors.New("identity: external id already mapped to another entity")
)

var knownEntityKinds = map[EntityKind]struct{}{
	EntityColorway:  {},
	EntityBase:      {},
	EntityInventory: {},
	EntityOrder:     {},
	EntityCustomer:  {},
	EntityMedia:     {},
}

var knownExternalKinds = map[ExternalKind]struct{}{
	ExternalProduct:       {},
	ExternalHandle:        {},
	ExternalVariant:       {},
	ExternalOrder:         {},
	ExternalCustomer:      {},
	ExternalInventoryItem: {},
	ExternalMedia:         {},
}

// Valid reports whether the kind is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	_, ok := knownEntityKinds[k]
	return ok
}

// Valid reports whether the kind is one of the known external kinds.
func (k ExternalKind) Valid() bool {
	_, ok := knownExternalKinds[k]
	return ok
}

// EntityRef is a kind-checked reference to one internal entity.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// NewEntityRef validates the kind tag and identifier.
func NewEntityRef(kind EntityKind, id string) (EntityRef, error) {
	if !kind.Valid() {
		return EntityRef{}, fmt.Errorf("%w: %q", ErrUnknownEntityKind, kind)
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return EntityRef{}, ErrMissingEntityID
	}
	return EntityRef{Kind: kind, ID: trimmed}, nil
}

// Colorway references a colorway by id.
func Colorway(id string) EntityRef { return EntityRef{Kind: EntityColorway, ID: id} }

// Base references a base by id.
func Base(id string) EntityRef { return EntityRef{Kind: EntityBase, ID: id} }

// Inventory references an inventory row by id.
func Inventory(id string) EntityRef { return EntityRef{Kind: EntityInventory, ID: id} }

// Order references an order by id.
func Order(id string) EntityRef { return EntityRef{Kind: EntityOrder, ID: id} }

func (r EntityRef) validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEntityKind, r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingEntityID
	}
	return nil
}

// String renders the reference as kind:id.
func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Identifier maps one internal entity to one remote object under one integration.
type Identifier struct {
	ID               string            `gorm:"column:id;primaryKey;size:190;not null"`
	IntegrationID    string            `gorm:"column:integration_id;size:190;not null;uniqueIndex:idx_identifiers_external,priority:1;uniqueIndex:idx_identifiers_internal,priority:1"`
	IdentifiableType EntityKind        `gorm:"column:identifiable_type;size:32;not null;uniqueIndex:idx_identifiers_internal,priority:2"`
	IdentifiableID   string            `gorm:"column:identifiable_id;size:190;not null;uniqueIndex:idx_identifiers_internal,priority:3"`
	ExternalType     ExternalKind      `gorm:"column:external_type;size:32;not null;uniqueIndex:idx_identifiers_external,priority:2;uniqueIndex:idx_identifiers_internal,priority:4"`
	ExternalID       string            `gorm:"column:external_id;size:255;not null;uniqueIndex:idx_identifiers_external,priority:3"`
	Data             datatypes.JSONMap `gorm:"column:data"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Identifier) TableName() string {
	return "external_identifiers"
}

// Entity returns the internal side of the mapping.
func (i Identifier) Entity() EntityRef {
	return EntityRef{Kind: i.IdentifiableType, ID: i.IdentifiableID}
}
