package catalog

import (
	"context"

	"gorm.io/gorm"
)

// ActiveBases returns the account's active bases in creation order. The order is stable across
// calls so that remote variants map to the same inventory rows on every rerun.
func ActiveBases(ctx context.Context, db *gorm.DB, accountID string) ([]Base, error) {
	var bases []Base
	err := db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, BaseStatusActive).
		Order("created_at ASC").
		Order("id ASC").
		Find(&bases).Error
	if err != nil {
		return nil, err
	}
	return bases, nil
}

// InventoryForColorway returns every inventory row of a colorway, ordered by the creation order of
// the row's base.
func InventoryForColorway(ctx context.Context, db *gorm.DB, colorwayID string) ([]Inventory, error) {
	var rows []Inventory
	err := db.WithContext(ctx).
		Table(Inventory{}.TableName()+" AS inv").
		Select("inv.*").
		Joins("JOIN "+Base{}.TableName()+" AS b ON b.id = inv.base_id").
		Where("inv.colorway_id = ?", colorwayID).
		Order("b.created_at ASC").
		Order("b.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// OrderedMedia returns a colorway's media primary first, then by position, then insertion order.
func OrderedMedia(ctx context.Context, db *gorm.DB, colorwayID string) ([]Media, error) {
	var media []Media
	err := db.WithContext(ctx).
		Where("colorway_id = ?", colorwayID).
		Order("is_primary DESC").
		Order("position ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&media).Error
	if err != nil {
		return nil, err
	}
	return media, nil
}
