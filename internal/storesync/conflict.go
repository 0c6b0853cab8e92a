package storesync

import (
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
)

// ConflictGraceWindow is how long after a sync a diverging remote value is still
// treated as an echo of our own push rather than a competing edit.
const ConflictGraceWindow = 60 * time.Second

// DetectConflict reports whether an incoming remote quantity collides with a local edit
// made since the last sync. All four conditions must hold.
func DetectConflict(row catalog.Inventory, incoming int, now time.Time) bool {
	if row.LastSyncedAt == nil {
		return false
	}
	lastSynced := *row.LastSyncedAt
	if !row.UpdatedAt.After(lastSynced) {
		return false
	}
	if incoming == row.Quantity {
		return false
	}
	return now.Sub(lastSynced) > ConflictGraceWindow
}
