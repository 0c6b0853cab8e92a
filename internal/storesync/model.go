package storesync

import (
	"time"

	"gorm.io/datatypes"
)

// LogStatus is the outcome recorded by one sync log entry.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
	LogStatusWarning LogStatus = "warning"
)

// Direction values stored in log metadata.
const (
	DirectionPush   = "push"
	DirectionPull   = "pull"
	DirectionImport = "import"
)

// Source values describe what triggered a sync.
const (
	SourceManual  = "manual"
	SourceWebhook = "webhook"
	SourceImport  = "import"
)

// SyncLog is one append-only audit entry of synchronization activity.
type SyncLog struct {
	ID            string            `gorm:"column:id;primaryKey;size:190;not null"`
	IntegrationID string            `gorm:"column:integration_id;size:190;not null;index:idx_sync_logs_integration_time,priority:1"`
	LoggableType  string            `gorm:"column:loggable_type;size:32;not null;index:idx_sync_logs_loggable,priority:1"`
	LoggableID    string            `gorm:"column:loggable_id;size:190;not null;index:idx_sync_logs_loggable,priority:2"`
	Status        LogStatus         `gorm:"column:status;size:16;not null"`
	Message       string            `gorm:"column:message;type:text;not null;default:''"`
	Metadata      datatypes.JSONMap `gorm:"column:metadata"`
	SyncedAt      time.Time         `gorm:"column:synced_at;not null;index:idx_sync_logs_integration_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (SyncLog) TableName() string {
	return "sync_logs"
}

// Direction returns the direction recorded in the metadata.
func (l SyncLog) Direction() string {
	if l.Metadata == nil {
		return ""
	}
	direction, _ := l.Metadata["direction"].(string)
	return direction
}
