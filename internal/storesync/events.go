package storesync

import "time"

// Event announces an appended sync log entry to live subscribers.
type Event struct {
	IntegrationID string    `json:"integrationId"`
	LogID         string    `json:"logId"`
	LoggableType  string    `json:"loggableType"`
	LoggableID    string    `json:"loggableId"`
	Status        LogStatus `json:"status"`
	Direction     string    `json:"direction"`
	Message       string    `json:"message"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher fans sync events out to subscribers. Publish must not block.
type Publisher interface {
	Publish(event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

func eventFromLog(entry SyncLog) Event {
	return Event{
		IntegrationID: entry.IntegrationID,
		LogID:         entry.ID,
		LoggableType:  entry.LoggableType,
		LoggableID:    entry.LoggableID,
		Status:        entry.Status,
		Direction:     entry.Direction(),
		Message:       entry.Message,
		OccurredAt:    entry.SyncedAt,
	}
}
