package domain

import "time"

// OrphanStatus описывает состояние записи в карантине.
type OrphanStatus string

const (
	OrphanStatusPending   OrphanStatus = "pending"
	OrphanStatusResolved  OrphanStatus = "resolved"
	OrphanStatusAbandoned OrphanStatus = "abandoned"
)

// OrphanRecord: durable-запись, которую не удалось удалить при компенсации.
type OrphanRecord struct {
	ID             string
	RecordID       string
	IdempotencyKey string
	SessionID      string
	Reason         string
	Attempts       int
	Status         OrphanStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
