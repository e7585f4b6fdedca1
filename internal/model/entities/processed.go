package entities

import "time"

// ProcessedReading proves that a reading id has been applied. It is append-only.
type ProcessedReading struct {
	ReadingID   string
	FieldID     string
	ProcessedAt time.Time
	Source      Source
}
