package entities

import (
	"time"

	"github.com/google/uuid"
)

type AlertStatus string

const (
	AlertActive   AlertStatus = "Active"
	AlertResolved AlertStatus = "Resolved"
)

// severityRank orders alert kinds, 1 being the most critical.
var severityRank = map[RuleKind]int{
	RuleFrost:       1,
	RuleExtremeHeat: 2,
	RuleDryness:     3,
	RuleDryAir:      4,
	RuleHumidAir:    5,
}

// SeverityOf returns the rank of kind and false for unknown kinds.
func SeverityOf(kind RuleKind) (int, bool) {
	s, ok := severityRank[kind]
	return s, ok
}

// Alert is one occurrence of a condition. Once resolved it never becomes
// active again; a recurrence is a new Alert.
type Alert struct {
	ID         uuid.UUID
	FarmID     string
	FieldID    string
	Kind       RuleKind
	Severity   *int
	Status     AlertStatus
	Reason     string
	StartedAt  time.Time
	ResolvedAt *time.Time
}

// RaiseAlert creates an active alert with the severity of its kind.
func RaiseAlert(kind RuleKind, farmID, fieldID, reason string, at time.Time) *Alert {
	a := &Alert{
		ID:        uuid.New(),
		FarmID:    farmID,
		FieldID:   fieldID,
		Kind:      kind,
		Status:    AlertActive,
		Reason:    reason,
		StartedAt: at,
	}
	if s, ok := SeverityOf(kind); ok {
		a.Severity = &s
	}
	return a
}

func (a *Alert) IsActive() bool { return a.Status == AlertActive }

// Resolve closes the alert at the given time, or now when at is zero.
// Resolving an already resolved alert keeps the first resolution time.
func (a *Alert) Resolve(at time.Time) {
	if a.Status == AlertResolved {
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	a.Status = AlertResolved
	a.ResolvedAt = &at
}

// OccurredAt is the time of the alert's latest transition.
func (a *Alert) OccurredAt() time.Time {
	if a.Status == AlertResolved && a.ResolvedAt != nil {
		return *a.ResolvedAt
	}
	return a.StartedAt
}

func (a *Alert) clone() *Alert {
	c := *a
	if a.Severity != nil {
		s := *a.Severity
		c.Severity = &s
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
