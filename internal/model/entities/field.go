package entities

import (
	"fmt"
	"time"
)

// FieldStatus is the derived operational status of a field.
type FieldStatus string

const (
	StatusNormal        FieldStatus = "Normal"
	StatusFrostAlert    FieldStatus = "FrostAlert"
	StatusHeatAlert     FieldStatus = "HeatAlert"
	StatusDryAlert      FieldStatus = "DryAlert"
	StatusDryAirAlert   FieldStatus = "DryAirAlert"
	StatusHumidAirAlert FieldStatus = "HumidAirAlert"
)

// NormalReason is the status reason of a field without active alerts.
const NormalReason = "All monitored conditions are within thresholds"

// StatusFor maps an alert kind to the field status it produces.
func StatusFor(kind RuleKind) FieldStatus {
	switch kind {
	case RuleFrost:
		return StatusFrostAlert
	case RuleExtremeHeat:
		return StatusHeatAlert
	case RuleDryness:
		return StatusDryAlert
	case RuleDryAir:
		return StatusDryAirAlert
	case RuleHumidAir:
		return StatusHumidAirAlert
	default:
		return StatusNormal
	}
}

// LastValues holds the measurements of the latest accepted reading.
// Air values are nil when that reading did not carry them.
type LastValues struct {
	SoilMoisture    *float64
	SoilTemperature *float64
	Rainfall        *float64
	AirTemperature  *float64
	AirHumidity     *float64
}

// FieldState is the persistable part of a Field, alerts excluded.
type FieldState struct {
	ID            string
	FarmID        string
	SensorID      string
	Status        FieldStatus
	StatusReason  string
	LastReadingAt *time.Time
	Last          LastValues
	LastNormal    map[RuleKind]time.Time
	Version       int64
}

// Field is the aggregate root of one monitored plot. Its state only changes
// through ProcessReading.
type Field struct {
	id            string
	farmID        string
	sensorID      string
	status        FieldStatus
	statusReason  string
	lastReadingAt *time.Time
	last          LastValues
	lastNormal    map[RuleKind]time.Time
	alerts        []*Alert
	version       int64
}

// NewField creates a field with Normal status and no history.
func NewField(fieldID, farmID string) *Field {
	return &Field{
		id:           fieldID,
		farmID:       farmID,
		status:       StatusNormal,
		statusReason: NormalReason,
		lastNormal:   make(map[RuleKind]time.Time),
	}
}

// RehydrateField rebuilds a field from storage. Only active alerts are needed
// for evaluation; resolved ones may be passed for completeness.
func RehydrateField(state FieldState, alerts []*Alert) (*Field, error) {
	if state.ID == "" || state.FarmID == "" {
		return nil, fmt.Errorf("rehydrate field: id and farm id are required")
	}
	f := NewField(state.ID, state.FarmID)
	f.sensorID = state.SensorID
	if state.LastReadingAt != nil {
		t := *state.LastReadingAt
		f.lastReadingAt = &t
	}
	f.last = state.Last.clone()
	for k, v := range state.LastNormal {
		f.lastNormal[k] = v
	}
	f.version = state.Version

	active := make(map[RuleKind]bool)
	for _, a := range alerts {
		if a.FieldID != f.id {
			return nil, &InvariantViolation{FieldID: f.id, Got: a.FieldID, Err: ErrFieldMismatch}
		}
		if a.IsActive() {
			if active[a.Kind] {
				return nil, fmt.Errorf("rehydrate field %s: more than one active %s alert", f.id, a.Kind)
			}
			active[a.Kind] = true
		}
		f.alerts = append(f.alerts, a.clone())
	}
	f.recomputeStatus()
	return f, nil
}

func (f *Field) ID() string             { return f.id }
func (f *Field) FarmID() string         { return f.farmID }
func (f *Field) SensorID() string       { return f.sensorID }
func (f *Field) Status() FieldStatus    { return f.status }
func (f *Field) StatusReason() string   { return f.statusReason }
func (f *Field) LastValues() LastValues { return f.last.clone() }
func (f *Field) Version() int64         { return f.version }

// SetVersion records the version the field was persisted with.
func (f *Field) SetVersion(v int64) { f.version = v }

// LastReadingAt returns the timestamp of the latest accepted reading.
func (f *Field) LastReadingAt() (time.Time, bool) {
	if f.lastReadingAt == nil {
		return time.Time{}, false
	}
	return *f.lastReadingAt, true
}

// Alerts returns copies of every alert the field holds.
func (f *Field) Alerts() []*Alert {
	out := make([]*Alert, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, a.clone())
	}
	return out
}

// ActiveAlerts returns copies of the active alerts.
func (f *Field) ActiveAlerts() []*Alert {
	var out []*Alert
	for _, a := range f.alerts {
		if a.IsActive() {
			out = append(out, a.clone())
		}
	}
	return out
}

// State returns a snapshot suitable for persistence.
func (f *Field) State() FieldState {
	s := FieldState{
		ID:           f.id,
		FarmID:       f.farmID,
		SensorID:     f.sensorID,
		Status:       f.status,
		StatusReason: f.statusReason,
		Last:         f.last.clone(),
		LastNormal:   make(map[RuleKind]time.Time, len(f.lastNormal)),
		Version:      f.version,
	}
	if f.lastReadingAt != nil {
		t := *f.lastReadingAt
		s.LastReadingAt = &t
	}
	for k, v := range f.lastNormal {
		s.LastNormal[k] = v
	}
	return s
}

// ProcessReading applies r to the field. It returns false when r is older than
// the latest accepted reading; such readings leave the field untouched.
func (f *Field) ProcessReading(r SensorReading, rules []Rule) (bool, error) {
	if r.FieldID() != f.id {
		return false, &InvariantViolation{FieldID: f.id, Got: r.FieldID(), Err: ErrFieldMismatch}
	}
	if r.FarmID() != f.farmID {
		return false, &InvariantViolation{FieldID: f.id, Got: r.FarmID(), Err: ErrFarmMismatch}
	}
	if f.lastReadingAt != nil && r.Timestamp().Before(*f.lastReadingAt) {
		return false, nil
	}

	f.takeSnapshot(r)

	ec := NewEvaluationContext(f.lastNormal, f.activeKinds())
	for _, rule := range rules {
		if !rule.Enabled() {
			continue
		}
		ev, ok := EvaluatorFor(rule.Kind())
		if !ok {
			continue
		}
		var d Decision
		d, ec = ev.Evaluate(r, rule, ec)
		f.apply(d, r.Timestamp())
	}
	f.lastNormal = ec.LastNormal

	f.recomputeStatus()
	return true, nil
}

func (f *Field) takeSnapshot(r SensorReading) {
	ts := r.Timestamp()
	f.sensorID = r.SensorID()
	f.lastReadingAt = &ts
	f.last = LastValues{
		SoilMoisture:    floatPtr(r.SoilMoisture().Value()),
		SoilTemperature: floatPtr(r.SoilTemperature().Value()),
		Rainfall:        floatPtr(r.Rainfall().Value()),
	}
	if t, ok := r.AirTemperature(); ok {
		f.last.AirTemperature = floatPtr(t.Value())
	}
	if h, ok := r.AirHumidity(); ok {
		f.last.AirHumidity = floatPtr(h.Value())
	}
}

// apply commits a decision, keeping at most one active alert per kind.
func (f *Field) apply(d Decision, at time.Time) {
	switch d.Action {
	case RaiseAction:
		if f.activeAlert(d.Kind) != nil {
			return
		}
		f.alerts = append(f.alerts, RaiseAlert(d.Kind, f.farmID, f.id, d.Reason, at))
	case ResolveAction:
		if a := f.activeAlert(d.Kind); a != nil {
			a.Resolve(at)
		}
	}
}

func (f *Field) activeAlert(kind RuleKind) *Alert {
	for _, a := range f.alerts {
		if a.Kind == kind && a.IsActive() {
			return a
		}
	}
	return nil
}

func (f *Field) activeKinds() map[RuleKind]bool {
	m := make(map[RuleKind]bool)
	for _, a := range f.alerts {
		if a.IsActive() {
			m[a.Kind] = true
		}
	}
	return m
}

func (f *Field) recomputeStatus() {
	var worst *Alert
	worstRank := 0
	for _, a := range f.alerts {
		if !a.IsActive() {
			continue
		}
		rank, ok := SeverityOf(a.Kind)
		if !ok {
			continue
		}
		if worst == nil || rank < worstRank {
			worst, worstRank = a, rank
		}
	}
	if worst == nil {
		f.status = StatusNormal
		f.statusReason = NormalReason
		return
	}
	f.status = StatusFor(worst.Kind)
	f.statusReason = worst.Reason
}

func (v LastValues) clone() LastValues {
	return LastValues{
		SoilMoisture:    copyFloat(v.SoilMoisture),
		SoilTemperature: copyFloat(v.SoilTemperature),
		Rainfall:        copyFloat(v.Rainfall),
		AirTemperature:  copyFloat(v.AirTemperature),
		AirHumidity:     copyFloat(v.AirHumidity),
	}
}

func floatPtr(v float64) *float64 { return &v }

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
