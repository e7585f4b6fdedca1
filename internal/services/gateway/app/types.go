package app

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/messages"
	"github.com/LeonardoBeccarini/fieldalert/internal/services/persistence"
)

// FieldSource returns the current state of a field; the query service client
// implements it.
type FieldSource interface {
	GetField(ctx context.Context, fieldID string, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// Stats summarises soil moisture over the dashboard window.
type Stats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Dashboard is the aggregated view of one field.
type Dashboard struct {
	FieldID  string                 `json:"fieldId"`
	Field    map[string]interface{} `json:"field,omitempty"`
	Alerts   []messages.AlertEvent  `json:"alerts"`
	Averages []persistence.Bucket   `json:"averages"`
	Stats    *Stats                 `json:"stats,omitempty"`
	Degraded []string               `json:"degraded,omitempty"`
}

// moistureStats ignores empty buckets and returns nil when none has data.
func moistureStats(buckets []persistence.Bucket) *Stats {
	var (
		s   Stats
		sum float64
		n   int
	)
	for _, b := range buckets {
		if b.SoilMoisture == nil {
			continue
		}
		v := *b.SoilMoisture
		if n == 0 || v < s.Min {
			s.Min = v
		}
		if n == 0 || v > s.Max {
			s.Max = v
		}
		sum += v
		n++
	}
	if n == 0 {
		return nil
	}
	s.Mean = sum / float64(n)
	return &s
}
