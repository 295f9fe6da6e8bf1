package entities

import "time"

// HealthTrend describes the direction of a score over the trailing window
type HealthTrend string

const (
	TrendImproving HealthTrend = "improving"
	TrendSteady    HealthTrend = "steady"
	TrendDeclining HealthTrend = "declining"
)

// HealthScore is the composite account health metric, keyed by customer.
type HealthScore struct {
	ID         string      `json:"id" validate:"required"`
	CustomerID string      `json:"customer_id" validate:"required"`
	Score      int         `json:"score" validate:"min=0,max=100"`
	Trend      HealthTrend `json:"trend" validate:"required,oneof=improving steady declining"`

	// Component scores (usage, support, nps, ...) as reported by the server.
	Components map[string]int `json:"components,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}

// EntityID implements Entity
func (h HealthScore) EntityID() string { return h.ID }

// EntityKind implements Entity
func (h HealthScore) EntityKind() Kind { return KindHealthScore }

// Validate checks the score against its schema
func (h HealthScore) Validate() error { return validateStruct(h) }
