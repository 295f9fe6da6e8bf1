package entities

import "time"

// RiskLevel buckets a risk score for display
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFactor is one weighted contributor to an assessment
type RiskFactor struct {
	Name   string  `json:"name" validate:"required"`
	Weight float64 `json:"weight" validate:"min=0,max=1"`
	Note   string  `json:"note,omitempty"`
}

// RiskAssessment is the server-computed churn risk for a customer.
// Score is authoritative; Level is derived server-side and carried as-is.
type RiskAssessment struct {
	ID         string       `json:"id" validate:"required"`
	CustomerID string       `json:"customer_id" validate:"required"`
	Score      int          `json:"score" validate:"min=0,max=100"`
	Level      RiskLevel    `json:"level" validate:"required,oneof=low medium high critical"`
	Factors    []RiskFactor `json:"factors" validate:"dive"`
	AssessedAt time.Time    `json:"assessed_at"`
}

// EntityID implements Entity
func (r RiskAssessment) EntityID() string { return r.ID }

// EntityKind implements Entity
func (r RiskAssessment) EntityKind() Kind { return KindRiskAssessment }

// Validate checks the assessment against its schema
func (r RiskAssessment) Validate() error { return validateStruct(r) }
