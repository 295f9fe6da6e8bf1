package entities

import (
	"time"

	"github.com/go-playground/validator/v10"

	pkgerrors "pulsedesk-sync/pkg/errors"
)

// Kind identifies an entity class. Cache keys, staleness thresholds and
// push notifications are all scoped by kind.
type Kind string

const (
	KindCustomer        Kind = "customer"
	KindCustomerList    Kind = "customer_list"
	KindRiskAssessment  Kind = "risk_assessment"
	KindHealthScore     Kind = "health_score"
	KindInteraction     Kind = "interaction"
	KindInteractionList Kind = "interaction_list"
)

// Default staleness thresholds per entity class. Staleness never
// invalidates a value; it only licenses a background refresh.
const (
	DefaultCustomerTTL    = 5 * time.Minute
	DefaultRiskTTL        = 5 * time.Minute
	DefaultHealthScoreTTL = 5 * time.Minute
	DefaultListTTL        = 2 * time.Minute
)

// Entity is implemented by every domain object that flows through the
// sync layer. Values are immutable snapshots: an update replaces the whole
// value under its id, never mutates in place.
type Entity interface {
	EntityID() string
	EntityKind() Kind
	Validate() error
}

var validate = validator.New()

// validateStruct runs tag validation and converts the result into the
// shared error taxonomy so malformed server payloads are rejected at the
// fetch boundary before they reach any cache.
func validateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return pkgerrors.NewValidationError("entity failed schema validation").WithCause(err)
	}
	return nil
}
