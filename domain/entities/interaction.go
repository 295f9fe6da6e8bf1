package entities

import "time"

// InteractionChannel is how the touchpoint happened
type InteractionChannel string

const (
	ChannelEmail   InteractionChannel = "email"
	ChannelCall    InteractionChannel = "call"
	ChannelMeeting InteractionChannel = "meeting"
	ChannelNote    InteractionChannel = "note"
)

// Interaction is a customer touchpoint recorded by a success manager.
// Interaction writes are the one mutation class that queues for offline
// replay instead of rolling back when the client is disconnected.
type Interaction struct {
	ID          string             `json:"id" validate:"required"`
	CustomerID  string             `json:"customer_id" validate:"required"`
	Channel     InteractionChannel `json:"channel" validate:"required,oneof=email call meeting note"`
	Summary     string             `json:"summary" validate:"required,max=2000"`
	AuthorEmail string             `json:"author_email" validate:"omitempty,email"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// EntityID implements Entity
func (i Interaction) EntityID() string { return i.ID }

// EntityKind implements Entity
func (i Interaction) EntityKind() Kind { return KindInteraction }

// Validate checks the interaction against its schema
func (i Interaction) Validate() error { return validateStruct(i) }

// InteractionList is the touchpoint history for one customer, cached as a
// single entity under the customer id. Recording a new interaction evicts
// this key so the next read refetches.
type InteractionList struct {
	CustomerID string        `json:"customer_id" validate:"required"`
	Items      []Interaction `json:"items" validate:"dive"`
}

// EntityID implements Entity
func (l InteractionList) EntityID() string { return l.CustomerID }

// EntityKind implements Entity
func (l InteractionList) EntityKind() Kind { return KindInteractionList }

// Validate checks every touchpoint in the history
func (l InteractionList) Validate() error { return validateStruct(l) }
