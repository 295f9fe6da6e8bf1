package entities

import "time"

// CustomerStatus represents the lifecycle state of an account
type CustomerStatus string

const (
	CustomerActive  CustomerStatus = "active"
	CustomerPaused  CustomerStatus = "paused"
	CustomerChurned CustomerStatus = "churned"
)

// Customer is the account record shown on the dashboard's customer views.
type Customer struct {
	ID         string         `json:"id" validate:"required"`
	Name       string         `json:"name" validate:"required,min=1,max=200"`
	Tier       string         `json:"tier" validate:"required,oneof=starter growth enterprise"`
	Status     CustomerStatus `json:"status" validate:"required,oneof=active paused churned"`
	ARR        float64        `json:"arr" validate:"min=0"`
	OwnerEmail string         `json:"owner_email" validate:"omitempty,email"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// EntityID implements Entity
func (c Customer) EntityID() string { return c.ID }

// EntityKind implements Entity
func (c Customer) EntityKind() Kind { return KindCustomer }

// Validate checks the customer against its schema
func (c Customer) Validate() error { return validateStruct(c) }

// CustomerList is a query-scoped page of customers. It is cached as a
// single entity under the query fingerprint rather than per row.
type CustomerList struct {
	Query     string     `json:"query"`
	Customers []Customer `json:"customers" validate:"dive"`
	Total     int        `json:"total" validate:"min=0"`
}

// EntityID implements Entity
func (l CustomerList) EntityID() string { return l.Query }

// EntityKind implements Entity
func (l CustomerList) EntityKind() Kind { return KindCustomerList }

// Validate checks every row in the page
func (l CustomerList) Validate() error { return validateStruct(l) }
