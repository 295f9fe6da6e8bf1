package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"

	pkgerrors "pulsedesk-sync/pkg/errors"
)

func validCustomer() Customer {
	return Customer{
		ID:         "c1",
		Name:       "Acme Corp",
		Tier:       "enterprise",
		Status:     CustomerActive,
		ARR:        500000,
		OwnerEmail: "csm@example.com",
	}
}

func TestCustomer_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Customer)
		wantErr bool
	}{
		{"valid", func(*Customer) {}, false},
		{"missing id", func(c *Customer) { c.ID = "" }, true},
		{"missing name", func(c *Customer) { c.Name = "" }, true},
		{"unknown tier", func(c *Customer) { c.Tier = "platinum" }, true},
		{"unknown status", func(c *Customer) { c.Status = "dormant" }, true},
		{"negative arr", func(c *Customer) { c.ARR = -1 }, true},
		{"bad owner email", func(c *Customer) { c.OwnerEmail = "not-an-email" }, true},
		{"no owner email", func(c *Customer) { c.OwnerEmail = "" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validCustomer()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				assert.True(t, pkgerrors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCustomerList_ValidateRows(t *testing.T) {
	list := CustomerList{
		Query:     "tier=enterprise",
		Customers: []Customer{validCustomer()},
		Total:     1,
	}
	assert.NoError(t, list.Validate())

	list.Customers[0].Tier = "platinum"
	assert.Error(t, list.Validate(), "a bad row fails the whole page")
}

func TestHealthScore_Validate(t *testing.T) {
	hs := HealthScore{ID: "hs1", CustomerID: "c1", Score: 72, Trend: TrendImproving}
	assert.NoError(t, hs.Validate())

	hs.Score = 101
	assert.Error(t, hs.Validate())

	hs.Score = 72
	hs.Trend = "sideways"
	assert.Error(t, hs.Validate())
}

func TestRiskAssessment_Validate(t *testing.T) {
	ra := RiskAssessment{
		ID:         "ra1",
		CustomerID: "c1",
		Score:      40,
		Level:      RiskMedium,
		Factors:    []RiskFactor{{Name: "low usage", Weight: 0.6}},
	}
	assert.NoError(t, ra.Validate())

	ra.Factors[0].Weight = 1.5
	assert.Error(t, ra.Validate(), "factor weights are bounded")

	ra.Factors = nil
	ra.Level = "extreme"
	assert.Error(t, ra.Validate())
}

func TestInteraction_Validate(t *testing.T) {
	in := Interaction{ID: "i1", CustomerID: "c1", Channel: ChannelCall, Summary: "quarterly review"}
	assert.NoError(t, in.Validate())

	in.Channel = "fax"
	assert.Error(t, in.Validate())

	in.Channel = ChannelNote
	in.Summary = ""
	assert.Error(t, in.Validate())
}

func TestEntityIdentities(t *testing.T) {
	assert.Equal(t, KindCustomer, validCustomer().EntityKind())
	assert.Equal(t, "c1", validCustomer().EntityID())

	list := CustomerList{Query: "tier=enterprise"}
	assert.Equal(t, KindCustomerList, list.EntityKind())
	assert.Equal(t, "tier=enterprise", list.EntityID(), "lists are keyed by query fingerprint")

	history := InteractionList{CustomerID: "c1"}
	assert.Equal(t, KindInteractionList, history.EntityKind())
	assert.Equal(t, "c1", history.EntityID(), "histories are keyed by customer")
}
