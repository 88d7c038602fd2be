package vendors

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PlanID identifies a subscription plan in the catalog.
type PlanID string

const (
	PlanBasic      PlanID = "basic"
	PlanPremium    PlanID = "premium"
	PlanEnterprise PlanID = "enterprise"
)

// Plan is read-only reference data for the payment step.
type Plan struct {
	ID       PlanID          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Duration string          `json:"duration"`
	Popular  bool            `json:"popular"`
	Savings  string          `json:"savings,omitempty"`
	Features []string        `json:"features"`
}

var catalog = []Plan{
	{
		ID:       PlanBasic,
		Name:     "Basic Plan",
		Price:    decimal.NewFromInt(999),
		Currency: "INR",
		Duration: "1 Month",
		Features: []string{
			"Basic vendor profile",
			"Product listing (up to 50 items)",
			"Basic analytics",
			"Email support",
			"Mobile app access",
		},
	},
	{
		ID:       PlanPremium,
		Name:     "Premium Plan",
		Price:    decimal.NewFromInt(2499),
		Currency: "INR",
		Duration: "3 Months",
		Popular:  true,
		Savings:  "Save ₹1,498",
		Features: []string{
			"Enhanced vendor profile",
			"Product listing (up to 200 items)",
			"Advanced analytics",
			"Priority support",
			"Mobile app access",
			"Featured shop placement",
			"Bulk product upload",
			"Customer insights",
		},
	},
	{
		ID:       PlanEnterprise,
		Name:     "Enterprise Plan",
		Price:    decimal.NewFromInt(4999),
		Currency: "INR",
		Duration: "6 Months",
		Savings:  "Save ₹3,995",
		Features: []string{
			"Premium vendor profile",
			"Unlimited product listings",
			"Comprehensive analytics",
			"24/7 dedicated support",
			"Mobile app access",
			"Top shop placement",
			"Bulk operations",
			"Advanced customer insights",
			"Marketing tools",
			"API access",
			"Custom branding",
		},
	},
}

// Catalog returns a copy of the plan catalog in display order.
func Catalog() []Plan {
	out := make([]Plan, len(catalog))
	for i, p := range catalog {
		p.Features = append([]string(nil), p.Features...)
		out[i] = p
	}
	return out
}

// DefaultPlan is preselected on the payment step.
const DefaultPlan = PlanPremium

// LookupPlan returns the catalog entry for id.
func LookupPlan(id PlanID) (Plan, error) {
	for _, p := range catalog {
		if p.ID == id {
			p.Features = append([]string(nil), p.Features...)
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
}
