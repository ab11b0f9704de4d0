package enums

import "fmt"

// PlanTier identifies a priced subscription tier.
type PlanTier string

const (
	PlanTierStarter PlanTier = "starter"
	PlanTierGrowth  PlanTier = "growth"
	PlanTierPro     PlanTier = "pro"
)

var validPlanTiers = []PlanTier{
	PlanTierStarter,
	PlanTierGrowth,
	PlanTierPro,
}

// String implements fmt.Stringer.
func (t PlanTier) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t PlanTier) IsValid() bool {
	for _, candidate := range validPlanTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParsePlanTier converts raw input into a PlanTier.
func ParsePlanTier(value string) (PlanTier, error) {
	for _, candidate := range validPlanTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan tier %q", value)
}
