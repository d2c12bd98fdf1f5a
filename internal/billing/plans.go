// Package billing holds the static commercial tables: plan definitions,
// action costs and purchasable credit packs.
package billing

import (
	"fmt"
	"slices"
	"time"

	"lexledger/internal/types"
)

// PlanDefinition is the static description of a tier. It is not owned by
// any account.
type PlanDefinition struct {
	Tier              types.PlanTier      `json:"tier"`
	DisplayName       string              `json:"display_name"`
	ResetInterval     time.Duration       `json:"-"`
	ResetIntervalDays int                 `json:"reset_interval_days"`
	AllowanceAmount   int                 `json:"allowance_amount"`
	Features          []types.FeatureFlag `json:"features"`
	HistoryDays       int                 `json:"history_days"` // 0 means unlimited
	MonthlyPriceCents int                 `json:"monthly_price_cents"`
}

// HasFeature reports whether the plan grants flag.
func (p PlanDefinition) HasFeature(flag types.FeatureFlag) bool {
	return slices.Contains(p.Features, flag)
}

// PlanCatalog is the authoritative source of what each tier grants.
type PlanCatalog interface {
	// Lookup returns the definition for tier. Unknown tiers fail closed to
	// the free definition.
	Lookup(tier types.PlanTier) PlanDefinition

	// All returns every definition in ascending tier order.
	All() []PlanDefinition
}

const day = 24 * time.Hour

var baseFeatures = []types.FeatureFlag{
	types.FeatureGenerateSimple,
	types.FeatureLegalReview,
}

var proFeatures = append(slices.Clone(baseFeatures),
	types.FeatureExportWord,
	types.FeatureExportPDF,
	types.FeaturePDFAnalysis,
	types.FeatureTemplates,
	types.FeaturePriorityGeneration,
)

var businessFeatures = append(slices.Clone(proFeatures),
	types.FeatureMultiUser,
	types.FeatureCustomLogo,
	types.FeatureClientOrganization,
)

// planDefaults defines the four tiers.
//
//	| Plan     | Allowance | Interval | History   |
//	|----------|-----------|----------|-----------|
//	| Free     | 5         | 1 day    | 1 day     |
//	| Basic    | 450       | 30 days  | 7 days    |
//	| Pro      | 1450      | 30 days  | unlimited |
//	| Business | 3450      | 30 days  | unlimited |
var planDefaults = map[types.PlanTier]PlanDefinition{
	types.PlanFree: {
		Tier:            types.PlanFree,
		DisplayName:     "Free",
		ResetInterval:   day,
		AllowanceAmount: 5,
		Features:        baseFeatures,
		HistoryDays:     1,
	},
	types.PlanBasic: {
		Tier:              types.PlanBasic,
		DisplayName:       "Basic",
		ResetInterval:     30 * day,
		AllowanceAmount:   450,
		Features:          baseFeatures,
		HistoryDays:       7,
		MonthlyPriceCents: 3990,
	},
	types.PlanPro: {
		Tier:              types.PlanPro,
		DisplayName:       "Pro",
		ResetInterval:     30 * day,
		AllowanceAmount:   1450,
		Features:          proFeatures,
		MonthlyPriceCents: 6990,
	},
	types.PlanBusiness: {
		Tier:              types.PlanBusiness,
		DisplayName:       "Business",
		ResetInterval:     30 * day,
		AllowanceAmount:   3450,
		Features:          businessFeatures,
		MonthlyPriceCents: 13990,
	},
}

func init() {
	if err := validatePlans(planDefaults); err != nil {
		panic(err)
	}
	for tier, def := range planDefaults {
		def.ResetIntervalDays = int(def.ResetInterval / day)
		planDefaults[tier] = def
	}
}

// validatePlans checks that every canonical tier is defined with a usable
// allowance and interval.
func validatePlans(plans map[types.PlanTier]PlanDefinition) error {
	for _, tier := range types.AllPlanTiers {
		def, ok := plans[tier]
		if !ok {
			return fmt.Errorf("billing: plan %q has no definition", tier)
		}
		if def.Tier != tier {
			return fmt.Errorf("billing: plan %q is registered under %q", def.Tier, tier)
		}
		if def.AllowanceAmount <= 0 {
			return fmt.Errorf("billing: plan %q must grant a positive allowance", tier)
		}
		if def.ResetInterval < day || def.ResetInterval%day != 0 {
			return fmt.Errorf("billing: plan %q reset interval must be a whole number of days", tier)
		}
	}
	for tier := range plans {
		if !tier.Valid() {
			return fmt.Errorf("billing: unknown tier %q in catalog", tier)
		}
	}
	return nil
}

type staticPlanCatalog struct {
	plans map[types.PlanTier]PlanDefinition
}

// NewStaticPlanCatalog returns a PlanCatalog backed by the built-in tiers.
func NewStaticPlanCatalog() PlanCatalog {
	m := make(map[types.PlanTier]PlanDefinition, len(planDefaults))
	for k, v := range planDefaults {
		v.Features = slices.Clone(v.Features)
		m[k] = v
	}
	return &staticPlanCatalog{plans: m}
}

func (c *staticPlanCatalog) Lookup(tier types.PlanTier) PlanDefinition {
	if def, ok := c.plans[tier]; ok {
		return def
	}
	return c.plans[types.PlanFree]
}

func (c *staticPlanCatalog) All() []PlanDefinition {
	out := make([]PlanDefinition, 0, len(types.AllPlanTiers))
	for _, tier := range types.AllPlanTiers {
		out = append(out, c.plans[tier])
	}
	return out
}

// ParsePlanTier converts an external plan identifier into a canonical tier.
// The Portuguese "basico" spelling used by older clients is accepted as an
// alias of basic.
func ParsePlanTier(s string) (types.PlanTier, error) {
	if s == "basico" {
		return types.PlanBasic, nil
	}
	tier := types.PlanTier(s)
	if !tier.Valid() {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"unknown plan",
			nil,
			map[string]any{"plan": s},
		)
	}
	return tier, nil
}
