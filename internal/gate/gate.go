// Package gate decides whether an account may attempt a billable action.
// The decision is advisory: it exists so a request that cannot be paid for
// is turned away before any external work happens. The ledger re-checks
// the balance when it debits.
package gate

import (
	"context"
	"log/slog"

	"lexledger/internal/billing"
	"lexledger/internal/types"
)

// Outcome is the result class of an authorization check.
type Outcome string

const (
	Authorized                Outcome = "authorized"
	DeniedFeatureLocked       Outcome = "denied_feature_locked"
	DeniedInsufficientCredits Outcome = "denied_insufficient_credits"
)

// Decision is returned by Authorize. Feature is set for feature denials;
// Required and Available are always populated once the account was read.
type Decision struct {
	Outcome   Outcome            `json:"outcome"`
	Action    types.ActionKind   `json:"action"`
	Plan      types.PlanTier     `json:"plan"`
	Feature   types.FeatureFlag  `json:"feature,omitempty"`
	Required  int                `json:"required"`
	Available int                `json:"available"`
	Level     types.BalanceLevel `json:"level"`
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == Authorized
}

// Err converts a denial into the user-facing error. Returns nil when the
// action is authorized.
func (d Decision) Err() error {
	switch d.Outcome {
	case DeniedFeatureLocked:
		return types.NewFeatureLockedError(d.Feature, d.Plan)
	case DeniedInsufficientCredits:
		return types.NewInsufficientCreditsError(d.Required, d.Available)
	default:
		return nil
	}
}

// AccountReader is the read side of the ledger the gate needs.
type AccountReader interface {
	Account(ctx context.Context, accountID string) (*types.Account, error)
}

// Gate combines the plan's feature flags with the account's balance.
type Gate struct {
	accounts AccountReader
	plans    billing.PlanCatalog
	logger   *slog.Logger
}

// New creates a Gate.
func New(accounts AccountReader, plans billing.PlanCatalog, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{accounts: accounts, plans: plans, logger: logger}
}

// Authorize checks, in order, that the account has the feature kind needs
// and that its total balance covers the cost. It has no side effects.
func (g *Gate) Authorize(ctx context.Context, accountID string, kind types.ActionKind) (Decision, error) {
	cost, err := billing.CostOf(kind)
	if err != nil {
		return Decision{}, err
	}
	feature, err := billing.RequiredFeature(kind)
	if err != nil {
		return Decision{}, err
	}

	acct, err := g.accounts.Account(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}

	total := acct.TotalBalance()
	d := Decision{
		Outcome:   Authorized,
		Action:    kind,
		Plan:      acct.Plan,
		Required:  cost,
		Available: total,
		Level:     types.LevelForBalance(total),
	}

	if !g.hasFeature(acct, feature) {
		d.Outcome = DeniedFeatureLocked
		d.Feature = feature
		g.logger.InfoContext(ctx, "action denied: feature locked",
			"account_id", accountID,
			"action", string(kind),
			"feature", string(feature),
			"plan", string(acct.Plan),
		)
		return d, nil
	}

	if total < cost {
		d.Outcome = DeniedInsufficientCredits
		g.logger.InfoContext(ctx, "action denied: insufficient credits",
			"account_id", accountID,
			"action", string(kind),
			"required", cost,
			"available", total,
		)
	}
	return d, nil
}

func (g *Gate) hasFeature(acct *types.Account, feature types.FeatureFlag) bool {
	if feature == types.FeatureContentModule {
		return acct.HasContentModule
	}
	return g.plans.Lookup(acct.Plan).HasFeature(feature)
}
