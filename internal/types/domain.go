package types

import "time"

// PlanTier represents the subscription tier of an account.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanBasic    PlanTier = "basic"
	PlanPro      PlanTier = "pro"
	PlanBusiness PlanTier = "business"
)

// AllPlanTiers lists every tier in ascending order of price.
var AllPlanTiers = []PlanTier{PlanFree, PlanBasic, PlanPro, PlanBusiness}

// Valid reports whether t is one of the canonical tiers.
func (t PlanTier) Valid() bool {
	switch t {
	case PlanFree, PlanBasic, PlanPro, PlanBusiness:
		return true
	}
	return false
}

// ActionKind identifies a billable operation. The identifiers are a stable
// contract shared by the cost table, the feature gate and clients.
type ActionKind string

const (
	ActionGenerateSimple  ActionKind = "generate_simple"
	ActionLegalReview     ActionKind = "legal_review"
	ActionPDFAnalysis     ActionKind = "pdf_analysis"
	ActionLongPetition    ActionKind = "long_petition"
	ActionGenerateContent ActionKind = "generate_content"
)

// AllActionKinds lists every billable action.
var AllActionKinds = []ActionKind{
	ActionGenerateSimple,
	ActionLegalReview,
	ActionPDFAnalysis,
	ActionLongPetition,
	ActionGenerateContent,
}

// FeatureFlag names a capability that a plan may or may not include.
type FeatureFlag string

const (
	FeatureGenerateSimple     FeatureFlag = "generate_simple"
	FeatureLegalReview        FeatureFlag = "legal_review"
	FeaturePDFAnalysis        FeatureFlag = "pdf_analysis"
	FeatureExportWord         FeatureFlag = "export_word"
	FeatureExportPDF          FeatureFlag = "export_pdf"
	FeatureTemplates          FeatureFlag = "templates"
	FeatureMultiUser          FeatureFlag = "multi_user"
	FeatureCustomLogo         FeatureFlag = "custom_logo"
	FeatureClientOrganization FeatureFlag = "client_organization"
	FeaturePriorityGeneration FeatureFlag = "priority_generation"

	// FeatureContentModule is the one-time add-on unlocked per account,
	// independent of plan. No plan grants it.
	FeatureContentModule FeatureFlag = "content_module"
)

// EntryType is the action_type column of a ledger entry: either an
// ActionKind for debits or one of the synthetic kinds below.
type EntryType string

const (
	EntryPurchase   EntryType = "purchase"
	EntryPlanChange EntryType = "plan_change"
	EntryReset      EntryType = "reset"
	EntrySignup     EntryType = "signup"
)

// EntryTypeForAction returns the ledger entry type recorded for a debit.
func EntryTypeForAction(kind ActionKind) EntryType {
	return EntryType(kind)
}

// Account is the credit-bearing identity of one registered user.
// MonthlyAllowanceRemaining and ExtraCredits are never negative.
type Account struct {
	ID                        string    `json:"id"`
	Plan                      PlanTier  `json:"plan"`
	MonthlyAllowanceRemaining int       `json:"monthly_allowance_remaining"`
	ExtraCredits              int       `json:"extra_credits"`
	CreditsResetAt            time.Time `json:"credits_reset_at"`
	HasContentModule          bool      `json:"has_content_module"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// TotalBalance is the sole quantity checked against an action's cost.
func (a *Account) TotalBalance() int {
	return a.MonthlyAllowanceRemaining + a.ExtraCredits
}

// LedgerEntry is an immutable audit record of a balance-affecting event.
type LedgerEntry struct {
	ID           int64     `json:"id"`
	AccountID    string    `json:"account_id"`
	ActionType   EntryType `json:"action_type"`
	CreditsDelta int       `json:"credits_delta"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// BalanceLevel classifies a total balance for client warnings.
type BalanceLevel string

const (
	BalanceOK       BalanceLevel = "ok"
	BalanceLow      BalanceLevel = "low"
	BalanceCritical BalanceLevel = "critical"
)

// LowBalanceThreshold is the total balance at or below which an account is
// considered low on credits.
const LowBalanceThreshold = 5

// LevelForBalance classifies a total balance.
func LevelForBalance(total int) BalanceLevel {
	switch {
	case total <= 0:
		return BalanceCritical
	case total <= LowBalanceThreshold:
		return BalanceLow
	default:
		return BalanceOK
	}
}

// APIKey is a hashed credential bound to one account.
type APIKey struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}
