package types

// CheckoutKind is carried in Stripe session metadata so the webhook knows
// which ledger operation a completed payment maps to.
type CheckoutKind string

const (
	CheckoutCreditPack    CheckoutKind = "credit_pack"
	CheckoutPlan          CheckoutKind = "plan"
	CheckoutContentModule CheckoutKind = "content_module"
)

// Valid reports whether k is a known checkout kind.
func (k CheckoutKind) Valid() bool {
	switch k {
	case CheckoutCreditPack, CheckoutPlan, CheckoutContentModule:
		return true
	}
	return false
}

// RedirectURLs is where Stripe sends the user after checkout.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// CheckoutItem is one priced line of a checkout session. Recurring items
// create a monthly subscription; everything else is a one-off payment.
type CheckoutItem struct {
	Name       string
	AmountCent int
	Currency   string
	Recurring  bool
}

// CheckoutRequest describes a purchase to be paid through Stripe Checkout.
// Metadata is echoed back verbatim on checkout.session.completed.
type CheckoutRequest struct {
	AccountID string
	Kind      CheckoutKind
	Item      CheckoutItem
	Metadata  map[string]string
	URLs      RedirectURLs
}

// CheckoutSession is the hosted page the client redirects to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Stripe session metadata keys.
const (
	MetaAccountID = "account_id"
	MetaKind      = "kind"
	MetaPackID    = "pack_id"
	MetaCredits   = "credits"
	MetaPlan      = "plan"
)
