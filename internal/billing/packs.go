package billing

import "lexledger/internal/types"

// CreditPack is a one-off purchase of extra credits.
type CreditPack struct {
	ID         string `json:"id"`
	Credits    int    `json:"credits"`
	PriceCents int    `json:"price_cents"`
	Currency   string `json:"currency"`
	Popular    bool   `json:"popular,omitempty"`
}

// ContentModulePriceCents is the one-time price of the content module add-on.
const ContentModulePriceCents = 4700

var creditPacks = []CreditPack{
	{ID: "pack-200", Credits: 200, PriceCents: 2900, Currency: "brl"},
	{ID: "pack-500", Credits: 500, PriceCents: 5900, Currency: "brl", Popular: true},
	{ID: "pack-1000", Credits: 1000, PriceCents: 9900, Currency: "brl"},
}

// CreditPacks returns the purchasable packs.
func CreditPacks() []CreditPack {
	out := make([]CreditPack, len(creditPacks))
	copy(out, creditPacks)
	return out
}

// LookupPack finds a pack by id.
func LookupPack(id string) (CreditPack, error) {
	for _, p := range creditPacks {
		if p.ID == id {
			return p, nil
		}
	}
	return CreditPack{}, types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidPack,
		"unknown credit pack",
		nil,
		map[string]any{"pack_id": id},
	)
}
