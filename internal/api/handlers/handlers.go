// Package handlers contains the HTTP handlers of the ledger API.
//
// Each handler declares the narrow service interfaces it needs and receives
// implementations through its constructor; cmd/api wires the concrete
// ledger, gate, assistant and Stripe clients.
package handlers

import (
	"net/http"
	"strconv"

	"lexledger/internal/core"
	"lexledger/internal/types"
)

// callerAccountID returns the account bound to the authenticated user
// actor. Routes that call it are mounted behind RequireAccount.
func callerAccountID(r *http.Request) (string, error) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.AccountID == "" {
		return "", types.NewAppError(types.ErrCodePermissionAccountOnly, "this operation requires an account API key", nil)
	}
	return actor.AccountID, nil
}

// decodeAndValidate reads the JSON body into dst and runs struct validation.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *core.Validator, dst any) error {
	if err := core.DecodeJSON(w, r, dst); err != nil {
		return err
	}
	return v.ValidateStruct(dst)
}

func queryInt(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidInput,
			"invalid value for query parameter "+key,
			err,
			map[string]any{"fields": map[string]any{key: "non-negative integer"}},
		)
	}
	return n, nil
}
