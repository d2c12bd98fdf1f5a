package billing

import (
	"lexledger/internal/types"
)

// actionCosts is the credit price of every billable action.
var actionCosts = map[types.ActionKind]int{
	types.ActionGenerateSimple:  1,
	types.ActionLegalReview:     2,
	types.ActionPDFAnalysis:     3,
	types.ActionLongPetition:    5,
	types.ActionGenerateContent: 3,
}

// actionFeatures maps each action to the feature that gates it.
var actionFeatures = map[types.ActionKind]types.FeatureFlag{
	types.ActionGenerateSimple:  types.FeatureGenerateSimple,
	types.ActionLegalReview:     types.FeatureLegalReview,
	types.ActionPDFAnalysis:     types.FeaturePDFAnalysis,
	types.ActionLongPetition:    types.FeatureGenerateSimple,
	types.ActionGenerateContent: types.FeatureContentModule,
}

func init() {
	for _, kind := range types.AllActionKinds {
		if actionCosts[kind] <= 0 {
			panic("billing: action " + string(kind) + " has no positive cost")
		}
		if _, ok := actionFeatures[kind]; !ok {
			panic("billing: action " + string(kind) + " has no gating feature")
		}
	}
}

// CostOf returns the credit cost of kind. An unmapped kind is a caller
// defect and yields ErrUnknownAction.
func CostOf(kind types.ActionKind) (int, error) {
	cost, ok := actionCosts[kind]
	if !ok {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeInternalUnknownAction,
			"unknown action kind",
			nil,
			map[string]any{"action": string(kind)},
		)
	}
	return cost, nil
}

// RequiredFeature returns the feature an account needs before kind may run.
func RequiredFeature(kind types.ActionKind) (types.FeatureFlag, error) {
	flag, ok := actionFeatures[kind]
	if !ok {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeInternalUnknownAction,
			"unknown action kind",
			nil,
			map[string]any{"action": string(kind)},
		)
	}
	return flag, nil
}

// ActionPrice is the public view of one row of the cost table.
type ActionPrice struct {
	Action  types.ActionKind  `json:"action"`
	Credits int               `json:"credits"`
	Feature types.FeatureFlag `json:"feature"`
}

// CostTable lists every action with its price in a stable order.
func CostTable() []ActionPrice {
	out := make([]ActionPrice, 0, len(types.AllActionKinds))
	for _, kind := range types.AllActionKinds {
		out = append(out, ActionPrice{
			Action:  kind,
			Credits: actionCosts[kind],
			Feature: actionFeatures[kind],
		})
	}
	return out
}

// ParseActionKind validates an action identifier received from a client.
// Unlike CostOf, a bad value here is user input and maps to a 400.
func ParseActionKind(s string) (types.ActionKind, error) {
	kind := types.ActionKind(s)
	if _, ok := actionCosts[kind]; !ok {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidAction,
			"unknown action",
			nil,
			map[string]any{"action": s},
		)
	}
	return kind, nil
}
