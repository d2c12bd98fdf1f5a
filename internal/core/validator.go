package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"lexledger/internal/types"
)

// Validator wraps go-playground/validator with the ledger's custom tags:
//
//	action_kind  one of types.AllActionKinds
//	plan_tier    a canonical plan tier or the "basico" alias
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator that reports JSON field names.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("action_kind", func(fl validator.FieldLevel) bool {
		kind := types.ActionKind(fl.Field().String())
		for _, k := range types.AllActionKinds {
			if k == kind {
				return true
			}
		}
		return false
	})
	_ = v.RegisterValidation("plan_tier", func(fl validator.FieldLevel) bool {
		_, ok := NormalizePlanTier(fl.Field().String())
		return ok
	})
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns a validation_invalid_input AppError listing each
// failing field and rule, or nil.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	first := fieldErrs[0]
	code := types.ErrCodeValidationInvalidInput
	if first.Tag() == "required" {
		code = types.ErrCodeValidationMissingField
	}
	return types.NewAppErrorWithDetails(code, "invalid value for field "+first.Field(), nil, map[string]any{
		"fields": fields,
	})
}

// NormalizePlanTier maps client-supplied plan ids to a canonical tier. The
// Portuguese "basico" is accepted as an alias of basic; the ledger itself
// only ever sees canonical ids.
func NormalizePlanTier(raw string) (types.PlanTier, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "basico" || s == "básico" {
		return types.PlanBasic, true
	}
	tier := types.PlanTier(s)
	return tier, tier.Valid()
}
