// Package assistant performs billable AI actions on behalf of an account:
// it asks the usage gate, calls the model and debits the ledger once the
// output exists.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lexledger/internal/external"
	"lexledger/internal/gate"
	"lexledger/internal/ledger"
	"lexledger/internal/types"
)

// debitTimeout bounds the post-delivery debit, which runs detached from the
// request context.
const debitTimeout = 10 * time.Second

// Authorizer is the usage gate.
type Authorizer interface {
	Authorize(ctx context.Context, accountID string, kind types.ActionKind) (gate.Decision, error)
}

// Debiter is the ledger's debit operation.
type Debiter interface {
	Debit(ctx context.Context, accountID string, kind types.ActionKind, description string) (ledger.DebitResult, error)
}

// FailureRecorder counts debits that failed after the output was produced.
type FailureRecorder interface {
	RecordDebitFailedAfterDelivery(ctx context.Context, kind types.ActionKind)
}

// ActionOutput is what the caller receives. Debited is false only when the
// output was produced but the ledger write failed; the output is returned
// anyway and the failure is logged for reconciliation.
type ActionOutput struct {
	Action           types.ActionKind  `json:"action"`
	Content          string            `json:"content"`
	Structured       *StructuredResult `json:"structured,omitempty"`
	CreditsCharged   int               `json:"credits_charged"`
	RemainingBalance int               `json:"remaining_balance"`
	Debited          bool              `json:"debited"`
	Model            string            `json:"model,omitempty"`
}

// Service wires the gate, the model and the ledger together.
type Service struct {
	gate     Authorizer
	ai       external.Completer
	ledger   Debiter
	failures FailureRecorder
	logger   *slog.Logger
}

// NewService creates a Service. failures may be nil.
func NewService(g Authorizer, ai external.Completer, l Debiter, failures FailureRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gate: g, ai: ai, ledger: l, failures: failures, logger: logger}
}

// Perform runs one billable action for accountID.
//
// A denied gate check or a failed model call returns an error and charges
// nothing. After a successful model call the ledger is debited exactly once.
// If that debit fails the output is still returned with Debited=false.
func (s *Service) Perform(ctx context.Context, accountID string, kind types.ActionKind, in ActionInput) (ActionOutput, error) {
	prompt, err := buildPrompt(kind, in)
	if err != nil {
		return ActionOutput{}, err
	}

	decision, err := s.gate.Authorize(ctx, accountID, kind)
	if err != nil {
		return ActionOutput{}, err
	}
	if !decision.Allowed() {
		return ActionOutput{}, decision.Err()
	}

	completion, err := s.ai.Complete(ctx, prompt)
	if err != nil {
		return ActionOutput{}, err
	}

	out := ActionOutput{
		Action:  kind,
		Content: completion.Content,
		Model:   completion.Model,
	}
	if structured(kind) {
		result := parseStructured(completion.Content)
		out.Structured = &result
	}

	// The user already has the output; a cancelled request must not skip
	// the charge.
	debitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), debitTimeout)
	defer cancel()

	res, err := s.ledger.Debit(debitCtx, accountID, kind, describe(kind, in))
	if err != nil {
		s.logger.ErrorContext(ctx, "debit failed after delivery",
			"account_id", accountID,
			"action", string(kind),
			"credits", decision.Required,
			"error", err,
		)
		if s.failures != nil {
			s.failures.RecordDebitFailedAfterDelivery(debitCtx, kind)
		}
		out.RemainingBalance = decision.Available
		return out, nil
	}

	out.Debited = true
	out.CreditsCharged = res.Cost
	out.RemainingBalance = res.RemainingBalance
	return out, nil
}

// describe renders the ledger entry description shown in the history.
func describe(kind types.ActionKind, in ActionInput) string {
	var d string
	switch kind {
	case types.ActionGenerateSimple, types.ActionLongPetition:
		d = fmt.Sprintf("%s (%s)", in.DocumentType, in.Area)
	case types.ActionPDFAnalysis:
		name := in.FileName
		if name == "" {
			name = "document"
		}
		d = fmt.Sprintf("%s: %s", in.Mode, name)
	case types.ActionLegalReview:
		d = "contract review"
		if in.Mode != "" {
			d += ": " + in.Mode
		}
	case types.ActionGenerateContent:
		d = fmt.Sprintf("%s: %s", in.Mode, in.Text)
	}
	r := []rune(d)
	if len(r) > 200 {
		d = string(r[:200])
	}
	return d
}
