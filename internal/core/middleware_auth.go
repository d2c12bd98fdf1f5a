package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"lexledger/internal/types"
)

// authPublicPaths bypass AuthMiddleware. The Stripe webhook authenticates by
// signature inside its handler.
var authPublicPaths = map[string]bool{
	"/health":             true,
	"/v1/plans":           true,
	"/v1/webhooks/stripe": true,
}

// cronSecretHeader carries the scheduler's shared secret.
const cronSecretHeader = "X-Cron-Secret"

// AuthMiddleware resolves the caller and stores the Actor in the context.
//
// A request carrying X-Cron-Secret is resolved against the CronVerifier and
// becomes a cron actor; it never falls back to bearer auth. Otherwise the
// Bearer token goes through the Authenticator. Failures answer 401.
//
// With no Authenticator configured the middleware passes through, which
// tests rely on.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if secret := r.Header.Get(cronSecretHeader); secret != "" {
			if s.CronVerifier == nil || !s.CronVerifier.Verify(secret) {
				s.Logger.WarnContext(r.Context(), "authentication failed: bad cron secret",
					slog.String("path", r.URL.Path),
				)
				s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid cron secret")
				return
			}
			actor := types.Actor{ID: "cron", Type: types.ActorTypeCron}
			next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}
		token := extractBearerToken(header)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header, with a
// case-insensitive scheme, or "".
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// handleAuthError maps a resolution failure to a 401. Storage failures are
// logged but still answer 401 without detail.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenRevoked:
			s.Logger.WarnContext(r.Context(), "authentication failed: key revoked",
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenRevoked, "API key has been revoked")
			return
		case types.ErrCodeAuthTokenInvalid, types.ErrCodeAuthTokenMissing:
			s.Logger.WarnContext(r.Context(), "authentication failed: token invalid",
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}
	}

	s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

func (s *Server) writeForbidden(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusForbidden, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// RequireActor admits only the listed actor types. A missing actor is a 401;
// a present actor of another type is a 403.
func (s *Server) RequireActor(allowed ...types.ActorType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := types.GetActor(r.Context())
			if !ok {
				s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
				return
			}
			for _, t := range allowed {
				if actor.Type == t {
					next.ServeHTTP(w, r)
					return
				}
			}
			if actor.Type == types.ActorTypeUser {
				s.writeForbidden(w, r, types.ErrCodePermissionSystemOnly, "This operation is restricted to trusted callers")
				return
			}
			s.writeForbidden(w, r, types.ErrCodePermissionAccountOnly, "This operation requires an account API key")
		})
	}
}

// RequireSystem admits only the service-role caller.
func (s *Server) RequireSystem(next http.Handler) http.Handler {
	return s.RequireActor(types.ActorTypeSystem)(next)
}

// RequireAccount admits only callers bound to an account.
func (s *Server) RequireAccount(next http.Handler) http.Handler {
	return s.RequireActor(types.ActorTypeUser)(next)
}
