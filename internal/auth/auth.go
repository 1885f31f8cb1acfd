// Package auth provides the API token middleware and the signed OAuth state
// used by the login flow. API tokens travel as "Authorization: Bearer <token>";
// the OAuth state is a short-lived HS256 JWT.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tokenshrt/internal/logger"
	"github.com/patric-chuzhbe/tokenshrt/internal/models"
)

type authorizer interface {
	IsAuthorized(ctx context.Context, token string) (bool, error)
}

// Auth authenticates API tokens and issues OAuth states.
type Auth struct {
	checker authorizer

	// stateSigningSecretKey signs the OAuth state JWTs.
	stateSigningSecretKey []byte

	stateTTL time.Duration
}

// StateClaims is the payload of the OAuth state. The random ID makes every
// state unique, the expiry bounds the login round trip.
type StateClaims struct {
	jwt.RegisteredClaims
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// TokenKey is the context key of the authenticated API token.
const TokenKey ContextKey = "apiToken"

const stateIssuer = "tokenshrt"

var ErrInvalidState = errors.New("invalid oauth state")

func New(
	checker authorizer,
	stateSigningSecretKey []byte,
	stateTTL time.Duration,
) *Auth {
	return &Auth{
		checker:               checker,
		stateSigningSecretKey: stateSigningSecretKey,
		stateTTL:              stateTTL,
	}
}

// AuthenticateUser rejects requests without a valid bearer token with 401 and
// stores the token in the request context otherwise.
func (a *Auth) AuthenticateUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		token := TokenFromRequest(request)

		ok, err := a.checker.IsAuthorized(request.Context(), token)
		if err != nil {
			logger.Log.Errorw("Error calling the `a.checker.IsAuthorized()`", zap.Error(err))
			writeDetail(response, http.StatusInternalServerError, "internal server error")
			return
		}
		if !ok {
			writeDetail(response, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(request.Context(), TokenKey, token)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// TokenFromRequest returns the bearer token of the Authorization header, or "".
func TokenFromRequest(request *http.Request) string {
	header := request.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}

// TokenFromContext returns the token stored by AuthenticateUser.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok && token != ""
}

// IssueState returns a fresh signed OAuth state.
func (a *Auth) IssueState() (string, error) {
	now := time.Now()
	claims := StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.stateTTL)),
		},
	}

	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.stateSigningSecretKey)
	if err != nil {
		return "", fmt.Errorf("in internal/auth/auth.go/IssueState(): error while `SignedString()` calling: %w", err)
	}

	return state, nil
}

// VerifyState checks the signature, issuer and expiry of a state returned by
// the identity provider.
func (a *Auth) VerifyState(state string) error {
	claims := &StateClaims{}
	token, err := jwt.ParseWithClaims(
		state,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.stateSigningSecretKey, nil
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !token.Valid || !claims.VerifyIssuer(stateIssuer, true) || claims.ID == "" {
		return ErrInvalidState
	}

	return nil
}

func writeDetail(response http.ResponseWriter, status int, detail string) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(models.ErrorResponse{Detail: detail}); err != nil {
		logger.Log.Debugw("Error calling the `json.NewEncoder().Encode()`", zap.Error(err))
	}
}
