// Package router wires the HTTP API: the OAuth login flow, URL registration,
// redirects and the auxiliary user, stats, health and metrics endpoints.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tokenshrt/internal/auth"
	"github.com/patric-chuzhbe/tokenshrt/internal/gzippedhttp"
	"github.com/patric-chuzhbe/tokenshrt/internal/identity"
	"github.com/patric-chuzhbe/tokenshrt/internal/logger"
	"github.com/patric-chuzhbe/tokenshrt/internal/metrics"
	"github.com/patric-chuzhbe/tokenshrt/internal/models"
	"github.com/patric-chuzhbe/tokenshrt/internal/tracing"
)

type shortener interface {
	IsAuthorized(ctx context.Context, token string) (bool, error)
	Register(ctx context.Context, token, longURL string) (string, error)
	Provision(ctx context.Context, externalID string) (string, error)
	Resolve(ctx context.Context, short string) (string, error)
	GetUserURLs(ctx context.Context, token string) (models.UserUrls, error)
	GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error)
	Ping(ctx context.Context) error
	GetShortURL(short string) string
}

type authenticator interface {
	AuthenticateUser(h http.Handler) http.Handler
	IssueState() (string, error)
	VerifyState(state string) error
}

type subnetGuard interface {
	TrustedOnly(h http.Handler) http.Handler
}

// Router holds the dependencies of the HTTP handlers.
type Router struct {
	service   shortener
	auth      authenticator
	provider  identity.Provider
	guard     subnetGuard
	rateLimit func(http.Handler) http.Handler
	cors      func(http.Handler) http.Handler
	validate  *validator.Validate
}

type Option func(*Router)

// WithRateLimit guards POST /urls/new with mw.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(r *Router) {
		if mw != nil {
			r.rateLimit = mw
		}
	}
}

// WithCORS lets browsers on the given origins call the API. An empty list
// leaves CORS headers off.
func WithCORS(origins []string) Option {
	return func(r *Router) {
		if len(origins) == 0 {
			return
		}
		r.cors = cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
			MaxAge:         300,
		})
	}
}

// New builds the chi mux.
func New(
	service shortener,
	authenticator authenticator,
	provider identity.Provider,
	guard subnetGuard,
	options ...Option,
) *chi.Mux {
	r := &Router{
		service:   service,
		auth:      authenticator,
		provider:  provider,
		guard:     guard,
		rateLimit: func(h http.Handler) http.Handler { return h },
		validate:  validator.New(),
	}
	for _, option := range options {
		option(r)
	}

	router := chi.NewRouter()
	if r.cors != nil {
		router.Use(r.cors)
	}
	router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		tracing.SpanNameFromRoute,
		metrics.WithMetricsHTTPMiddleware,
		logger.WithLoggingHTTPMiddleware,
		gzippedhttp.UngzipRequest,
		gzippedhttp.GzipResponse,
	)

	router.Get(`/ping`, r.getPing)
	router.With(r.guard.TrustedOnly).Handle(`/metrics`, promhttp.Handler())

	router.Get(`/discord`, r.getDiscord)
	router.Get(`/callback`, r.getCallback)

	router.With(r.rateLimit).Post(`/urls/new`, r.postUrlsNew)
	router.With(r.auth.AuthenticateUser).Get(`/api/user/urls`, r.getApiUserUrls)
	router.With(r.guard.TrustedOnly).Get(`/api/internal/stats`, r.getApiInternalStats)

	router.Get(`/{short}`, r.getRedirectToLong)

	return router
}

func (r *Router) getPing(response http.ResponseWriter, request *http.Request) {
	if err := r.service.Ping(request.Context()); err != nil {
		logger.Log.Errorw("Error calling the `r.service.Ping()`", zap.Error(err))
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	response.WriteHeader(http.StatusOK)
}

func (r *Router) getDiscord(response http.ResponseWriter, request *http.Request) {
	state, err := r.auth.IssueState()
	if err != nil {
		r.writeError(response, err)
		return
	}

	http.Redirect(response, request, r.provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (r *Router) getCallback(response http.ResponseWriter, request *http.Request) {
	code := request.URL.Query().Get("code")
	if code == "" {
		writeDetail(response, http.StatusBadRequest, "missing code")
		return
	}

	if err := r.auth.VerifyState(request.URL.Query().Get("state")); err != nil {
		logger.Log.Debugw("rejected oauth state", zap.Error(err))
		writeDetail(response, http.StatusBadRequest, "invalid state")
		return
	}

	externalID, err := r.provider.ExternalID(request.Context(), code)
	if err != nil {
		logger.Log.Errorw("Error calling the `r.provider.ExternalID()`", zap.Error(err))
		writeDetail(response, http.StatusBadGateway, "identity provider error")
		return
	}

	token, err := r.service.Provision(request.Context(), externalID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidExternalID) {
			logger.Log.Errorw("identity provider returned an unusable id", "id", externalID)
			writeDetail(response, http.StatusBadGateway, "identity provider error")
			return
		}
		r.writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, models.LoggedInResponse{APIToken: token})
}

func (r *Router) postUrlsNew(response http.ResponseWriter, request *http.Request) {
	var requestDTO models.ShortenRequest
	if err := json.NewDecoder(request.Body).Decode(&requestDTO); err != nil {
		writeDetail(response, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if err := r.validate.Struct(requestDTO); err != nil {
		writeDetail(response, http.StatusUnprocessableEntity, err.Error())
		return
	}

	token := requestDTO.Token
	if token == "" {
		token = auth.TokenFromRequest(request)
	}

	authorized, err := r.service.IsAuthorized(request.Context(), token)
	if err != nil {
		r.writeError(response, err)
		return
	}
	if !authorized {
		r.writeError(response, models.ErrNotAuthorized)
		return
	}

	short, err := r.service.Register(request.Context(), token, requestDTO.LongURL)
	if err != nil {
		r.writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, models.ShortenResponse{ShortURL: r.service.GetShortURL(short)})
}

func (r *Router) getApiUserUrls(response http.ResponseWriter, request *http.Request) {
	token, _ := auth.TokenFromContext(request.Context())

	urls, err := r.service.GetUserURLs(request.Context(), token)
	if err != nil {
		r.writeError(response, err)
		return
	}

	if len(urls) == 0 {
		response.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(response, http.StatusOK, urls)
}

func (r *Router) getApiInternalStats(response http.ResponseWriter, request *http.Request) {
	stats, err := r.service.GetInternalStats(request.Context())
	if err != nil {
		r.writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, stats)
}

func (r *Router) getRedirectToLong(response http.ResponseWriter, request *http.Request) {
	long, err := r.service.Resolve(request.Context(), chi.URLParam(request, "short"))
	if err != nil {
		r.writeError(response, err)
		return
	}

	http.Redirect(response, request, long, http.StatusTemporaryRedirect)
}

func (r *Router) writeError(response http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotAuthorized):
		writeDetail(response, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, models.ErrNotFound):
		writeDetail(response, http.StatusNotFound, "short URL not found")
	case errors.Is(err, models.ErrInvalidURL):
		writeDetail(response, http.StatusUnprocessableEntity, "invalid URL")
	default:
		logger.Log.Errorw("request failed", zap.Error(err))
		writeDetail(response, http.StatusInternalServerError, "internal server error")
	}
}

func writeDetail(response http.ResponseWriter, status int, detail string) {
	writeJSON(response, status, models.ErrorResponse{Detail: detail})
}

func writeJSON(response http.ResponseWriter, status int, body any) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(body); err != nil {
		logger.Log.Debugw("Error calling the `json.NewEncoder().Encode()`", zap.Error(err))
	}
}
