// Package service implements the shortener use cases: user provisioning, the
// API token authorization check, URL registration and redirect resolution.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/patric-chuzhbe/tokenshrt/internal/logger"
	"github.com/patric-chuzhbe/tokenshrt/internal/metrics"
	"github.com/patric-chuzhbe/tokenshrt/internal/models"
	"github.com/patric-chuzhbe/tokenshrt/internal/shortid"
	"github.com/patric-chuzhbe/tokenshrt/internal/user"
)

type userKeeper interface {
	FindUserByToken(ctx context.Context, token string) (*user.User, bool, error)
	UpsertUser(ctx context.Context, uid, token string) (string, error)
}

type urlsMapper interface {
	InsertShortURL(
		ctx context.Context,
		short,
		long,
		token string,
		createdAt time.Time,
	) error

	FindFullByShort(ctx context.Context, short string) (string, bool, error)
}

type userUrlsKeeper interface {
	GetUserUrls(
		ctx context.Context,
		uid string,
		shortURLFormatter models.URLFormatter,
	) (models.UserUrls, error)

	GetNumberOfShortenedURLs(ctx context.Context) (int64, error)

	GetNumberOfUsers(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storage interface {
	userKeeper
	urlsMapper
	userUrlsKeeper
	pinger
}

type clickCounter interface {
	Count(short string)
}

// DefaultMaxGenerateAttempts bounds the regenerate-on-conflict loops.
const DefaultMaxGenerateAttempts = 10

var (
	ErrNotAuthorized     = models.ErrNotAuthorized
	ErrNotFound          = models.ErrNotFound
	ErrConflict          = models.ErrConflict
	ErrInvalidURL        = models.ErrInvalidURL
	ErrInvalidExternalID = models.ErrInvalidExternalID
)

type Service struct {
	db                  storage
	ids                 shortid.Generator
	clicks              clickCounter
	shortURLBase        string
	now                 func() time.Time
	maxGenerateAttempts int
}

type Option func(*Service)

// WithClickCounter makes Resolve report every successful resolution.
func WithClickCounter(clicks clickCounter) Option {
	return func(s *Service) {
		s.clicks = clicks
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithMaxGenerateAttempts(attempts int) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.maxGenerateAttempts = attempts
		}
	}
}

func New(
	db storage,
	ids shortid.Generator,
	shortURLBase string,
	options ...Option,
) *Service {
	s := &Service{
		db:                  db,
		ids:                 ids,
		shortURLBase:        strings.TrimRight(shortURLBase, "/"),
		now:                 time.Now,
		maxGenerateAttempts: DefaultMaxGenerateAttempts,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// IsAuthorized reports whether token belongs to a provisioned user.
// Tokens never expire and cannot be revoked.
func (s *Service) IsAuthorized(ctx context.Context, token string) (bool, error) {
	if !wellFormedID(token, models.MaxTokenLength) {
		return false, nil
	}

	_, found, err := s.db.FindUserByToken(ctx, token)
	if err != nil {
		return false, err
	}
	return found, nil
}

// Provision returns the API token of externalID, minting and storing one on
// first login. Concurrent first logins of the same identity all receive the
// token that won the insert.
func (s *Service) Provision(ctx context.Context, externalID string) (string, error) {
	if externalID == "" || len(externalID) > models.MaxExternalIDLength {
		return "", ErrInvalidExternalID
	}

	for attempt := 1; attempt <= s.maxGenerateAttempts; attempt++ {
		token, err := s.ids.Generate(shortid.AccessToken)
		if err != nil {
			return "", err
		}

		stored, err := s.db.UpsertUser(ctx, externalID, token)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return "", err
		}

		metrics.IdentifierCollisions.WithLabelValues(shortid.AccessToken.String()).Inc()
		logger.Log.Debugw("access token collision, regenerating", "attempt", attempt)
	}

	return "", fmt.Errorf("%w: no unique access token after %d attempts", ErrConflict, s.maxGenerateAttempts)
}

// Register stores longURL under a freshly generated short code owned by the
// holder of token and returns the code. The owner lookup and the insert are a
// single store operation, so a token unknown at insert time yields
// ErrNotAuthorized and writes nothing.
func (s *Service) Register(ctx context.Context, token, longURL string) (string, error) {
	if err := ValidateURL(longURL); err != nil {
		return "", err
	}
	if !wellFormedID(token, models.MaxTokenLength) {
		return "", ErrNotAuthorized
	}

	for attempt := 1; attempt <= s.maxGenerateAttempts; attempt++ {
		short, err := s.ids.Generate(shortid.ShortCode)
		if err != nil {
			return "", err
		}

		err = s.db.InsertShortURL(ctx, short, longURL, token, s.now().UTC())
		if err == nil {
			metrics.ShortURLsRegistered.Inc()
			return short, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return "", err
		}

		metrics.IdentifierCollisions.WithLabelValues(shortid.ShortCode.String()).Inc()
		logger.Log.Debugw("short code collision, regenerating", "short", short, "attempt", attempt)
	}

	return "", fmt.Errorf("%w: no unique short code after %d attempts", ErrConflict, s.maxGenerateAttempts)
}

// Resolve returns the long URL registered under short, or ErrNotFound.
func (s *Service) Resolve(ctx context.Context, short string) (string, error) {
	if !wellFormedID(short, models.MaxShortLength) {
		metrics.Redirects.WithLabelValues("not_found").Inc()
		return "", ErrNotFound
	}

	long, found, err := s.db.FindFullByShort(ctx, short)
	if err != nil {
		return "", err
	}
	if !found {
		metrics.Redirects.WithLabelValues("not_found").Inc()
		return "", ErrNotFound
	}

	metrics.Redirects.WithLabelValues("found").Inc()
	if s.clicks != nil {
		s.clicks.Count(short)
	}

	return long, nil
}

// GetUserURLs lists the URLs registered with token.
func (s *Service) GetUserURLs(ctx context.Context, token string) (models.UserUrls, error) {
	if !wellFormedID(token, models.MaxTokenLength) {
		return nil, ErrNotAuthorized
	}

	usr, found, err := s.db.FindUserByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotAuthorized
	}

	return s.db.GetUserUrls(ctx, usr.UID, s.GetShortURL)
}

// GetInternalStats returns the number of short URLs and users.
func (s *Service) GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error) {
	urls, err := s.db.GetNumberOfShortenedURLs(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	users, err := s.db.GetNumberOfUsers(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	return models.InternalStatsResponse{
		URLs:  urls,
		Users: users,
	}, nil
}

// Ping checks the health of the storage layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetShortURL builds the public URL of a short code.
func (s *Service) GetShortURL(short string) string {
	return s.shortURLBase + "/" + short
}

// wellFormedID rejects values no generator can issue before they reach the
// store. CHAR(n) comparison in SQL ignores trailing blanks, so a padded or
// oversized value must never be looked up.
func wellFormedID(id string, maxLength int) bool {
	return id != "" && len(id) <= maxLength && strings.TrimSpace(id) == id
}

// ValidateURL accepts absolute http(s) URLs that fit the long column.
func ValidateURL(raw string) error {
	if len(raw) == 0 || len(raw) > models.MaxLongURLLength {
		return ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil ||
		(u.Scheme != "http" && u.Scheme != "https") ||
		u.Host == "" {
		return ErrInvalidURL
	}

	return nil
}
