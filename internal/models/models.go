// Package models holds the request/response payloads and the error taxonomy
// shared between the storage, service and HTTP layers.
package models

import (
	"errors"
	"time"
)

// ShortenRequest is the body of POST /urls/new.
// Token may be left empty when it is passed in the Authorization header instead.
type ShortenRequest struct {
	LongURL string `json:"long_url" validate:"required,url,max=500"`
	Token   string `json:"token"`
}

type ShortenResponse struct {
	ShortURL string `json:"short_url"`
}

type LoggedInResponse struct {
	APIToken string `json:"api_token"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ShortURL is a stored short code together with its bookkeeping columns.
type ShortURL struct {
	Short     string
	Long      string
	Clicks    int64
	CreatedAt time.Time
	CreatedBy string
}

type UserURL struct {
	ShortURL    string    `json:"short_url"`
	OriginalURL string    `json:"original_url"`
	Clicks      int64     `json:"clicks"`
	CreatedAt   time.Time `json:"created_at"`
}

type UserUrls []UserURL

// URLFormatter turns a bare short code into the public short URL.
type URLFormatter func(short string) string

type InternalStatsResponse struct {
	URLs  int64 `json:"urls"`
	Users int64 `json:"users"`
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

// Column widths of the users/urls tables.
const (
	MaxExternalIDLength = 20
	MaxTokenLength      = 13
	MaxShortLength      = 10
	MaxLongURLLength    = 500
)

var (
	// ErrNotConnected is returned by the SQL gateway for any operation attempted
	// outside of a Connect/Disconnect window.
	ErrNotConnected = errors.New("database is not connected")

	// ErrNotAuthorized means the presented API token does not belong to any user.
	ErrNotAuthorized = errors.New("invalid token")

	// ErrNotFound means the requested short code was never registered.
	ErrNotFound = errors.New("short URL not found")

	// ErrConflict is a primary/unique key collision on insert.
	ErrConflict = errors.New("identifier already exists")

	ErrInvalidURL        = errors.New("there is no valid URL in the request")
	ErrInvalidExternalID = errors.New("external identity is empty or too long")
)
