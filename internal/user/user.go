// Package user defines the user model: an external identity bound to the
// API token that authorizes URL registration.
package user

// User represents a provisioned user.
type User struct {
	// UID is the identifier issued by the OAuth provider.
	UID string

	// Token is the opaque API token minted on first login. It never changes.
	Token string
}
