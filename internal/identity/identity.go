// Package identity talks to the OAuth identity provider: it builds the
// authorize URL, exchanges the authorization code and fetches the external
// user ID.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

const (
	DiscordAuthURL    = "https://discord.com/api/oauth2/authorize"
	DiscordTokenURL   = "https://discord.com/api/oauth2/token"
	DiscordAPIBaseURL = "https://discord.com/api"
)

var ErrNoIdentity = errors.New("identity provider returned no user id")

// Provider is what the login handlers need from an identity provider.
type Provider interface {
	AuthCodeURL(state string) string
	ExternalID(ctx context.Context, code string) (string, error)
}

type Discord struct {
	oauth      *oauth2.Config
	client     *resty.Client
	apiBaseURL string
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Option func(*Discord)

// WithEndpoints points the client at another authorize/token/API triple.
func WithEndpoints(authURL, tokenURL, apiBaseURL string) Option {
	return func(d *Discord) {
		d.oauth.Endpoint = oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
		d.apiBaseURL = strings.TrimRight(apiBaseURL, "/")
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Discord) {
		d.client.SetTimeout(timeout)
	}
}

func NewDiscord(
	clientID,
	clientSecret,
	redirectURL string,
	options ...Option,
) *Discord {
	d := &Discord{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   DiscordAuthURL,
				TokenURL:  DiscordTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:     resty.New().SetTimeout(10 * time.Second),
		apiBaseURL: DiscordAPIBaseURL,
	}
	for _, option := range options {
		option(d)
	}

	return d
}

// AuthCodeURL is where the user is sent to log in.
func (d *Discord) AuthCodeURL(state string) string {
	return d.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// ExternalID exchanges code for an access token and returns the provider's
// ID of the user who granted it.
func (d *Discord) ExternalID(ctx context.Context, code string) (string, error) {
	token, err := d.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("in internal/identity/identity.go/ExternalID(): error while `d.oauth.Exchange()` calling: %w", err)
	}

	var me discordUser
	resp, err := d.client.R().
		SetContext(ctx).
		SetAuthToken(token.AccessToken).
		SetResult(&me).
		Get(d.apiBaseURL + "/users/@me")
	if err != nil {
		return "", fmt.Errorf("in internal/identity/identity.go/ExternalID(): error while `d.client.R().Get()` calling: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("in internal/identity/identity.go/ExternalID(): unexpected status %d from the identity endpoint", resp.StatusCode())
	}
	if me.ID == "" {
		return "", ErrNoIdentity
	}

	return me.ID, nil
}
