package spotify

import (
	"context"
	"errors"
	"net/http"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/services/notifier"
	"spotify-lyrics-api-go/stats"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Spotify accounts token endpoint
const DefaultTokenURL = "https://accounts.spotify.com/api/token"

// Refresh the token when it has less than this time remaining
const refreshThreshold = 5 * time.Minute

// TokenSource yields a bearer token for the Web API
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenCache memoizes a client-credentials token until shortly before it expires
type TokenCache struct {
	conf       *clientcredentials.Config
	httpClient *http.Client

	mu     sync.RWMutex
	token  string
	expiry time.Time

	exchanges atomic.Int64
	now       func() time.Time
}

// NewTokenCache creates a cache for the given credentials. An empty tokenURL
// uses DefaultTokenURL; a nil httpClient uses http.DefaultClient.
func NewTokenCache(clientID, clientSecret, tokenURL string, httpClient *http.Client) *TokenCache {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenCache{
		conf: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns the cached token, exchanging credentials on first use or when
// the cached one is within five minutes of expiry. Concurrent callers during a
// refresh share a single exchange.
func (tc *TokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.RLock()
	if tc.validLocked() {
		defer tc.mu.RUnlock()
		return tc.token, nil
	}
	tc.mu.RUnlock()

	return tc.refresh(ctx)
}

// Exchanges reports how many credential exchanges have been attempted
func (tc *TokenCache) Exchanges() int64 {
	return tc.exchanges.Load()
}

// Expiry returns the expiry of the cached token, zero if none
func (tc *TokenCache) Expiry() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.expiry
}

// Configured reports whether both credentials are present
func (tc *TokenCache) Configured() bool {
	return tc.conf.ClientID != "" && tc.conf.ClientSecret != ""
}

// validLocked must be called with at least a read lock held
func (tc *TokenCache) validLocked() bool {
	return tc.token != "" && tc.now().Add(refreshThreshold).Before(tc.expiry)
}

func (tc *TokenCache) refresh(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.validLocked() {
		return tc.token, nil
	}

	if !tc.Configured() {
		var missing []string
		if tc.conf.ClientID == "" {
			missing = append(missing, "SPOTIFY_CLIENT_ID")
		}
		if tc.conf.ClientSecret == "" {
			missing = append(missing, "SPOTIFY_CLIENT_SECRET")
		}
		return "", &ConfigError{Missing: missing}
	}

	log.Infof("%s Exchanging client credentials...", logcolors.LogToken)
	tc.exchanges.Add(1)
	stats.Get().TokenExchanges.Add(1)

	tok, err := tc.conf.Token(context.WithValue(ctx, oauth2.HTTPClient, tc.httpClient))
	if err != nil {
		authErr := &AuthError{Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			authErr.Status = re.Response.StatusCode
			authErr.Body = string(re.Body)
			notifier.PublishTokenExchangeFailed(authErr.Status)
		}
		log.Errorf("%s Token exchange failed (status %d): %s", logcolors.LogToken, authErr.Status, authErr.Body)
		return "", authErr
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		log.Warnf("%s Token response had no expiry, assuming 1h", logcolors.LogToken)
		expiry = tc.now().Add(time.Hour)
	}

	tc.token = tok.AccessToken
	tc.expiry = expiry

	log.Infof("%s Token refreshed, expires in %v", logcolors.LogToken, expiry.Sub(tc.now()).Round(time.Minute))
	return tc.token, nil
}
