// Package credential owns the short-lived access token for the TTS service
// and knows how to mint a new one through the two-hop identity exchange.
package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/voxkit/tts-bot/internal/core"
)

// Validity reasons surfaced by IsValid.
const (
	ReasonOK           = "ok"
	ReasonExpiringSoon = "expiring-soon"
	ReasonExpired      = "expired"
	ReasonUndecodable  = "undecodable"
	ReasonNoExpiry     = "no-expiry-claim"
	ReasonEmpty        = "empty"
)

// Failure reasons for the two-hop exchange.
const (
	reasonIdentityExchange = "identity-exchange-failed"
	reasonServiceExchange  = "service-exchange-failed"
)

const (
	expiringSoonWindow = time.Hour
	exchangeTimeout    = 30 * time.Second
	jwtSegmentCount    = 3

	headerContentType     = "Content-Type"
	headerAuthorization   = "Authorization"
	headerBearerType      = "Grpc-Metadata-X-Authorization-Bearer-Type"
	bearerTypeFirebase    = "firebase"
	contentTypeForm       = "application/x-www-form-urlencoded"
	contentTypePlainUTF8  = "text/plain;charset=UTF-8"
	bearerPrefix          = "Bearer "
	tokenGenerateEndpoint = "%s/ai/inworld/portal/v1alpha/workspaces/%s/token:generate"
)

// Static errors.
var (
	ErrMalformedToken  = errors.New("token is not a structurally valid JWT")
	ErrNoRefreshSecret = errors.New("no refresh secret configured")
)

// Credential is the mutable cell holding the current access token. Exactly
// one live Credential exists per process, replaced in place by refresh or
// manual override.
type Credential struct {
	AccessToken   string
	RefreshSecret string
	ExpiresAt     time.Time
}

// Config holds the endpoints and secrets for the exchange.
type Config struct {
	// TokenEndpoint is the identity provider's token URL (hop 1).
	TokenEndpoint string
	// APIKey keys hop-1 requests.
	APIKey string
	// PortalBaseURL hosts the per-workspace token generation (hop 2).
	PortalBaseURL string
	// WorkspaceID scopes the minted service token.
	WorkspaceID string
}

// Manager guards the credential cell. The read-then-send window between
// AuthorizationHeader and the actual request racing a concurrent Refresh is
// accepted: the in-flight call may use a soon-to-be-stale token, nothing is
// corrupted.
type Manager struct {
	mu         sync.Mutex
	credential Credential
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
	now        func() time.Time
}

// NewManager creates a manager seeded with the configured refresh secret and
// an optional initial access token.
func NewManager(cfg Config, refreshSecret, initialToken string, log *logger.Logger) *Manager {
	return &Manager{
		cfg: cfg,
		credential: Credential{
			AccessToken:   initialToken,
			RefreshSecret: refreshSecret,
			ExpiresAt:     time.Time{},
		},
		httpClient: &http.Client{Timeout: exchangeTimeout},
		log:        log,
		now:        time.Now,
	}
}

// Validate decodes the token's embedded claims locally and compares its
// expiry to now. It never contacts the network and never panics on garbage
// input.
func Validate(token string, now time.Time) (bool, string) {
	if token == "" {
		return false, ReasonEmpty
	}

	claims, err := decodeClaims(token)
	if err != nil {
		return false, ReasonUndecodable
	}

	if claims.Expiry == 0 {
		// The original token endpoint occasionally mints tokens without an
		// exp claim; treat them as usable.
		return true, ReasonNoExpiry
	}

	expiresAt := time.Unix(claims.Expiry, 0)

	switch {
	case expiresAt.Before(now):
		return false, ReasonExpired
	case expiresAt.Sub(now) < expiringSoonWindow:
		return true, ReasonExpiringSoon
	default:
		return true, ReasonOK
	}
}

// IsValid assesses the currently held access token without a network call.
func (m *Manager) IsValid(now time.Time) (bool, string) {
	m.mu.Lock()
	token := m.credential.AccessToken
	m.mu.Unlock()

	return Validate(token, now)
}

// SetManual replaces the credential cell with an operator-supplied token
// after a superficial shape check. Subsequent authenticated calls use the
// new value immediately.
func (m *Manager) SetManual(token string) error {
	if !isWellFormed(token) {
		return ErrMalformedToken
	}

	expiresAt := time.Time{}
	if claims, err := decodeClaims(token); err == nil && claims.Expiry != 0 {
		expiresAt = time.Unix(claims.Expiry, 0)
	}

	m.mu.Lock()
	m.credential.AccessToken = token
	m.credential.ExpiresAt = expiresAt
	m.mu.Unlock()

	m.log.Info("Access token replaced manually (expires %s)", expiresAt)

	return nil
}

// AuthorizationHeader builds the Authorization header from whatever token is
// currently held. Validity checking is the caller's responsibility at
// decision points, not enforced per call.
func (m *Manager) AuthorizationHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return bearerPrefix + m.credential.AccessToken
}

// EnsureFresh refreshes the credential when the held token is unusable
// (expired, absent or undecodable). Valid tokens, including expiring-soon
// ones, are left in place.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	valid, reason := m.IsValid(m.now())
	if valid {
		return nil
	}

	m.log.Warn("Access token unusable (%s), refreshing before use", reason)

	return m.Refresh(ctx)
}

// Snapshot returns a copy of the current credential cell.
func (m *Manager) Snapshot() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.credential
}

// Refresh performs the two-hop exchange: the long-lived refresh secret is
// traded for a short-lived identity assertion, which is then traded, scoped
// to the workspace, for the service's access token. A hop-1 failure aborts
// without attempting hop 2.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	refreshSecret := m.credential.RefreshSecret
	m.mu.Unlock()

	if refreshSecret == "" {
		return core.NewFailure(core.FailureAuth, reasonIdentityExchange, ErrNoRefreshSecret)
	}

	assertion, rotatedSecret, err := m.exchangeIdentity(ctx, refreshSecret)
	if err != nil {
		return core.NewFailure(core.FailureAuth, reasonIdentityExchange, err)
	}

	accessToken, expiresAt, sessionID, err := m.exchangeService(ctx, assertion)
	if err != nil {
		return core.NewFailure(core.FailureAuth, reasonServiceExchange, err)
	}

	m.mu.Lock()
	m.credential.AccessToken = accessToken
	m.credential.ExpiresAt = expiresAt
	if rotatedSecret != "" {
		m.credential.RefreshSecret = rotatedSecret
	}
	m.mu.Unlock()

	m.log.Info("Access token refreshed (session %s, expires %s)", sessionID, expiresAt)

	return nil
}

// identityResponse is the hop-1 reply: an identity assertion plus a rotated
// refresh secret.
type identityResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
}

// serviceResponse is the hop-2 reply: the service access token with its
// expiry and session identifier.
type serviceResponse struct {
	Token          string    `json:"token"`
	ExpirationTime time.Time `json:"expirationTime"`
	SessionID      string    `json:"sessionId"`
}

func (m *Manager) exchangeIdentity(ctx context.Context, refreshSecret string) (string, string, error) {
	endpoint := m.cfg.TokenEndpoint + "?key=" + url.QueryEscape(m.cfg.APIKey)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshSecret)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to create identity exchange request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeForm)

	var identity identityResponse

	err = m.doJSON(req, &identity)
	if err != nil {
		return "", "", err
	}

	return identity.IDToken, identity.RefreshToken, nil
}

func (m *Manager) exchangeService(ctx context.Context, assertion string) (string, time.Time, string, error) {
	endpoint := fmt.Sprintf(tokenGenerateEndpoint, m.cfg.PortalBaseURL, m.cfg.WorkspaceID)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		strings.NewReader("{}"),
	)
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("failed to create service exchange request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypePlainUTF8)
	req.Header.Set(headerAuthorization, bearerPrefix+assertion)
	req.Header.Set(headerBearerType, bearerTypeFirebase)

	var service serviceResponse

	err = m.doJSON(req, &service)
	if err != nil {
		return "", time.Time{}, "", err
	}

	return service.Token, service.ExpirationTime, service.SessionID, nil
}

// doJSON executes one exchange hop and decodes its JSON body. Each hop is a
// single network call; retries are the caller's decision.
func (m *Manager) doJSON(req *http.Request, target any) error {
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange request failed: %w", err)
	}
	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			m.log.Warn("Failed to close exchange response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("exchange returned status %s: %s", resp.Status, string(body))
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode exchange response: %w", err)
	}

	return nil
}

// tokenClaims is the subset of JWT payload claims the manager inspects.
type tokenClaims struct {
	Expiry int64 `json:"exp"`
}

// decodeClaims extracts the payload claims from a compact JWT without
// verifying its signature. Local decoding avoids a network round trip on
// every validity check.
func decodeClaims(token string) (*tokenClaims, error) {
	segments := strings.Split(token, ".")
	if len(segments) != jwtSegmentCount {
		return nil, ErrMalformedToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode token payload: %w", err)
	}

	var claims tokenClaims

	err = json.Unmarshal(payload, &claims)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}

	return &claims, nil
}

// isWellFormed reports whether the token superficially looks like a signed
// compact JWT.
func isWellFormed(token string) bool {
	segments := strings.Split(token, ".")
	if len(segments) != jwtSegmentCount {
		return false
	}

	for _, segment := range segments[:2] {
		if _, err := base64.RawURLEncoding.DecodeString(segment); err != nil {
			return false
		}
	}

	return true
}
