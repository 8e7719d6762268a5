package anubis

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"

	"github.com/riskibarqy/arena-matchmaking/internal/domain/user"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/cache"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/logging"
	"github.com/riskibarqy/arena-matchmaking/internal/platform/resilience"
	"github.com/riskibarqy/arena-matchmaking/internal/usecase"
)

var errAnubisTransient = errors.New("anubis transient failure")

type Config struct {
	BaseURL         string
	IntrospectPath  string
	AdminKey        string
	CacheTTL        time.Duration
	CacheMaxEntries int
	Circuit         resilience.CircuitBreakerConfig
}

// Client verifies bearer tokens against the Anubis introspection endpoint.
type Client struct {
	httpClient    *http.Client
	introspectURL string
	adminKey      string
	breaker       *resilience.CircuitBreaker
	principals    *cache.Store[user.Principal]
	logger        *logging.Logger
}

func NewClient(httpClient *http.Client, cfg Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}

	var principals *cache.Store[user.Principal]
	if cfg.CacheTTL > 0 {
		principals = cache.NewStore[user.Principal](cfg.CacheTTL, cfg.CacheMaxEntries)
	}

	return &Client{
		httpClient:    httpClient,
		introspectURL: buildURL(cfg.BaseURL, cfg.IntrospectPath),
		adminKey:      strings.TrimSpace(cfg.AdminKey),
		breaker:       resilience.NewCircuitBreakerFromConfig(cfg.Circuit),
		principals:    principals,
		logger:        logger,
	}
}

// VerifyAccessToken resolves token to a principal. Successful lookups are
// cached by token hash; rejected tokens are never cached.
func (c *Client) VerifyAccessToken(ctx context.Context, token string) (user.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return user.Principal{}, errors.Wrap(usecase.ErrUnauthorized, "token is required")
	}

	if c.principals == nil {
		return c.introspectGuarded(ctx, token)
	}
	return c.principals.GetOrLoad(ctx, hashToken(token), func(ctx context.Context) (user.Principal, error) {
		return c.introspectGuarded(ctx, token)
	})
}

func (c *Client) introspectGuarded(ctx context.Context, token string) (user.Principal, error) {
	var principal user.Principal
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		principal, err = c.introspect(ctx, token)
		return err
	}, isCircuitFailure)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return user.Principal{}, errors.Mark(errors.Wrap(err, "anubis introspection"), usecase.ErrDependencyUnavailable)
		}
		return user.Principal{}, err
	}
	return principal, nil
}

func (c *Client) introspect(ctx context.Context, token string) (user.Principal, error) {
	encoded, err := sonic.Marshal(introspectRequest{Token: token})
	if err != nil {
		return user.Principal{}, errors.Wrap(err, "marshal introspect request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.introspectURL, bytes.NewReader(encoded))
	if err != nil {
		return user.Principal{}, errors.Wrap(err, "create introspect request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.adminKey != "" {
		req.Header.Set("x-admin-key", c.adminKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return user.Principal{}, dependencyErr(errors.Wrap(err, "request introspection to anubis"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return user.Principal{}, dependencyErr(errors.Wrap(err, "read introspect response"))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return user.Principal{}, errors.Wrap(usecase.ErrUnauthorized, "introspection denied")
	case resp.StatusCode == http.StatusForbidden:
		// A 403 means our admin key was refused, not the caller's token.
		c.logger.WarnContext(ctx, "anubis rejected admin key", "status_code", resp.StatusCode)
		return user.Principal{}, errors.Mark(errors.New("anubis rejected admin key"), usecase.ErrDependencyUnavailable)
	case resp.StatusCode >= http.StatusInternalServerError:
		c.logger.WarnContext(ctx, "anubis introspection failed", "status_code", resp.StatusCode)
		return user.Principal{}, dependencyErr(errors.Newf("anubis introspection failed with status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return user.Principal{}, errors.Mark(
			errors.Newf("anubis introspection unexpected status %d", resp.StatusCode),
			usecase.ErrDependencyUnavailable,
		)
	}

	var decoded introspectResponse
	if err := sonic.Unmarshal(body, &decoded); err != nil {
		return user.Principal{}, errors.Mark(errors.Wrap(err, "unmarshal introspect response"), usecase.ErrDependencyUnavailable)
	}
	if !decoded.Active {
		return user.Principal{}, errors.Wrap(usecase.ErrUnauthorized, "inactive token")
	}
	if strings.TrimSpace(decoded.UserID) == "" {
		return user.Principal{}, errors.Mark(errors.New("invalid introspect response: user_id is empty"), usecase.ErrDependencyUnavailable)
	}

	return user.Principal{
		UserID: decoded.UserID,
		Email:  decoded.Email,
		Roles:  decoded.Roles,
	}, nil
}

type introspectRequest struct {
	Token string `json:"token"`
}

type introspectResponse struct {
	Active bool     `json:"active"`
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}
