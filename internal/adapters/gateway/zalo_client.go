package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"bewo-chat/internal/adapters/dto"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

var _ ports.ChannelSender = (*ZaloClient)(nil)

const (
	defaultZaloAPIBaseURL   = "https://openapi.zalo.me"
	defaultZaloOAuthBaseURL = "https://oauth.zaloapp.com"

	// Zalo issues 1h tokens; refresh early
	zaloTokenTTL = 50 * time.Minute
)

// Zalo OpenAPI error codes
const (
	zaloErrInvalidToken  = -216
	zaloErrTokenExpired  = -124
	zaloErrInvalidParam  = -201
	zaloErrNotFollower   = -213
	zaloErrNoInteraction = -230
	zaloErrRateLimit     = -32
)

var errZaloTokenInvalid = errors.New("zalo access token rejected")

// ZaloClientConfig holds OA credentials
type ZaloClientConfig struct {
	APIBaseURL   string
	OAuthBaseURL string
	AppID        string
	SecretKey    string
	RefreshToken string
	Timeout      time.Duration
}

// ZaloClient sends OA customer-service messages and keeps the access token fresh
type ZaloClient struct {
	api   *resty.Client
	oauth *resty.Client
	appID string

	secretKey string
	now       func() time.Time

	refreshGroup singleflight.Group

	mu           sync.Mutex
	accessToken  string
	expiresAt    time.Time
	refreshToken string // rotated on every refresh
}

func NewZaloClient(cfg ZaloClientConfig) *ZaloClient {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultZaloAPIBaseURL
	}
	if cfg.OAuthBaseURL == "" {
		cfg.OAuthBaseURL = defaultZaloOAuthBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultChannelTimeout
	}
	return &ZaloClient{
		api: resty.New().
			SetBaseURL(cfg.APIBaseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(cfg.Timeout),
		oauth: resty.New().
			SetBaseURL(cfg.OAuthBaseURL).
			SetTimeout(cfg.Timeout),
		appID:        cfg.AppID,
		secretKey:    cfg.SecretKey,
		refreshToken: cfg.RefreshToken,
		now:          time.Now,
	}
}

func (c *ZaloClient) Channel() domain.Channel {
	return domain.ChannelZalo
}

// Send posts one CS message. A rejected token is refreshed and the call
// repeated once; anything else goes back to the deliverer.
func (c *ZaloClient) Send(ctx context.Context, userID string, msg domain.OutboundMessage) error {
	err := c.sendOnce(ctx, userID, msg)
	if errors.Is(err, errZaloTokenInvalid) {
		c.invalidateToken()
		err = c.sendOnce(ctx, userID, msg)
	}
	return err
}

func (c *ZaloClient) sendOnce(ctx context.Context, userID string, msg domain.OutboundMessage) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	var result dto.ZaloAPIResponse
	resp, err := c.api.R().
		SetContext(ctx).
		SetHeader("access_token", token).
		SetBody(dto.NewZaloSendRequest(userID, msg)).
		SetResult(&result).
		SetError(&result).
		Post("/v3.0/oa/message/cs")
	if err != nil {
		slog.Error("Failed to send request to Zalo", "error", err)
		return fmt.Errorf("zalo api request failed: %w", err)
	}
	if resp.IsError() && result.Error == 0 {
		return fmt.Errorf("zalo api error %d: %s", resp.StatusCode(), resp.String())
	}

	switch result.Error {
	case 0:
		slog.Info("Zalo message sent", "user_id", userID)
		return nil
	case zaloErrInvalidToken, zaloErrTokenExpired:
		return errZaloTokenInvalid
	case zaloErrInvalidParam, zaloErrNotFollower, zaloErrNoInteraction:
		slog.Error("Zalo rejected message",
			"user_id", userID,
			"error_code", result.Error,
			"error_message", result.Message,
		)
		return fmt.Errorf("%w: zalo code %d: %s", domain.ErrDeliveryRejected, result.Error, result.Message)
	case zaloErrRateLimit:
		return ErrChannelRateLimited
	default:
		return fmt.Errorf("zalo api error (code %d): %s", result.Error, result.Message)
	}
}

// AccessToken returns the cached token, refreshing it when missing or stale.
// Concurrent callers share a single refresh.
func (c *ZaloClient) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && c.now().Before(c.expiresAt) {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.refreshGroup.Do("token", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *ZaloClient) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()

	if c.appID == "" || c.secretKey == "" || refreshToken == "" {
		return "", fmt.Errorf("%w: zalo app id, secret key and refresh token are required", domain.ErrDeliveryRejected)
	}

	var result dto.ZaloTokenResponse
	resp, err := c.oauth.R().
		SetContext(ctx).
		SetHeader("secret_key", c.secretKey).
		SetFormData(map[string]string{
			"refresh_token": refreshToken,
			"app_id":        c.appID,
			"grant_type":    "refresh_token",
		}).
		SetResult(&result).
		SetError(&result).
		Post("/v4/oa/access_token")
	if err != nil {
		return "", fmt.Errorf("zalo token refresh failed: %w", err)
	}
	if resp.IsError() || result.AccessToken == "" {
		slog.Error("Zalo token refresh rejected",
			"status_code", resp.StatusCode(),
			"error_code", result.Error,
			"error_name", result.ErrorName,
		)
		return "", fmt.Errorf("%w: zalo token refresh: %s %s", domain.ErrDeliveryRejected, result.ErrorName, result.ErrorReason)
	}

	ttl := zaloTokenTTL
	if secs, err := strconv.Atoi(result.ExpiresIn); err == nil && secs > 0 {
		// keep a safety margin under the provider's expiry
		if provider := time.Duration(secs)*time.Second - 10*time.Minute; provider > 0 && provider < ttl {
			ttl = provider
		}
	}

	c.mu.Lock()
	c.accessToken = result.AccessToken
	c.expiresAt = c.now().Add(ttl)
	if result.RefreshToken != "" {
		c.refreshToken = result.RefreshToken
	}
	c.mu.Unlock()

	slog.Info("🔑 Zalo access token refreshed", "valid_for", ttl.String())
	return result.AccessToken, nil
}

func (c *ZaloClient) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}
