package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"bewo-chat/internal/adapters/dto"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

var _ ports.ChannelSender = (*FacebookClient)(nil)

// Facebook API failures. The permanent ones wrap domain.ErrDeliveryRejected
// so the deliverer stops retrying.
var (
	// ErrTokenExpired indicates the page access token is expired or invalid (code 190)
	ErrTokenExpired = fmt.Errorf("%w: facebook access token expired or invalid", domain.ErrDeliveryRejected)

	// ErrPermissionDenied indicates missing permissions (code 10, 200, 299)
	ErrPermissionDenied = fmt.Errorf("%w: facebook permission denied", domain.ErrDeliveryRejected)

	// ErrChannelRateLimited indicates the channel throttled us (FB code 4, 17, 32, 613). Retryable.
	ErrChannelRateLimited = errors.New("channel rate limit exceeded")
)

const (
	defaultGraphBaseURL    = "https://graph.facebook.com"
	defaultGraphAPIVersion = "v19.0"
	defaultChannelTimeout  = 10 * time.Second
)

// FacebookClientConfig holds Graph API settings
type FacebookClientConfig struct {
	BaseURL         string // overridable for tests
	APIVersion      string
	PageAccessToken string
	Timeout         time.Duration
}

// FacebookClient handles communication with Facebook Graph API
type FacebookClient struct {
	httpClient      *resty.Client
	apiVersion      string
	pageAccessToken string
}

// NewFacebookClient creates a new Facebook API client
func NewFacebookClient(cfg FacebookClientConfig) *FacebookClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultGraphAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultChannelTimeout
	}
	return &FacebookClient{
		httpClient: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(cfg.Timeout),
		apiVersion:      cfg.APIVersion,
		pageAccessToken: cfg.PageAccessToken,
	}
}

func (c *FacebookClient) Channel() domain.Channel {
	return domain.ChannelFacebook
}

// Send performs a single Send API call. Retries are the deliverer's job.
//
// Returns specific errors:
// - ErrTokenExpired / ErrPermissionDenied: permanent, wrap domain.ErrDeliveryRejected
// - ErrChannelRateLimited: retry later
func (c *FacebookClient) Send(ctx context.Context, recipientPSID string, msg domain.OutboundMessage) error {
	if c.pageAccessToken == "" {
		return fmt.Errorf("%w: facebook page access token not configured", domain.ErrDeliveryRejected)
	}

	var (
		result dto.FacebookSendResponse
		fbErr  dto.FacebookErrorResponse
	)

	// Log outgoing request (without token for security)
	slog.Info("Sending message to Facebook",
		"recipient_psid", recipientPSID,
		"text_length", len(msg.ResponseText),
		"quick_replies", len(msg.QuickReplies),
	)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("access_token", c.pageAccessToken).
		SetBody(dto.NewFacebookSendRequest(recipientPSID, msg)).
		SetResult(&result).
		SetError(&fbErr).
		Post(fmt.Sprintf("/%s/me/messages", c.apiVersion))
	if err != nil {
		slog.Error("Failed to send request to Facebook", "error", err)
		return fmt.Errorf("facebook api request failed: %w", err)
	}

	if resp.IsError() {
		slog.Error("Facebook API error",
			"status_code", resp.StatusCode(),
			"error_code", fbErr.Error.Code,
			"error_message", fbErr.Error.Message,
			"error_subcode", fbErr.Error.ErrorSubcode,
			"fbtrace_id", fbErr.Error.FBTraceID,
		)

		// Return specific errors based on code
		switch fbErr.Error.Code {
		case 190:
			return ErrTokenExpired
		case 4, 17, 32, 613:
			return ErrChannelRateLimited
		case 10, 200, 299:
			return ErrPermissionDenied
		case 100, 551:
			// invalid parameter, or the user can no longer be messaged
			return fmt.Errorf("%w: facebook code %d: %s", domain.ErrDeliveryRejected, fbErr.Error.Code, fbErr.Error.Message)
		case 0:
			return fmt.Errorf("facebook api error %d: %s", resp.StatusCode(), resp.String())
		default:
			return fmt.Errorf("facebook api error (code %d): %s", fbErr.Error.Code, fbErr.Error.Message)
		}
	}

	slog.Info("Message sent successfully",
		"recipient_psid", recipientPSID,
		"message_id", result.MessageID,
	)
	return nil
}
