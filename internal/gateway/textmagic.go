package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jobrelay/sms-relay/internal/domain"
)

const defaultGatewayTimeout = 10 * time.Second

// Gateway is the outbound SMS port consumed by the orchestrator.
type Gateway interface {
	// Send delivers one text message and returns the gateway message id.
	Send(ctx context.Context, phone string, text string) (string, error)
}

type sendRequest struct {
	Text   string `json:"text"`
	Phones string `json:"phones"`
	From   string `json:"from,omitempty"`
}

type sendResponse struct {
	ID   int64  `json:"id"`
	Href string `json:"href"`
}

// TextMagicGateway sends messages through the TextMagic v2 REST API.
type TextMagicGateway struct {
	client   *resty.Client
	username string
	apiKey   string
	from     string
}

func NewTextMagicGateway(baseURL string, username string, apiKey string, from string) (*TextMagicGateway, error) {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewTextMagicGatewayWithClient(username, apiKey, from, client)
}

func NewTextMagicGatewayWithClient(username string, apiKey string, from string, client *resty.Client) (*TextMagicGateway, error) {
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("textmagic username is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("textmagic api key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if _, err := url.ParseRequestURI(client.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid textmagic base url: %w", err)
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &TextMagicGateway{
		client:   client,
		username: strings.TrimSpace(username),
		apiKey:   strings.TrimSpace(apiKey),
		from:     strings.TrimSpace(from),
	}, nil
}

func (g *TextMagicGateway) Send(ctx context.Context, phone string, text string) (string, error) {
	if g == nil || g.client == nil {
		return "", fmt.Errorf("gateway is not initialized")
	}

	normalized := domain.NormalizePhone(phone)
	if normalized == "" {
		return "", fmt.Errorf("%w: destination phone is required", domain.ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: message text is required", domain.ErrValidation)
	}

	var decoded sendResponse
	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-TM-Username", g.username).
		SetHeader("X-TM-Key", g.apiKey).
		SetBody(sendRequest{
			Text:   text,
			Phones: normalized,
			From:   domain.NormalizePhone(g.from),
		}).
		SetResult(&decoded).
		Post("/api/v2/messages")
	if err != nil {
		return "", &GatewayError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		message := fmt.Sprintf("gateway returned status %d", statusCode)
		if body := strings.TrimSpace(response.String()); body != "" {
			message = fmt.Sprintf("%s: %s", message, body)
		}
		return "", &GatewayError{
			StatusCode: statusCode,
			Message:    message,
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	if decoded.ID == 0 {
		return "", &GatewayError{
			StatusCode: statusCode,
			Message:    "gateway response missing message id",
			Transient:  false,
		}
	}

	return strconv.FormatInt(decoded.ID, 10), nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
