package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gonasi/gonasi-backend/internal/platform/httpx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

const DefaultBaseURL = "https://api.paystack.co"

// ErrNotFound is returned when Paystack reports the resource does not exist.
var ErrNotFound = errors.New("paystack: not found")

type Client interface {
	FetchSubscription(ctx context.Context, code string) (*Subscription, error)
	DisableSubscription(ctx context.Context, req DisableSubscriptionRequest) error
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

type Config struct {
	SecretKey  string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// APIError is a non-2xx response or a 2xx response with status=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack http %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type client struct {
	log        *logger.Logger
	secretKey  string
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("missing PAYSTACK_SECRET_KEY")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &client{
		log:        log.With("client", "PaystackClient"),
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (c *client) FetchSubscription(ctx context.Context, code string) (*Subscription, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("subscription code required")
	}
	var out Subscription
	if err := c.do(ctx, http.MethodGet, "/subscription/"+url.PathEscape(code), nil, &out); err != nil {
		return nil, err
	}
	if out.SubscriptionCode == "" {
		return nil, fmt.Errorf("paystack subscription response missing subscription_code")
	}
	return &out, nil
}

func (c *client) DisableSubscription(ctx context.Context, req DisableSubscriptionRequest) error {
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Token) == "" {
		return fmt.Errorf("subscription code and email token required")
	}
	return c.do(ctx, http.MethodPost, "/subscription/disable", req, nil)
}

func (c *client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	if strings.TrimSpace(req.Customer) == "" || strings.TrimSpace(req.Plan) == "" {
		return nil, fmt.Errorf("customer and plan required")
	}
	// The create response carries plan and customer as numeric ids.
	var out struct {
		SubscriptionCode string     `json:"subscription_code"`
		EmailToken       string     `json:"email_token"`
		Status           string     `json:"status"`
		NextPaymentDate  *time.Time `json:"next_payment_date"`
	}
	if err := c.do(ctx, http.MethodPost, "/subscription", req, &out); err != nil {
		return nil, err
	}
	if out.SubscriptionCode == "" {
		return nil, fmt.Errorf("paystack create subscription response missing subscription_code")
	}
	return &Subscription{
		SubscriptionCode: out.SubscriptionCode,
		EmailToken:       out.EmailToken,
		Status:           out.Status,
		NextPaymentDate:  out.NextPaymentDate,
		Plan:             Plan{PlanCode: req.Plan},
		Customer:         Customer{CustomerCode: req.Customer},
	}, nil
}

func (c *client) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if strings.TrimSpace(req.Transaction) == "" {
		return nil, fmt.Errorf("transaction reference required")
	}
	var out Refund
	if err := c.do(ctx, http.MethodPost, "/refund", req, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		out.Status = "pending"
	}
	return &out, nil
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, *envelope, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(env.Message)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return resp, nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return resp, nil, fmt.Errorf("paystack decode error: %w", decodeErr)
	}
	if !env.Status {
		return resp, nil, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return resp, &env, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	ctx, span := otel.Tracer("paystack").Start(ctx, "paystack "+method+" "+spanPath(path))
	defer span.End()

	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		resp, env, err := c.doOnce(ctx, method, path, body)
		if resp != nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		}
		if err == nil {
			if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
				return nil
			}
			if uErr := json.Unmarshal(env.Data, out); uErr != nil {
				span.RecordError(uErr)
				return fmt.Errorf("paystack decode data: %w", uErr)
			}
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			err = fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		}
		// Only reads are retried.
		if method != http.MethodGet || !httpx.IsRetryableError(err) || attempt >= c.maxRetries {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Paystack request retrying",
			"path", spanPath(path),
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if sErr := httpx.Sleep(ctx, sleepFor); sErr != nil {
			return err
		}
		backoff *= 2
	}
}

// spanPath drops resource codes so span names stay low-cardinality.
func spanPath(path string) string {
	if strings.HasPrefix(path, "/subscription/") && path != "/subscription/disable" {
		return "/subscription/{code}"
	}
	return path
}
