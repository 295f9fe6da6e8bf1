// Package resthttp implements the backend fetch and mutation contracts
// over HTTP/JSON. All failures leave this package already classified into
// the shared error taxonomy; a circuit breaker sheds load from a backend
// that is failing hard.
package resthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
	pkgerrors "pulsedesk-sync/pkg/errors"
)

// Options configures the transport.
type Options struct {
	BaseURL    string
	Token      string // opaque bearer token, pass-through only
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the PulseDesk REST API.
type Client struct {
	baseURL *url.URL
	httpc   *http.Client
	token   string
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

var _ ports.Gateway = (*Client)(nil)

// New builds a transport client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, pkgerrors.NewValidationError("transport base URL is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, pkgerrors.NewValidationError("invalid transport base URL").WithCause(err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	httpc.Transport = &loggingTransport{next: httpc.Transport, logger: opts.Logger}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pulsedesk-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL: base,
		httpc:   httpc,
		token:   opts.Token,
		logger:  opts.Logger,
		breaker: breaker,
	}, nil
}

// Fetch implements ports.Gateway.
func (c *Client) Fetch(ctx context.Context, kind entities.Kind, id string, params url.Values) (json.RawMessage, error) {
	path, err := fetchPath(kind, id)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Mutate implements ports.Gateway.
func (c *Client) Mutate(ctx context.Context, kind entities.Kind, id string, payload interface{}) (json.RawMessage, error) {
	method, path, err := mutatePath(kind, id)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.NewInternalError("encoding mutation payload").WithCause(err)
	}
	return c.do(ctx, method, path, nil, body)
}

func fetchPath(kind entities.Kind, id string) (string, error) {
	switch kind {
	case entities.KindCustomer:
		return "/api/customers/" + url.PathEscape(id), nil
	case entities.KindCustomerList:
		return "/api/customers", nil
	case entities.KindRiskAssessment:
		return "/api/risk-assessments/" + url.PathEscape(id), nil
	case entities.KindHealthScore:
		return "/api/customers/" + url.PathEscape(id) + "/health-score", nil
	case entities.KindInteractionList:
		return "/api/customers/" + url.PathEscape(id) + "/interactions", nil
	default:
		return "", pkgerrors.NewValidationError("no fetch route for kind: " + string(kind))
	}
}

func mutatePath(kind entities.Kind, id string) (method, path string, err error) {
	switch kind {
	case entities.KindCustomer:
		return http.MethodPut, "/api/customers/" + url.PathEscape(id), nil
	case entities.KindHealthScore:
		return http.MethodPut, "/api/customers/" + url.PathEscape(id) + "/health-score", nil
	case entities.KindRiskAssessment:
		return http.MethodPut, "/api/risk-assessments/" + url.PathEscape(id), nil
	case entities.KindInteraction:
		return http.MethodPost, "/api/interactions", nil
	default:
		return "", "", pkgerrors.NewValidationError("no mutation route for kind: " + string(kind))
	}
}

// apiResult carries a classified terminal error through the breaker
// without counting it as a breaker failure. Only connectivity and 5xx
// responses should trip the circuit.
type apiResult struct {
	raw json.RawMessage
	err error
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) (json.RawMessage, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return nil, pkgerrors.NewInternalError("building request").WithCause(err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, pkgerrors.NewConnectivityError("request failed: "+method+" "+path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, pkgerrors.NewConnectivityError("reading response body", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return apiResult{raw: raw}, nil
		}

		appErr := pkgerrors.FromHTTPStatus(resp.StatusCode, errorMessage(raw, method, path))
		if resp.StatusCode >= 500 {
			// Server faults count toward tripping the breaker.
			return nil, appErr
		}
		return apiResult{err: appErr}, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, pkgerrors.NewUnavailableError("pulsedesk api").WithCause(err)
		}
		return nil, err
	}

	result := res.(apiResult)
	if result.err != nil {
		return nil, result.err
	}
	return result.raw, nil
}

func errorMessage(raw []byte, method, path string) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fmt.Sprintf("%s %s failed", method, path)
}

// loggingTransport logs each round trip at debug level.
type loggingTransport struct {
	next   http.RoundTripper
	logger *zap.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		t.logger.Debug("http request failed", append(fields, zap.Error(err))...)
		return resp, err
	}
	t.logger.Debug("http request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}
