package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/shared/util"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultUploadTimeout = 60 * time.Second
	maxErrorBody         = 4 << 10
)

// Options configures the backend client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	UploadTimeout time.Duration
	// Transport is the base round tripper; http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// Client talks to the remote analysis backend. Every request carries the
// session bearer token and a 401 response triggers onUnauthorized.
type Client struct {
	baseURL *url.URL
	api     *http.Client
	upload  *http.Client
	plain   *http.Client
}

// NewClient constructs a client for opts.BaseURL.
func NewClient(opts Options, tokens oauth2.TokenSource, onUnauthorized func()) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API_BASE_URL %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	uploadTimeout := opts.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = defaultUploadTimeout
	}
	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	authed := &unauthorizedTransport{
		base:           &oauth2.Transport{Source: tokens, Base: rt},
		onUnauthorized: onUnauthorized,
	}
	return &Client{
		baseURL: base,
		api:     &http.Client{Timeout: timeout, Transport: authed},
		upload:  &http.Client{Timeout: uploadTimeout, Transport: authed},
		plain:   &http.Client{Timeout: timeout, Transport: rt},
	}, nil
}

// StatusError is a non-success response from the backend.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend http status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend http status %d: %s", e.StatusCode, e.Detail)
}

// Unwrap maps 401 onto analysis.ErrUnauthorized.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return analysis.ErrUnauthorized
	}
	return nil
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

// getJSON issues a GET and decodes a 200 response into out.
func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(c.api, req, out)
}

func (c *Client) do(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return wrapTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(body)}
}

// errorDetail extracts the message from a backend error body.
func errorDetail(body []byte) string {
	var parsed struct {
		Detail any `json:"detail"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch d := parsed.Detail.(type) {
		case string:
			return d
		case nil:
		default:
			if raw, err := json.Marshal(d); err == nil {
				return string(raw)
			}
		}
		if parsed.Error != nil && parsed.Error.Message != "" {
			return parsed.Error.Message
		}
	}
	return util.Truncate(strings.TrimSpace(string(body)), 200)
}

func wrapTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return fmt.Errorf("backend request timeout: %w", err)
	}
	return err
}

func statusCodeOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// unauthorizedTransport reports 401 responses to the session.
type unauthorizedTransport struct {
	base           http.RoundTripper
	onUnauthorized func()
}

func (t *unauthorizedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if errors.Is(err, analysis.ErrUnauthorized) && t.onUnauthorized != nil {
			t.onUnauthorized()
		}
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.onUnauthorized != nil {
		t.onUnauthorized()
	}
	return resp, nil
}
