package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

const maxErrorBody = 256

// httpClient is the shared request plumbing for both providers: bearer
// tokens from a cached client-credentials source, bounded retries for
// transient failures and error classification.
type httpClient struct {
	name     string
	http     *http.Client
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func newHTTPClient(name string, hc *http.Client, attempts int, backoff time.Duration) *httpClient {
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	if attempts < 1 {
		attempts = 1
	}
	return &httpClient{
		name:     name,
		http:     hc,
		attempts: attempts,
		backoff:  backoff,
		sleep:    sleepCtx,
		sources:  make(map[string]oauth2.TokenSource),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// headerTransport adds static headers to every request, including the
// token requests issued by the oauth2 package.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// tokenSource returns the cached source for cfg, creating it on first use.
// The oauth2 package refreshes the token shortly before it expires.
func (c *httpClient) tokenSource(cfg *clientcredentials.Config, extraHeaders map[string]string) oauth2.TokenSource {
	key := c.name + "|" + cfg.TokenURL + "|" + cfg.ClientID + "|" + cfg.ClientSecret
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.sources[key]; ok {
		return ts
	}
	tokenHTTP := &http.Client{
		Timeout:   c.http.Timeout,
		Transport: &headerTransport{base: c.http.Transport, headers: extraHeaders},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenHTTP)
	ts := cfg.TokenSource(ctx)
	c.sources[key] = ts
	return ts
}

func (c *httpClient) accessToken(ts oauth2.TokenSource) (string, error) {
	tok, err := ts.Token()
	if err == nil {
		return tok.AccessToken, nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 && re.Response.StatusCode != http.StatusTooManyRequests {
		// bad merchant credentials are an operator problem, not a retryable outage
		return "", apperror.Inconsistency(fmt.Sprintf("%s rejected the merchant credentials (status %d)", c.name, re.Response.StatusCode), nil)
	}
	return "", apperror.GatewayUnavailable(c.name+" token endpoint unavailable", err)
}

type apiRequest struct {
	method  string
	url     string
	headers map[string]string
	body    interface{}
	token   oauth2.TokenSource
}

type apiResponse struct {
	status int
	body   []byte
}

// do sends req, retrying network errors, 5xx and 429 with exponential backoff.
// Statuses listed in accept are returned to the caller as-is; any other
// non-2xx status becomes an apperror.
func (c *httpClient) do(ctx context.Context, req apiRequest, accept ...int) (*apiResponse, error) {
	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return nil, apperror.Inconsistency("encoding "+c.name+" request", err)
		}
	}

	delay := c.backoff
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			log.Warnf("[%s] %s %s failed (try %d/%d): %v", c.name, req.method, req.url, i, c.attempts, lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, apperror.GatewayUnavailable(c.name+" request aborted", err)
			}
			delay *= 2
		}

		resp, err := c.once(ctx, req, payload)
		if err != nil {
			if apperror.IsKind(err, apperror.KindGatewayUnavailable) {
				lastErr = err
				continue
			}
			return nil, err
		}
		if resp.status >= 200 && resp.status < 300 || containsStatus(accept, resp.status) {
			return resp, nil
		}
		if resp.status >= 500 || resp.status == http.StatusTooManyRequests {
			lastErr = apperror.GatewayUnavailable(fmt.Sprintf("%s returned status %d", c.name, resp.status), nil)
			continue
		}
		return nil, apperror.Wrap(apperror.KindValidation, apperror.CodePaymentRejected,
			"payment request was rejected by the provider",
			fmt.Errorf("%s status=%d body=%s", c.name, resp.status, truncate(resp.body)))
	}
	return nil, lastErr
}

func (c *httpClient) once(ctx context.Context, req apiRequest, payload []byte) (*apiResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, apperror.Inconsistency("building "+c.name+" request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	if req.token != nil {
		access, err := c.accessToken(req.token)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperror.GatewayUnavailable(c.name+" unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.GatewayUnavailable("reading "+c.name+" response", err)
	}
	return &apiResponse{status: resp.StatusCode, body: data}, nil
}

func containsStatus(list []int, status int) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func trimBase(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
