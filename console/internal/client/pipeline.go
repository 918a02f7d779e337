package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// maxResponseBytes caps a buffered response body.
const maxResponseBytes = 4 << 20

// maxErrorBody caps the body kept on an APIError.
const maxErrorBody = 1024

// Request describes one backend call. Send never modifies it.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header

	// Anonymous sends the call without a token and never renews on 401.
	// Used for login, where 401 means bad credentials.
	Anonymous bool
}

// Send issues req with the stored access token.
//
// A token the client already believes expired is renewed before the first
// attempt. Otherwise a 401 triggers one renewal and one replay. Either way
// a call is sent at most twice. Any other non-2xx status is returned as an
// *APIError without a retry.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	retried := false

	var token string
	if !req.Anonymous {
		token = c.creds.AccessToken(ctx)
		if token != "" && c.tokens != nil && c.creds.IsExpired(token) {
			c.logger.Debug("access token expired locally, renewing before send",
				"path", req.Path, "request_id", requestID)
			fresh, err := c.tokens.Token(ctx, token)
			if err != nil {
				return nil, err
			}
			token = fresh
			retried = true
		}
	}

	for {
		resp, err := c.attempt(ctx, req, body, token, requestID)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && !retried && !req.Anonymous && c.tokens != nil {
			retried = true
			c.logger.Debug("unauthorized, renewing token",
				"path", req.Path, "request_id", requestID)
			fresh, err := c.tokens.Token(ctx, token)
			if err != nil {
				return nil, err
			}
			token = fresh
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{
				Method:     req.Method,
				Path:       req.Path,
				StatusCode: resp.StatusCode,
				Body:       errorBody(resp.Body),
			}
		}
		return resp, nil
	}
}

// attempt performs one HTTP exchange on a fresh *http.Request.
func (c *Client) attempt(ctx context.Context, req Request, body []byte, token, requestID string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	} else {
		httpReq.Header.Del("Authorization")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return data, nil
}

func errorBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
