package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pilot-net/edos-console/pkg/types"
)

// Renewer calls the refresh endpoint directly. It never goes through Send,
// so a rejected refresh token cannot recurse into another renewal.
type Renewer struct {
	url        string
	httpClient *http.Client
}

// RenewerConfig for the renewer.
type RenewerConfig struct {
	BaseURL            string
	APIPrefix          string
	HTTPClient         *http.Client
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// NewRenewer creates a renewer for the refresh endpoint.
func NewRenewer(cfg RenewerConfig) *Renewer {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.Timeout, cfg.InsecureSkipVerify)
	}
	return &Renewer{
		url:        joinBase(cfg.BaseURL, cfg.APIPrefix) + routeRefresh,
		httpClient: cfg.HTTPClient,
	}
}

// Renew exchanges refreshToken for a new token pair. The returned refresh
// token is empty when the backend did not rotate it.
func (r *Renewer) Renew(ctx context.Context, refreshToken string) (types.Credentials, error) {
	data, err := json.Marshal(types.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return types.Credentials{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return types.Credentials{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return types.Credentials{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return types.Credentials{}, &APIError{
			Method:     http.MethodPost,
			Path:       routeRefresh,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var creds types.Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return types.Credentials{}, fmt.Errorf("decoding response: %w", err)
	}
	if creds.AccessToken == "" {
		return types.Credentials{}, errors.New("refresh response has no access token")
	}
	return creds, nil
}
