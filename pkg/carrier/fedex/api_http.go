package fedex

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
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL       string
	accountNumber string
	httpClient    *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL       string
	AccountNumber string
	Timeout       time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL:       cfg.BaseURL,
		accountNumber: cfg.AccountNumber,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetToken exchanges client credentials for an access token.
// POST /oauth/token with form-encoded grant.
func (c *HTTPAPIClient) GetToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &token, nil
}

// GetRates fetches rate quotes.
// POST /rate/v1/rates/quotes
func (c *HTTPAPIClient) GetRates(ctx context.Context, token string, req *RatesRequest) (*RatesResponse, error) {
	if req.AccountNumber.Value == "" {
		req.AccountNumber.Value = c.accountNumber
	}

	resp, err := c.doRequest(ctx, token, http.MethodPost, "/rate/v1/rates/quotes", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result RatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rates response: %w", err)
	}
	return &result, nil
}

// CreateShipment books a shipment.
// POST /ship/v1/shipments
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, token string, req *ShipmentRequest) (*ShipmentResponse, error) {
	if req.AccountNumber.Value == "" {
		req.AccountNumber.Value = c.accountNumber
	}

	resp, err := c.doRequest(ctx, token, http.MethodPost, "/ship/v1/shipments", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var result ShipmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode shipment response: %w", err)
	}
	return &result, nil
}

// GetTracking retrieves tracking events.
// POST /track/v1/trackingnumbers
func (c *HTTPAPIClient) GetTracking(ctx context.Context, token string, trackingNumber string) (*TrackingResponse, error) {
	body := map[string]any{
		"includeDetailedScans": true,
		"trackingInfo": []map[string]any{
			{"trackingNumberInfo": map[string]string{"trackingNumber": trackingNumber}},
		},
	}

	resp, err := c.doRequest(ctx, token, http.MethodPost, "/track/v1/trackingnumbers", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result TrackingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode tracking response: %w", err)
	}
	return &result, nil
}

// CancelShipment voids a shipment.
// PUT /ship/v1/shipments/cancel
func (c *HTTPAPIClient) CancelShipment(ctx context.Context, token string, trackingNumber string) (*CancelResponse, error) {
	body := map[string]any{
		"accountNumber":  AccountNumber{Value: c.accountNumber},
		"trackingNumber": trackingNumber,
	}

	resp, err := c.doRequest(ctx, token, http.MethodPut, "/ship/v1/shipments/cancel", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result CancelResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode cancel response: %w", err)
	}
	return &result, nil
}

// doRequest performs an HTTP request with proper headers and bearer auth.
func (c *HTTPAPIClient) doRequest(ctx context.Context, token, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-locale", "en_US")
	req.Header.Set("User-Agent", "enviora-carrier/1.0")

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err == nil && len(apiErr.Errors) > 0 {
		return apiErr
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Errors:     []ErrorItem{{Code: "HTTP_ERROR", Message: string(body)}},
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
