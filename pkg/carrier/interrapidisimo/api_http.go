package interrapidisimo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetQuote fetches shipping prices.
// POST /api/cotizar
func (c *HTTPAPIClient) GetQuote(ctx context.Context, apiKey string, req *QuoteRequest) (*QuoteResponse, error) {
	resp, err := c.doRequest(ctx, apiKey, http.MethodPost, "/api/cotizar", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result QuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}
	return &result, nil
}

// CreateShipment generates a shipment.
// POST /api/envios
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, apiKey string, req *ShipmentRequest) (*ShipmentResponse, error) {
	resp, err := c.doRequest(ctx, apiKey, http.MethodPost, "/api/envios", req)
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

// GetTracking retrieves shipment states.
// GET /api/envios/{shipmentNumber}/estados
func (c *HTTPAPIClient) GetTracking(ctx context.Context, apiKey string, shipmentNumber string) (*TrackingResponse, error) {
	path := fmt.Sprintf("/api/envios/%s/estados", url.PathEscape(shipmentNumber))

	resp, err := c.doRequest(ctx, apiKey, http.MethodGet, path, nil)
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

// SchedulePickup books a collection at origin.
// POST /api/recolecciones
func (c *HTTPAPIClient) SchedulePickup(ctx context.Context, apiKey string, req *PickupRequest) (*PickupResponse, error) {
	resp, err := c.doRequest(ctx, apiKey, http.MethodPost, "/api/recolecciones", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var result PickupResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode pickup response: %w", err)
	}
	return &result, nil
}

// doRequest performs an HTTP request with proper headers and API key auth.
func (c *HTTPAPIClient) doRequest(ctx context.Context, apiKey, method, path string, body interface{}) (*http.Response, error) {
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
	req.Header.Set("ApiKey", apiKey)
	req.Header.Set("User-Agent", "enviora-carrier/1.0")

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err == nil && apiErr.Code != "" {
		return apiErr
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       "HTTP_ERROR",
		Message:    string(body),
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
