// Package quoteprovider fetches raw TDX quotes from a workload's
// quote-provider sidecar, the Go equivalent of fetch_quote/fetch_measurements
// in measurement_verifier.py.
package quoteprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/posix4e/tdx-trust-gateway/internal/dcap"
	"github.com/posix4e/tdx-trust-gateway/internal/measurement"
)

// fetchTimeout matches the source's 60-second timeout against the
// quote-provider sidecar.
const fetchTimeout = 60 * time.Second

// Client fetches quotes over HTTP.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with the fixed fetch timeout.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: fetchTimeout}}
}

type rawMeasurements struct {
	MRTD  string `json:"mrtd"`
	RTMR0 string `json:"rtmr0"`
	RTMR1 string `json:"rtmr1"`
	RTMR2 string `json:"rtmr2"`
	RTMR3 string `json:"rtmr3"`
}

func (m rawMeasurements) toMeasurements() measurement.Measurements {
	return measurement.Measurements{
		MRTD:  m.MRTD,
		RTMR0: m.RTMR0,
		RTMR1: m.RTMR1,
		RTMR2: m.RTMR2,
		RTMR3: m.RTMR3,
	}
}

type quoteResponse struct {
	Quote        string          `json:"quote"`
	Measurements rawMeasurements `json:"measurements"`
}

type quoteRequestBody struct {
	ReportData string `json:"reportData"`
}

// FetchQuote issues GET {endpoint}/quote, or POST {endpoint}/quote with a
// {"reportData": ...} body when reportData is set, and returns the decoded
// raw quote bytes, matching fetch_quote's GET/POST split.
func (c *Client) FetchQuote(ctx context.Context, endpoint string, reportData *string) ([]byte, error) {
	body, err := c.requestQuote(ctx, endpoint, reportData)
	if err != nil {
		return nil, err
	}
	return dcap.DecodeBase64Quote(body.Quote)
}

// FetchMeasurements issues GET {endpoint}/quote and returns only the
// sidecar-reported measurements JSON, without decoding the quote itself,
// matching fetch_measurements.
func (c *Client) FetchMeasurements(ctx context.Context, endpoint string) (measurement.Measurements, error) {
	body, err := c.requestQuote(ctx, endpoint, nil)
	if err != nil {
		return measurement.Measurements{}, err
	}
	return body.Measurements.toMeasurements(), nil
}

func (c *Client) requestQuote(ctx context.Context, endpoint string, reportData *string) (quoteResponse, error) {
	var req *http.Request
	var err error
	url := endpoint + "/quote"

	if reportData != nil {
		payload, marshalErr := json.Marshal(quoteRequestBody{ReportData: *reportData})
		if marshalErr != nil {
			return quoteResponse{}, fmt.Errorf("quoteprovider: encode request: %w", marshalErr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
	if err != nil {
		return quoteResponse{}, fmt.Errorf("quoteprovider: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return quoteResponse{}, fmt.Errorf("quoteprovider: fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return quoteResponse{}, fmt.Errorf("quoteprovider: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return quoteResponse{}, fmt.Errorf("quoteprovider: %s returned %d: %s", endpoint, resp.StatusCode, string(respBody))
	}

	var parsed quoteResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return quoteResponse{}, fmt.Errorf("quoteprovider: decode response: %w", err)
	}
	return parsed, nil
}
