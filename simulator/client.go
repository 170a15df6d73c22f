package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/tracking"
)

// envelope mirrors the API response body.
type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// APIClient calls the delivery routes of a running service.
type APIClient struct {
	base string
	http *http.Client
}

func NewAPIClient(base string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

// Delivery fetches a delivery.
func (c *APIClient) Delivery(ctx context.Context, id string) (model.Delivery, error) {
	var out model.Delivery
	err := c.do(ctx, http.MethodGet, "/deliveries/"+id, nil, &out)
	return out, err
}

// Track reports a courier position.
func (c *APIClient) Track(ctx context.Context, deliveryID string, at model.Coord) (tracking.TrackResult, error) {
	var out tracking.TrackResult
	err := c.do(ctx, http.MethodPost, "/trackDelivery", tracking.TrackRequest{DeliveryID: deliveryID, DriverCoord: at}, &out)
	return out, err
}

// End completes a delivery.
func (c *APIClient) End(ctx context.Context, deliveryID, driverID string) (model.Delivery, error) {
	var out model.Delivery
	err := c.do(ctx, http.MethodPost, "/endDelivery", tracking.EndRequest{DeliveryID: deliveryID, DriverID: driverID}, &out)
	return out, err
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	env := envelope[json.RawMessage]{}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
