// Package orders is the HTTP client for the order collaborator.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/models"
)

// Details fetches order summaries used to enrich offers.
type Details interface {
	GetOrderDetails(ctx context.Context, orderID string) (models.OrderDetails, error)
}

type Client struct {
	Endpoint string
	Client   *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (models.OrderDetails, error) {
	url := fmt.Sprintf("%s/api/orders/%s", c.Endpoint, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.OrderDetails{}, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return models.OrderDetails{}, errs.Upstream("order details", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return models.OrderDetails{}, errs.NotFound("order", orderID)
	}
	if resp.StatusCode != http.StatusOK {
		return models.OrderDetails{}, errs.Upstream("order details", fmt.Errorf("status %d", resp.StatusCode))
	}
	var out struct {
		Success bool                `json:"success"`
		Order   models.OrderDetails `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.OrderDetails{}, errs.Upstream("order details", err)
	}
	if !out.Success {
		return models.OrderDetails{}, errs.NotFound("order", orderID)
	}
	out.Order.OrderID = orderID
	return out.Order, nil
}
