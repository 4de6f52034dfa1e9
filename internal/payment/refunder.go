// README: External payment collaborator. The real processor lives outside
// this service; this client is the single seam the order lifecycle talks to.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"carpool/internal/types"
)

// Client calls the payment processor's refund endpoint. A refund that does
// not return 2xx leaves the order untouched upstream.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Refund(ctx context.Context, orderID types.ID, amount float64) error {
	body, err := json.Marshal(map[string]any{
		"orderId": string(orderID),
		"amount":  amount,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("refund rejected: status %d", resp.StatusCode)
	}
	return nil
}
