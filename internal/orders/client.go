package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/delivery-events/internal/models"
)

// Client fetches order snapshots from the delivery API over plain HTTP. It
// satisfies the tracker's Fetcher: the one-shot request path that backs the
// baseline fetch and the fallback poll.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (models.Order, error) {
	url := fmt.Sprintf("%s/api/v1/orders/%s", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Order{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.Order{}, fmt.Errorf("orders: fetch %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.Order{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return models.Order{}, fmt.Errorf("orders: fetch %s: unexpected status %d", orderID, resp.StatusCode)
	}

	var o models.Order
	if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
		return models.Order{}, fmt.Errorf("orders: decode %s: %w", orderID, err)
	}
	return o, nil
}
