// Package homeassistant pushes shopping list items to the Home Assistant
// shopping list integration through the core REST API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one shopping list call
const DefaultTimeout = 5 * time.Second

// ErrRejected is returned when Home Assistant answers with a non-success status
var ErrRejected = errors.New("home assistant rejected request")

// Client talks to the Home Assistant API with a bearer token
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client. baseURL is the API root, e.g. http://supervisor/core/api.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("home assistant base URL is required")
	}
	if token == "" {
		return nil, fmt.Errorf("home assistant token is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type shoppingItemRequest struct {
	Name string `json:"name"`
}

// AddShoppingItem adds name to the Home Assistant shopping list
func (c *Client) AddShoppingItem(ctx context.Context, name string) error {
	body, err := json.Marshal(shoppingItemRequest{Name: name})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shopping_list/item", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling home assistant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
