package tokens

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

	"github.com/holiman/uint256"
)

// Client is the HTTP implementation of Ledger. Every call is made on behalf
// of the custody account configured for the engine.
type Client struct {
	baseURL    string
	custody    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, custodyAccount, serviceToken string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		custody: custodyAccount,
		token:   serviceToken,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *Client) Transfer(ctx context.Context, recipient string, amount uint256.Int, memo string) error {
	payload := map[string]string{
		"sender_id":   c.custody,
		"receiver_id": recipient,
		"amount":      amount.Dec(),
	}
	if memo != "" {
		payload["memo"] = memo
	}
	if err := c.postJSON(ctx, "/v1/ft/transfer", payload, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

func (c *Client) BalanceOf(ctx context.Context, account string) (uint256.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ft/balances/"+url.PathEscape(account), nil)
	if err != nil {
		return uint256.Int{}, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("token balance request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return uint256.Int{}, fmt.Errorf("token balance status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Balance string `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uint256.Int{}, fmt.Errorf("decode balance: %w", err)
	}
	v, err := uint256.FromDecimal(strings.TrimSpace(out.Balance))
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse balance %q: %w", out.Balance, err)
	}
	return *v, nil
}

func (c *Client) Burn(ctx context.Context, amount uint256.Int) error {
	payload := map[string]string{
		"account_id": c.custody,
		"amount":     amount.Dec(),
	}
	if err := c.postJSON(ctx, "/v1/ft/burn", payload, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("X-Service-Token", c.token)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token service request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("token service status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
