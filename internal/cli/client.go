package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"duels/internal/game"
)

// APIError is a non-2xx response from the duels API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err carries a response from the server, as
// opposed to a transport failure worth retrying later.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type StyleView struct {
	Name          string `json:"name"`
	StrongAgainst string `json:"strong_against"`
	WeakAgainst   string `json:"weak_against"`
}

type TurnResult struct {
	DuelID          uint64   `json:"duel_id"`
	Turn            int      `json:"turn"`
	Damage          uint32   `json:"damage"`
	Winner          string   `json:"winner,omitempty"`
	SettlementCalls []string `json:"settlement_calls,omitempty"`
}

type ReconcileResult struct {
	Status string `json:"status"`
	Burned string `json:"burned"`
	Held   string `json:"held"`
	Failed bool   `json:"failed"`
}

func (c *Client) Figures(ctx context.Context) ([]game.Profile, error) {
	var out struct {
		Figures []game.Profile `json:"figures"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/figures", "", nil, &out, "")
	return out.Figures, err
}

func (c *Client) Styles(ctx context.Context) ([]StyleView, error) {
	var out struct {
		Styles []StyleView `json:"styles"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/styles", "", nil, &out, "")
	return out.Styles, err
}

func (c *Client) ListDuels(ctx context.Context, state string, count, offset int) ([]game.DuelView, error) {
	q := url.Values{}
	q.Set("state", state)
	q.Set("count", strconv.Itoa(count))
	q.Set("offset", strconv.Itoa(offset))
	var out struct {
		Duels []game.DuelView `json:"duels"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/duels?"+q.Encode(), "", nil, &out, "")
	return out.Duels, err
}

func (c *Client) AccountDuels(ctx context.Context, account string) ([]game.DuelView, error) {
	var out struct {
		Duels []game.DuelView `json:"duels"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(account)+"/duels", "", nil, &out, "")
	return out.Duels, err
}

func (c *Client) Duel(ctx context.Context, id uint64) (game.DuelView, error) {
	var out game.DuelView
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/duels/%d", id), "", nil, &out, "")
	return out, err
}

// TopDuel returns nil when no duel is featured.
func (c *Client) TopDuel(ctx context.Context) (*game.DuelView, error) {
	var out struct {
		Duel *game.DuelView `json:"duel"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/duels/top", "", nil, &out, "")
	return out.Duel, err
}

func (c *Client) CreateDuel(ctx context.Context, accessToken, figure, stake, idem string) (uint64, error) {
	var out struct {
		DuelID uint64 `json:"duel_id"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/duels", accessToken, map[string]any{
		"figure": figure,
		"stake":  stake,
	}, &out, idem)
	return out.DuelID, err
}

func (c *Client) AcceptDuel(ctx context.Context, accessToken string, id uint64, figure, idem string) (game.DuelView, error) {
	var out game.DuelView
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/duels/%d/accept", id), accessToken, map[string]any{
		"figure": figure,
	}, &out, idem)
	return out, err
}

func (c *Client) TakeTurn(ctx context.Context, accessToken string, id uint64, style, idem string) (TurnResult, error) {
	var out TurnResult
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/duels/%d/turns", id), accessToken, map[string]any{
		"style": style,
	}, &out, idem)
	return out, err
}

func (c *Client) CancelDuel(ctx context.Context, accessToken string, id uint64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/duels/%d/cancel", id), accessToken, map[string]any{}, &out, idem)
	return out, err
}

func (c *Client) Balance(ctx context.Context, account string) (game.BalanceView, error) {
	var out game.BalanceView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(account)+"/balance", "", nil, &out, "")
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, accessToken, amount, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/withdrawals", accessToken, map[string]any{
		"amount": amount,
	}, &out, idem)
	return out, err
}

// Leaderboard fetches one page of the "wins" or "damage" board.
func (c *Client) Leaderboard(ctx context.Context, board string, count, offset int) ([]game.LeaderboardRow, error) {
	var out struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	path := fmt.Sprintf("/v1/leaderboard/%s?count=%d&offset=%d", url.PathEscape(board), count, offset)
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out, "")
	return out.Rows, err
}

func (c *Client) Custody(ctx context.Context) (game.CustodyReport, error) {
	var out game.CustodyReport
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/custody", "", nil, &out, "")
	return out, err
}

// Reconcile triggers an excess burn and waits for it to finish.
func (c *Client) Reconcile(ctx context.Context, accessToken string) (ReconcileResult, error) {
	var out ReconcileResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/reconcile?wait=1", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) AnnotationQueue(ctx context.Context, accessToken string) ([]game.AnnotationTask, error) {
	var out struct {
		Tasks []game.AnnotationTask `json:"tasks"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/annotation-queue", accessToken, nil, &out, "")
	return out.Tasks, err
}

func (c *Client) Annotate(ctx context.Context, accessToken string, id uint64, turn int, reference, idem string) error {
	path := fmt.Sprintf("/v1/admin/duels/%d/turns/%d/annotation", id, turn)
	return c.jsonRequest(ctx, http.MethodPut, path, accessToken, map[string]any{
		"reference": reference,
	}, nil, idem)
}

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, accessToken, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
