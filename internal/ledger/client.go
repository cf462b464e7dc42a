// Package ledger implements the HTTP client for the external ledger
// collaborator that actually moves funds once an auction clears: Push
// credits an address, Pull debits one. The clearing engine never touches
// a balance directly — it only describes who owes what, and this package
// is where that description becomes a network call.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/holiman/uint256"
)

// transferRequest is the wire body for both /push and /pull.
type transferRequest struct {
	Asset  string `json:"asset"`
	Party  string `json:"party"`
	Amount string `json:"amount"`
}

// transferResponse is the wire body returned by the ledger collaborator.
type transferResponse struct {
	Success bool   `json:"success"`
	TxRef   string `json:"txRef"`
}

// Client is the ledger collaborator REST client: a resty HTTP client with
// per-verb rate limiting, retry on 5xx, and a dry-run mode for demos and
// integration tests.
type Client struct {
	http   *resty.Client
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// New creates a ledger client pointed at baseURL.
func New(baseURL string, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger,
	}
}

// Push credits amount of asset to the given address.
func (c *Client) Push(ctx context.Context, asset, to common.Address, amount *uint256.Int) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would push", "asset", asset.Hex(), "to", to.Hex(), "amount", amount.String())
		return nil
	}
	if err := c.rl.Push.Wait(ctx); err != nil {
		return err
	}
	return c.transfer(ctx, "/push", asset, to, amount)
}

// Pull debits amount of asset from the given address.
func (c *Client) Pull(ctx context.Context, asset, from common.Address, amount *uint256.Int) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would pull", "asset", asset.Hex(), "from", from.Hex(), "amount", amount.String())
		return nil
	}
	if err := c.rl.Pull.Wait(ctx); err != nil {
		return err
	}
	return c.transfer(ctx, "/pull", asset, from, amount)
}

func (c *Client) transfer(ctx context.Context, path string, asset, party common.Address, amount *uint256.Int) error {
	body := transferRequest{Asset: asset.Hex(), Party: party.Hex(), Amount: amount.String()}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal ledger request: %w", err)
	}

	var result transferResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post(path)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ledger %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return fmt.Errorf("ledger %s: collaborator reported failure", path)
	}

	c.logger.Info("ledger transfer settled", "path", path, "asset", asset.Hex(), "party", party.Hex(), "amount", amount.String(), "tx", result.TxRef)
	return nil
}
