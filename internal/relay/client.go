// Package relay submits bundles to a Flashbots-style private relay and tracks
// each target block as an explicit future.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Signer produces the X-Flashbots-Signature header for a body.
type Signer interface {
	FlashbotsSignature(body []byte) (string, error)
}

// Client talks JSON-RPC to one relay endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	signer     Signer
	limiter    domain.RateLimiter
	rateKey    string
	logger     *slog.Logger
}

// NewClient creates a relay client. limiter may be nil.
func NewClient(url string, signer Signer, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		signer:     signer,
		limiter:    limiter,
		rateKey:    "relay:" + url,
		logger:     logger.With(slog.String("component", "relay_client")),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type bundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

// SendBundle submits txs for inclusion in exactly block and returns the
// relay's bundle hash.
func (c *Client) SendBundle(ctx context.Context, txs []*types.Transaction, block uint64) (string, error) {
	raw := make([]string, 0, len(txs))
	for _, tx := range txs {
		b, err := tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("relay: encode tx %s: %w", tx.Hash().Hex(), err)
		}
		raw = append(raw, hexutil.Encode(b))
	}

	var res struct {
		BundleHash string `json:"bundleHash"`
	}
	err := c.call(ctx, "eth_sendBundle", []any{bundleParams{Txs: raw, BlockNumber: hexutil.EncodeUint64(block)}}, &res)
	if err != nil {
		return "", err
	}
	return res.BundleHash, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.rateKey); err != nil {
			return fmt.Errorf("relay: throttle: %w", err)
		}
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %w", method, err)
	}
	sig, err := c.signer.FlashbotsSignature(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relay: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return fmt.Errorf("relay: %s: %w", method, err)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(respBody, &rpc); err != nil {
		return fmt.Errorf("relay: decode %s response: %w", method, err)
	}
	if rpc.Error != nil {
		return fmt.Errorf("relay: %s: rpc error %d: %s", method, rpc.Error.Code, rpc.Error.Message)
	}
	if out != nil && len(rpc.Result) > 0 {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return fmt.Errorf("relay: decode %s result: %w", method, err)
		}
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}
