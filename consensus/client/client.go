package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"lumenchain/core/types"
)

// Mode selects how long the consensus engine holds the submission before
// answering: fire-and-forget, after mempool admission, or after inclusion in
// a committed block.
type Mode string

const (
	ModeAsync  Mode = "async"
	ModeSync   Mode = "sync"
	ModeCommit Mode = "commit"
)

func (m Mode) valid() bool {
	switch m {
	case ModeAsync, ModeSync, ModeCommit:
		return true
	}
	return false
}

// Forwarder hands locally submitted transactions to the consensus engine's
// mempool. Implementations do not retry; the caller owns retry policy.
type Forwarder interface {
	Forward(ctx context.Context, tx *types.Transaction, mode Mode) error
}

// HTTP forwards transactions over the consensus engine's JSON-RPC endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewHTTP builds a forwarder against the given RPC endpoint. A nil client
// falls back to a short-timeout default; a nil limiter disables client-side
// rate limiting.
func NewHTTP(endpoint string, httpClient *http.Client, limiter *rate.Limiter, logger *slog.Logger) *HTTP {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		endpoint: endpoint,
		client:   httpClient,
		limiter:  limiter,
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Tx string `json:"tx"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type rpcResponse struct {
	Error *rpcError `json:"error"`
}

// Forward encodes the transaction and posts a broadcast_tx_<mode> request.
// Transport failures, non-2xx statuses and JSON-RPC error objects all surface
// as errors; the transaction may or may not have been admitted in the
// transport-failure case.
func (h *HTTP) Forward(ctx context.Context, tx *types.Transaction, mode Mode) error {
	if tx == nil {
		return fmt.Errorf("forward: nil transaction")
	}
	if !mode.valid() {
		return fmt.Errorf("forward: unknown mode %q", mode)
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("forward: rate limit: %w", err)
		}
	}

	encoded, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("forward: encode transaction: %w", err)
	}
	id := uuid.NewString()
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "broadcast_tx_" + string(mode),
		Params:  rpcParams{Tx: base64.StdEncoding.EncodeToString(encoded)},
	})
	if err != nil {
		return fmt.Errorf("forward: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("forward: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("forward: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("forward: rpc status %d", resp.StatusCode)
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("forward: decode response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("forward: rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	h.logger.Debug("transaction forwarded", "mode", string(mode), "request_id", id)
	return nil
}

// Nop is the forwarder for single-validator and test deployments where the
// node hosts its own mempool: every submission succeeds without leaving the
// process.
type Nop struct{}

func (Nop) Forward(context.Context, *types.Transaction, Mode) error { return nil }
