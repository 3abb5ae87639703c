// Package walletrpc is a typed client for the wallet-control-plane JSON-RPC
// interface exposed by each participant's wallet daemon (buyer, vendor,
// arbiter), used to drive multisig setup and signing without the
// coordinator ever holding private key material.
package walletrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
)

// Client talks JSON-RPC 2.0 to one wallet daemon endpoint.
type Client struct {
	endpointURL string
	username    string
	password    string
	httpClient  *http.Client
	requestID   atomic.Uint64
	retry       RetryPolicy
}

// Config describes how to reach and authenticate against a wallet daemon.
type Config struct {
	EndpointURL string
	Username    string
	Password    string
	Timeout     time.Duration
	Retry       RetryPolicy
}

// New creates a Client for one wallet daemon endpoint.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Client{
		endpointURL: cfg.EndpointURL,
		username:    cfg.Username,
		password:    cfg.Password,
		httpClient:  &http.Client{Timeout: timeout},
		retry:       retry,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call performs one JSON-RPC request-response round trip with no retry.
// Retry, when desired, is layered on top by callWithRetry.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.requestID.Add(1)

	reqBody := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return escrowerr.Wrap(escrowerr.Internal, "marshal wallet-rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(data))
	if err != nil {
		return escrowerr.Wrap(escrowerr.Internal, "build wallet-rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return escrowerr.Wrap(escrowerr.RpcUnreachable, fmt.Sprintf("wallet-rpc %s unreachable", method), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return escrowerr.Wrap(escrowerr.RpcUnreachable, "read wallet-rpc response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return escrowerr.New(escrowerr.RpcBusy, fmt.Sprintf("wallet-rpc %s returned %d", method, resp.StatusCode))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return escrowerr.Wrap(escrowerr.RpcUnreachable, "parse wallet-rpc response", err)
	}

	if rpcResp.Error != nil {
		return classifyRPCError(method, rpcResp.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return escrowerr.Wrap(escrowerr.Internal, "decode wallet-rpc result", err)
	}
	return nil
}

// classifyRPCError maps a wallet daemon's numeric/message error shape onto
// the coordinator's error taxonomy so callers branch on escrowerr.Kind
// rather than daemon-specific strings.
func classifyRPCError(method string, e *rpcError) error {
	msg := fmt.Sprintf("wallet-rpc %s: %s", method, e.Message)
	lower := strings.ToLower(e.Message)
	switch {
	case strings.Contains(lower, "already multisig"):
		return escrowerr.New(escrowerr.RpcAlreadyMultisig, msg)
	case strings.Contains(lower, "not multisig") || strings.Contains(lower, "not a multisig"):
		return escrowerr.New(escrowerr.RpcNotMultisig, msg)
	case strings.Contains(lower, "wallet is busy") || strings.Contains(lower, "daemon is busy"):
		return escrowerr.New(escrowerr.RpcBusy, msg)
	case strings.Contains(lower, "is locked"):
		return escrowerr.New(escrowerr.RpcLocked, msg)
	case e.Code == -32602 || strings.Contains(lower, "invalid"):
		return escrowerr.New(escrowerr.RpcValidation, msg)
	default:
		return escrowerr.New(escrowerr.RpcValidation, msg)
	}
}

// callWithRetry retries transient failures (RpcUnreachable, RpcBusy,
// RpcLocked) per the configured RetryPolicy. Non-retryable errors
// (validation, already-multisig, not-multisig) return immediately.
func (c *Client) callWithRetry(ctx context.Context, method string, params any, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		lastErr = c.call(ctx, method, params, out)
		if lastErr == nil {
			return nil
		}
		if !escrowerr.IsRetryable(lastErr) {
			return lastErr
		}
		wait := c.retry.backoffFor(attempt)
		select {
		case <-ctx.Done():
			return escrowerr.Wrap(escrowerr.Timeout, "wallet-rpc retry interrupted", ctx.Err())
		case <-time.After(wait):
		}
	}
	return lastErr
}
