package walletrpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func jsonRPCResult(t *testing.T, w http.ResponseWriter, id uint64, result any) {
	t.Helper()
	resp := rpcResponse{JSONRPC: "2.0", ID: id}
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	resp.Result = raw
	_ = json.NewEncoder(w).Encode(resp)
}

func TestGetVersionSucceeds(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		jsonRPCResult(t, w, req.ID, VersionInfo{Version: 3})
	})

	c := New(Config{EndpointURL: srv.URL})
	v, err := c.GetVersion(t.Context())
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.Version != 3 {
		t.Errorf("Version = %d, want 3", v.Version)
	}
}

func TestCallClassifiesAlreadyMultisigError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -1, Message: "Wallet is already multisig"}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	c := New(Config{EndpointURL: srv.URL})
	_, err := c.PrepareMultisig(t.Context())
	if escrowerr.KindOf(err) != escrowerr.RpcAlreadyMultisig {
		t.Fatalf("KindOf(err) = %v, want RpcAlreadyMultisig", escrowerr.KindOf(err))
	}
}

func TestCallWithRetryRetriesOnBusyThenSucceeds(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		jsonRPCResult(t, w, req.ID, Balance{Balance: 100, UnlockedBalance: 90})
	})

	c := New(Config{
		EndpointURL: srv.URL,
		Retry: RetryPolicy{
			MaxAttempts:  5,
			BaseInterval: time.Millisecond,
			MaxInterval:  5 * time.Millisecond,
			Multiplier:   2.0,
		},
	})

	bal, err := c.GetBalance(t.Context())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Balance != 100 {
		t.Errorf("Balance = %d, want 100", bal.Balance)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestCallWithRetryDoesNotRetryValidationError(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		attempts++
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "Invalid destination address"}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	c := New(Config{EndpointURL: srv.URL})
	_, err := c.TransferMultisig(t.Context(), []TransferDestination{{Address: "x", Amount: 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on validation error)", attempts)
	}
}
