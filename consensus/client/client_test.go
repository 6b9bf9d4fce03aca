package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"lumenchain/core/types"
)

func sampleTx() *types.Transaction {
	return &types.Transaction{
		ChainID: 1,
		Type:    types.TxTypeTransfer,
		Nonce:   3,
		To:      make([]byte, 20),
		Value:   big.NewInt(10),
	}
}

func TestForwardPostsJSONRPCEnvelope(t *testing.T) {
	var captured rpcRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"jsonrpc":"2.0","result":{}}`))
	}))
	defer server.Close()

	fw := NewHTTP(server.URL, server.Client(), nil, nil)
	if err := fw.Forward(context.Background(), sampleTx(), ModeSync); err != nil {
		t.Fatalf("forward: %v", err)
	}

	if captured.JSONRPC != "2.0" {
		t.Fatalf("jsonrpc version = %q", captured.JSONRPC)
	}
	if captured.Method != "broadcast_tx_sync" {
		t.Fatalf("method = %q, want broadcast_tx_sync", captured.Method)
	}
	if captured.ID == "" {
		t.Fatalf("request id missing")
	}
	raw, err := base64.StdEncoding.DecodeString(captured.Params.Tx)
	if err != nil {
		t.Fatalf("params.tx not base64: %v", err)
	}
	var decoded types.Transaction
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("params.tx not a transaction: %v", err)
	}
	if decoded.Nonce != 3 {
		t.Fatalf("transaction nonce = %d, want 3", decoded.Nonce)
	}
}

func TestForwardModeSelectsMethod(t *testing.T) {
	var method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &req)
		method = req.Method
		w.Write([]byte(`{"jsonrpc":"2.0","result":{}}`))
	}))
	defer server.Close()

	fw := NewHTTP(server.URL, server.Client(), nil, nil)
	for mode, want := range map[Mode]string{
		ModeAsync:  "broadcast_tx_async",
		ModeSync:   "broadcast_tx_sync",
		ModeCommit: "broadcast_tx_commit",
	} {
		if err := fw.Forward(context.Background(), sampleTx(), mode); err != nil {
			t.Fatalf("forward %s: %v", mode, err)
		}
		if method != want {
			t.Fatalf("mode %s produced method %q, want %q", mode, method, want)
		}
	}
}

func TestForwardSurfacesRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"mempool full"}}`))
	}))
	defer server.Close()

	fw := NewHTTP(server.URL, server.Client(), nil, nil)
	err := fw.Forward(context.Background(), sampleTx(), ModeAsync)
	if err == nil {
		t.Fatalf("expected error from rpc error object")
	}
}

func TestForwardRejectsUnknownMode(t *testing.T) {
	fw := NewHTTP("http://127.0.0.1:0", nil, nil, nil)
	if err := fw.Forward(context.Background(), sampleTx(), Mode("turbo")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestNopForwarderAlwaysSucceeds(t *testing.T) {
	var fw Forwarder = Nop{}
	for _, mode := range []Mode{ModeAsync, ModeSync, ModeCommit} {
		if err := fw.Forward(context.Background(), sampleTx(), mode); err != nil {
			t.Fatalf("nop forward %s: %v", mode, err)
		}
	}
}
