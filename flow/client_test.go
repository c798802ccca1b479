package flow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBlockID = "7bc42fe85d32ca513769a74f97f7e1a7bad6c9407f0d934c2aa645ef9cf613c7"
	testTxID    = "663869d910278d7b6caf2b1e8a5a4d2a3d5c0a0c4b7d1a8bbd2d0e6b5ef9e3f1"
)

type fakeAccessNode struct {
	*httptest.Server
	requests atomic.Int64
	flaky    atomic.Int64
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeAccessNode(t *testing.T) *fakeAccessNode {
	t.Helper()
	node := &fakeAccessNode{}
	header := func(height string) map[string]any {
		return map[string]any{"header": map[string]any{
			"id":        testBlockID,
			"parent_id": strings.Repeat("0", 64),
			"height":    height,
			"timestamp": "2025-01-01T00:00:00Z",
		}}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/blocks", func(w http.ResponseWriter, r *http.Request) {
		height := r.URL.Query().Get("height")
		switch height {
		case "sealed":
			writeFakeJSON(w, http.StatusOK, []any{header("100")})
		case "999999999":
			writeFakeJSON(w, http.StatusOK, []any{})
		default:
			writeFakeJSON(w, http.StatusOK, []any{header(height)})
		}
	})
	mux.HandleFunc("GET /v1/blocks/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != testBlockID {
			writeFakeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "message": "block not found"})
			return
		}
		writeFakeJSON(w, http.StatusOK, []any{header("77")})
	})
	mux.HandleFunc("GET /v1/accounts/{address}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("address") != "0xf8d6e0586b0a20c7" {
			writeFakeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "message": "account not found"})
			return
		}
		writeFakeJSON(w, http.StatusOK, map[string]any{
			"address": "0xf8d6e0586b0a20c7",
			"balance": "1050000000",
			"keys": []any{map[string]any{
				"index": "0", "public_key": "0xabc", "signing_algorithm": "ECDSA_P256",
				"hashing_algorithm": "SHA3_256", "sequence_number": "4", "weight": "1000", "revoked": false,
			}},
			"contracts": map[string]any{"FlowToken": "cHViIGNvbnRyYWN0", "FungibleToken": "cHViIGNvbnRyYWN0"},
		})
	})
	mux.HandleFunc("GET /v1/transaction_results/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeFakeJSON(w, http.StatusOK, map[string]any{
			"block_id":      testBlockID,
			"execution":     "Success",
			"status":        "Sealed",
			"status_code":   0,
			"error_message": "",
			"events": []any{map[string]any{
				"type": "A.1654653399040a61.FlowToken.TokensWithdrawn", "transaction_id": r.PathValue("id"),
				"transaction_index": "0", "event_index": "0", "payload": "e30=",
			}},
		})
	})
	mux.HandleFunc("GET /v1/flaky", func(w http.ResponseWriter, r *http.Request) {
		if node.flaky.Add(1) < 3 {
			writeFakeJSON(w, http.StatusServiceUnavailable, map[string]any{"code": 503, "message": "overloaded"})
			return
		}
		writeFakeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	node.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		node.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(node.Close)
	return node
}

func newTestClient(t *testing.T, node *fakeAccessNode) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{AccessNode: node.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.ErrorContains(t, err, "access node is required")

	_, err = NewClient(ClientConfig{AccessNode: "http://"})
	assert.ErrorContains(t, err, "no host")

	client, err := NewClient(ClientConfig{AccessNode: "rest-testnet.onflow.org/"})
	require.NoError(t, err)
	assert.Equal(t, "https://rest-testnet.onflow.org", client.AccessNode())
}

func TestClient_Blocks(t *testing.T) {
	client := newTestClient(t, newFakeAccessNode(t))
	ctx := context.Background()

	latest, err := client.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", latest.Header.Height)
	assert.Equal(t, testBlockID, latest.Header.ID)
	assert.Equal(t, 2025, latest.Header.Timestamp.Year())

	byHeight, err := client.BlockByHeight(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "42", byHeight.Header.Height)

	byID, err := client.BlockByID(ctx, testBlockID)
	require.NoError(t, err)
	assert.Equal(t, "77", byID.Header.Height)

	_, err = client.BlockByHeight(ctx, 999999999)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClient_Account(t *testing.T) {
	client := newTestClient(t, newFakeAccessNode(t))

	account, err := client.Account(context.Background(), "0xf8d6e0586b0a20c7")
	require.NoError(t, err)
	assert.Equal(t, "1050000000", account.Balance)
	require.Len(t, account.Keys, 1)
	assert.Equal(t, "ECDSA_P256", account.Keys[0].SigningAlgorithm)
	assert.Len(t, account.Contracts, 2)
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	node := newFakeAccessNode(t)
	client := newTestClient(t, node)

	_, err := client.Account(context.Background(), "0x0000000000000001")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "account not found", apiErr.Message)
	assert.Equal(t, int64(1), node.requests.Load())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	node := newFakeAccessNode(t)
	client := newTestClient(t, node)

	var out map[string]bool
	require.NoError(t, client.get(context.Background(), "/v1/flaky", nil, &out))

	assert.True(t, out["ok"])
	assert.Equal(t, int64(3), node.flaky.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	node := newFakeAccessNode(t)
	client, err := NewClient(ClientConfig{AccessNode: node.URL, Retries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	err = client.get(context.Background(), "/v1/flaky", nil, &map[string]bool{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, int64(2), node.flaky.Load())
}

func TestClient_CanceledContext(t *testing.T) {
	client := newTestClient(t, newFakeAccessNode(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.LatestBlock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad height", errorMessage(400, []byte(`{"code":400,"message":"bad height"}`)))
	assert.Equal(t, "plain text", errorMessage(502, []byte(" plain text ")))
	assert.Equal(t, "Bad Gateway", errorMessage(502, nil))
}

func TestFormatUFix64(t *testing.T) {
	tests := map[string]string{
		"0":                    "0.00000000",
		"1":                    "0.00000001",
		"1050000000":           "10.50000000",
		"18446744073709551615": "184467440737.09551615",
	}
	for raw, want := range tests {
		got, err := FormatUFix64(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := FormatUFix64("-1")
	assert.Error(t, err)
}
