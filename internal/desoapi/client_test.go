package desoapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloutfeed/go-backend/internal/platform/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	t        *testing.T
	mu       sync.Mutex
	requests map[string][]map[string]any
	handlers map[string]func(body map[string]any) (int, any)
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	n := &fakeNode{
		t:        t,
		requests: make(map[string][]map[string]any),
		handlers: make(map[string]func(map[string]any) (int, any)),
	}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) on(endpoint string, h func(body map[string]any) (int, any)) {
	n.handlers["/api/v0/"+endpoint] = h
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	assert.Equal(n.t, http.MethodPost, r.Method)
	assert.Equal(n.t, "application/json", r.Header.Get("Content-Type"))
	var body map[string]any
	if !assert.NoError(n.t, json.NewDecoder(r.Body).Decode(&body)) {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.requests[r.URL.Path] = append(n.requests[r.URL.Path], body)
	h, ok := n.handlers[r.URL.Path]
	n.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	code, resp := h(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) last(endpoint string) map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	reqs := n.requests["/api/v0/"+endpoint]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func TestGetUsersStatelessAndBalance(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("get-users-stateless", func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{
			"UserList": []map[string]any{
				{"PublicKeyBase58Check": "BC1owner", "BalanceNanos": 12345, "ProfileEntryResponse": map[string]any{"Username": "alice"}},
			},
		}
	})
	c := New(srv.URL + "/")
	ctx := context.Background()

	users, err := c.GetUsersStateless(ctx, "BC1owner")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "alice", users[0].ProfileEntryResponse.Username)
	require.Equal(t, []any{"BC1owner"}, node.last("get-users-stateless")["PublicKeysBase58Check"])

	balance, err := c.Balance(ctx, "BC1owner")
	require.NoError(t, err)
	require.EqualValues(t, 12345, balance)

	balance, err = c.Balance(ctx, "BC1other")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestTransactionEndpoints(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("send-deso", func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"TransactionHex": "aa00"}
	})
	node.on("authorize-derived-key", func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"TransactionHex": "bb00"}
	})
	node.on("append-extra-data", func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"TransactionHex": "cc00"}
	})
	node.on("submit-transaction", func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"TxnHashHex": "deadbeef"}
	})
	c := New(srv.URL)
	ctx := context.Background()

	tx, err := c.SendDeSo(ctx, "BC1fund", "BC1owner", 1000, 1500)
	require.NoError(t, err)
	require.Equal(t, "aa00", tx)
	require.EqualValues(t, 1000, node.last("send-deso")["AmountNanos"])

	tx, err = c.AuthorizeDerivedKey(ctx, AuthorizeDerivedKeyRequest{
		OwnerPublicKeyBase58Check:   "BC1owner",
		DerivedPublicKeyBase58Check: "BC1derived",
		ExpirationBlock:             99,
		AccessSignature:             "3045",
		DeleteKey:                   true,
	})
	require.NoError(t, err)
	require.Equal(t, "bb00", tx)
	req := node.last("authorize-derived-key")
	require.Equal(t, true, req["DeleteKey"])
	require.EqualValues(t, 99, req["ExpirationBlock"])
	require.NotContains(t, req, "TransactionSpendingLimitHex")

	tx, err = c.AppendExtraData(ctx, "bb00", "02abcdef")
	require.NoError(t, err)
	require.Equal(t, "cc00", tx)
	require.Equal(t, map[string]any{DerivedPublicKeyExtraKey: "02abcdef"}, node.last("append-extra-data")["ExtraData"])

	hash, err := c.SubmitTransaction(ctx, "cc00ff")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", hash)
}

func TestGetUsersDerivedKeys(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("get-user-derived-keys", func(body map[string]any) (int, any) {
		if body["PublicKeyBase58Check"] != "BC1owner" {
			return http.StatusOK, map[string]any{}
		}
		return http.StatusOK, map[string]any{
			"DerivedKeys": map[string]any{
				"BC1derived": map[string]any{"IsValid": true, "ExpirationBlock": 500},
			},
		}
	})
	c := New(srv.URL)
	ctx := context.Background()

	keys, err := c.GetUsersDerivedKeys(ctx, "BC1owner")
	require.NoError(t, err)
	require.True(t, keys["BC1derived"].IsValid)

	keys, err = c.GetUsersDerivedKeys(ctx, "BC1nobody")
	require.NoError(t, err)
	require.NotNil(t, keys)
	require.Empty(t, keys)
}

func TestStatusErrorAndMetrics(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("submit-transaction", func(map[string]any) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": "bad signature"}
	})
	node.on("append-extra-data", func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{}
	})
	m := metrics.New()
	c := New(srv.URL, WithMetrics(m))
	ctx := context.Background()

	_, err := c.SubmitTransaction(ctx, "00")
	require.ErrorIs(t, err, ErrStatus)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadRequest, statusErr.Code)
	require.Contains(t, statusErr.Body, "bad signature")
	require.Equal(t, float64(1), testutil.ToFloat64(m.APIRequests.WithLabelValues("submit-transaction", "error")))

	_, err = c.AppendExtraData(ctx, "00", "02ab")
	require.ErrorIs(t, err, ErrEmptyTransaction)
}

func TestRateLimitHonoursContext(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("submit-transaction", func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"TxnHashHex": "ok"}
	})
	c := New(srv.URL, WithRateLimit(0.001, 1))

	_, err := c.SubmitTransaction(context.Background(), "00")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.SubmitTransaction(ctx, "00")
	require.Error(t, err)
}
