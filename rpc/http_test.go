package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"tiersale/core"
	"tiersale/native/sale"
	"tiersale/native/tier"
	"tiersale/storage"
)

const testToken = "rpc-test-token"

var (
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	sellerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	buyerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	payToken    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	saleToken   = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	tiersAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func newTestNode(t *testing.T, now int64) *core.Node {
	t.Helper()
	db := storage.NewMemDB()
	node := core.NewNode(db, custodyAddr)
	node.SetTierOracle(tier.NewOracle(db))
	node.SetNowFunc(func() int64 { return now })
	_, err := node.InitSale(&sale.Config{
		Owner:         ownerAddr,
		TierContract:  tiersAddr,
		TokenContract: payToken,
		MaxPayments:   []*uint256.Int{uint256.NewInt(0), uint256.NewInt(100), uint256.NewInt(500)},
		LockPeriods:   []uint64{0, 100, 50},
	})
	require.NoError(t, err)
	return node
}

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.AuthToken == "" {
		cfg.AuthToken = testToken
	}
	return NewServer(newTestNode(t, 1_000), cfg, nil)
}

func call(t *testing.T, srv *Server, method string, params interface{}, token string) (*httptest.ResponseRecorder, rpcReply) {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 7, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.5:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	return rec, reply
}

func mustResult(t *testing.T, reply rpcReply, out interface{}) {
	t.Helper()
	require.Nil(t, reply.Error, "unexpected error: %+v", reply.Error)
	require.NoError(t, json.Unmarshal(reply.Result, out))
}

func TestHealthAndRequestID(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)

	fixed := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, fixed)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, fixed, rec.Header().Get(requestIDHeader))
}

func TestEnvelopeErrors(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Equal(t, codeParseError, reply.Error.Code)

	rec, reply = call(t, srv, "sale_nope", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeMethodNotFound, reply.Error.Code)
	require.JSONEq(t, "7", string(reply.ID))

	// faucet methods are hidden unless enabled
	_, reply = call(t, srv, "faucet_mint", map[string]string{}, testToken)
	require.Equal(t, codeMethodNotFound, reply.Error.Code)

	_, reply = call(t, srv, "sale_get", map[string]interface{}{"saleId": 0, "extra": true}, "")
	require.Equal(t, codeInvalidParams, reply.Error.Code)
}

func TestMutationsRequireBearerToken(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	params := map[string]interface{}{"caller": ownerAddr.Hex(), "paused": true}

	rec, reply := call(t, srv, "sale_setPaused", params, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, codeUnauthorized, reply.Error.Code)

	_, reply = call(t, srv, "sale_setPaused", params, "wrong")
	require.Equal(t, codeUnauthorized, reply.Error.Code)

	_, reply = call(t, srv, "sale_setPaused", params, testToken)
	require.Nil(t, reply.Error)

	var cfg configJSON
	_, reply = call(t, srv, "sale_config", nil, "")
	mustResult(t, reply, &cfg)
	require.True(t, cfg.Paused)
	require.Equal(t, []string{"0", "100", "500"}, cfg.MaxPayments)
}

func TestSaleFlowOverRPC(t *testing.T) {
	srv := newTestServer(t, ServerConfig{EnableFaucet: true})

	for _, p := range []map[string]interface{}{
		{"token": saleToken.Hex(), "to": sellerAddr.Hex(), "amount": "1000"},
		{"token": payToken.Hex(), "to": buyerAddr.Hex(), "amount": "1000"},
	} {
		_, reply := call(t, srv, "faucet_mint", p, testToken)
		require.Nil(t, reply.Error)
	}
	_, reply := call(t, srv, "faucet_setTier", map[string]interface{}{"address": buyerAddr.Hex(), "tier": 1}, testToken)
	require.Nil(t, reply.Error)
	for _, p := range []map[string]interface{}{
		{"caller": sellerAddr.Hex(), "token": saleToken.Hex(), "amount": "1000"},
		{"caller": buyerAddr.Hex(), "token": payToken.Hex(), "amount": "1000"},
	} {
		_, reply = call(t, srv, "token_approve", p, testToken)
		require.Nil(t, reply.Error)
	}

	var started saleStartResult
	_, reply = call(t, srv, "sale_start", map[string]interface{}{
		"caller":        sellerAddr.Hex(),
		"startTime":     900,
		"endTime":       2_000,
		"tokenContract": saleToken.Hex(),
		"price":         "2",
		"totalAmount":   "400",
		"whitelist":     []string{buyerAddr.Hex()},
	}, testToken)
	mustResult(t, reply, &started)
	require.Equal(t, uint32(0), started.SaleID)
	require.Equal(t, uint32(1), started.WhitelistSize)
	require.Len(t, started.Transfers, 1)
	require.Equal(t, custodyAddr.Hex(), started.Transfers[0].To)

	// tier 1 caps payment at 100, so at most 50 tokens
	rec, reply := call(t, srv, "sale_buy", map[string]interface{}{"caller": buyerAddr.Hex(), "saleId": 0, "amount": "60"}, testToken)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, codeSaleCapacity, reply.Error.Code)
	data, ok := reply.Error.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "50", data["ceiling"])

	var bought saleBuyResult
	_, reply = call(t, srv, "sale_buy", map[string]interface{}{"caller": buyerAddr.Hex(), "saleId": 0, "amount": "50"}, testToken)
	mustResult(t, reply, &bought)
	require.Equal(t, uint8(1), bought.Tier)
	require.Equal(t, "100", bought.Payment)
	require.Equal(t, uint64(1_100), bought.UnlockTime)

	var info saleJSON
	_, reply = call(t, srv, "sale_get", map[string]interface{}{"saleId": 0}, "")
	mustResult(t, reply, &info)
	require.Equal(t, "active", info.Status)
	require.Equal(t, "50", info.SoldAmount)
	require.Equal(t, uint64(1), info.Participants)

	var purchases pageJSON[purchaseJSON]
	_, reply = call(t, srv, "sale_purchases", map[string]interface{}{"investor": buyerAddr.Hex(), "saleId": 0}, "")
	mustResult(t, reply, &purchases)
	require.Equal(t, uint32(1), purchases.Total)
	require.Equal(t, "50", purchases.Items[0].TokensAmount)

	var balance tokenBalanceResult
	_, reply = call(t, srv, "token_balance", map[string]interface{}{"token": payToken.Hex(), "holder": sellerAddr.Hex()}, "")
	mustResult(t, reply, &balance)
	require.Equal(t, "100", balance.Balance)

	var holders pageJSON[string]
	_, reply = call(t, srv, "token_holders", map[string]interface{}{"token": payToken.Hex()}, "")
	mustResult(t, reply, &holders)
	require.Equal(t, uint32(2), holders.Total)
	require.Equal(t, []string{buyerAddr.Hex(), sellerAddr.Hex()}, holders.Items)

	// nothing unlocked yet at t=1000
	var claimed saleClaimResult
	_, reply = call(t, srv, "sale_claim", map[string]interface{}{"caller": buyerAddr.Hex(), "saleId": 0}, testToken)
	mustResult(t, reply, &claimed)
	require.Equal(t, "0", claimed.Amount)
	require.Empty(t, claimed.Transfers)

	rec, reply = call(t, srv, "sale_withdraw", map[string]interface{}{"caller": sellerAddr.Hex(), "saleId": 0}, testToken)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, codeSaleConflict, reply.Error.Code)

	rec, reply = call(t, srv, "sale_get", map[string]interface{}{"saleId": 9}, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeSaleNotFound, reply.Error.Code)
}

func TestRateLimitPerSource(t *testing.T) {
	srv := newTestServer(t, ServerConfig{RateLimitPerSecond: 0.001, RateBurst: 1})

	_, reply := call(t, srv, "sale_count", nil, "")
	require.Nil(t, reply.Error)

	rec, reply := call(t, srv, "sale_count", nil, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, codeRateLimited, reply.Error.Code)
}

func TestClientSourceHonoursTrustedProxies(t *testing.T) {
	srv := NewServer(nil, ServerConfig{TrustedProxies: []string{"10.0.0.1"}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	require.Equal(t, "10.0.0.5", srv.clientSource(req))

	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", srv.clientSource(req))
}

func TestNilNodeIsUnavailable(t *testing.T) {
	srv := NewServer(nil, ServerConfig{}, nil)
	rec, reply := call(t, srv, "sale_count", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, codeServerError, reply.Error.Code)
}

func TestRequestsAreTraced(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	srv := newTestServer(t, ServerConfig{TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))})

	_, reply := call(t, srv, "sale_count", nil, "")
	require.Nil(t, reply.Error)
	_, reply = call(t, srv, "sale_get", map[string]interface{}{"saleId": 3}, "")
	require.Equal(t, codeSaleNotFound, reply.Error.Code)

	ended := spans.Ended()
	require.Len(t, ended, 2)
	for _, span := range ended {
		require.Equal(t, "POST /", span.Name())
		require.Contains(t, span.Attributes(), attribute.String("rpc.system", "jsonrpc"))
	}
	require.Contains(t, ended[0].Attributes(), attribute.String("rpc.method", "sale_count"))
	require.Contains(t, ended[1].Attributes(), attribute.String("rpc.method", "sale_get"))
	require.Contains(t, ended[1].Attributes(), attribute.Int("rpc.jsonrpc.error_code", codeSaleNotFound))
}
