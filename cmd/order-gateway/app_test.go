package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localpepas/orderlink/internal/auth"
	"github.com/localpepas/orderlink/internal/broker/messages"
	"github.com/localpepas/orderlink/internal/integrations/backendhttp"
	"github.com/localpepas/orderlink/internal/services/orderstate"
	"github.com/localpepas/orderlink/internal/socket"
)

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: map[string][]byte{}} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}
func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func newTestDeps() (gatewayDeps, *orderstate.Service) {
	svc := orderstate.New(orderstate.NewStore(0), nil, 0)
	tokens := auth.NewTokenStore(newMemCache())
	mgr := socket.New(tokens, "ws://127.0.0.1:1/ws", svc.HandleMessage)
	return gatewayDeps{svc: svc, mgr: mgr, tokens: tokens}, svc
}

func TestGateway_Healthz(t *testing.T) {
	deps, _ := newTestDeps()
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestGateway_OrdersPartition(t *testing.T) {
	deps, svc := newTestDeps()
	ctx := context.Background()
	svc.HandleMessage(ctx, []byte(`{"event":"pedido.aceptado","data":{"pedidoId":"SP001"}}`))
	svc.HandleMessage(ctx, []byte(`{"event":"pedido.entregado","data":{"pedidoId":"SP002"}}`))

	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Active    []orderstate.OrderView `json:"active"`
		Completed []orderstate.OrderView `json:"completed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Active, 1)
	require.Equal(t, "SP001", out.Active[0].OrderID)
	require.Len(t, out.Completed, 1)
	require.Equal(t, "SP002", out.Completed[0].OrderID)
}

func TestGateway_OrderView(t *testing.T) {
	deps, svc := newTestDeps()
	svc.HandleMessage(context.Background(), []byte(`{"event":"pedido.en_camino","data":{"pedidoId":"SP001"}}`))

	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/SP001/view")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var v orderstate.OrderView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.Equal(t, "En Camino", v.StatusLabel)
	require.Equal(t, "10-20", v.ETAMinutes)

	resp, err = http.Get(srv.URL + "/orders/nope/view")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 404, resp.StatusCode)
}

func TestGateway_Wallet(t *testing.T) {
	deps, svc := newTestDeps()
	svc.HandleMessage(context.Background(),
		[]byte(`{"topic":"get.balances.response","data":{"currentFiatBalance":1500,"currentCryptoBalance":0.5}}`))

	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/wallet")
	require.NoError(t, err)
	defer resp.Body.Close()

	var w struct {
		Fiat   float64 `json:"saldoPesos"`
		Crypto float64 `json:"saldoCrypto"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&w))
	require.Equal(t, 1500.0, w.Fiat)
	require.Equal(t, 0.5, w.Crypto)
}

func TestGateway_SendNotConnected(t *testing.T) {
	deps, _ := newTestDeps()
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(`{"type":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGateway_ReconnectWithoutSession(t *testing.T) {
	deps, _ := newTestDeps()
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/connection/reconnect", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_SessionStoreAndClear(t *testing.T) {
	deps, _ := newTestDeps()
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/session", "application/json", strings.NewReader(`{"token":"tok123"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	tok, ok := deps.tokens.Token(context.Background())
	require.True(t, ok)
	require.Equal(t, "tok123", tok)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/session", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	_, ok = deps.tokens.Token(context.Background())
	require.False(t, ok)
}

func TestGateway_LoginStoresToken(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-login"})
	}))
	defer backendSrv.Close()

	deps, _ := newTestDeps()
	deps.backend = backendhttp.New(backendSrv.URL, deps.tokens)
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/login", "application/json",
		strings.NewReader(`{"email":"a@b.c","password":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	tok, ok := deps.tokens.Token(context.Background())
	require.True(t, ok)
	require.Equal(t, "tok-login", tok)
}

func TestGateway_LoginWithoutBackend(t *testing.T) {
	deps, _ := newTestDeps()
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/login", "application/json",
		strings.NewReader(`{"email":"a@b.c","password":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type fakeArchive struct {
	mu      sync.Mutex
	orderID string
	limit   int
	offset  int
	out     []messages.OrderEventRecorded
}

func (f *fakeArchive) ListOrderEvents(ctx context.Context, orderID string, limit, offset int) ([]messages.OrderEventRecorded, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderID, f.limit, f.offset = orderID, limit, offset
	return f.out, nil
}

func TestGateway_OrderEventsFromArchive(t *testing.T) {
	arc := &fakeArchive{out: []messages.OrderEventRecorded{
		{EventID: "e2", Name: "pedido.en_camino", OrderID: "SP001"},
		{EventID: "e1", Name: "pedido.aceptado", OrderID: "SP001"},
	}}
	deps, _ := newTestDeps()
	deps.archive = arc
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/SP001/events?limit=2&offset=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var out []messages.OrderEventRecorded
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	require.Equal(t, "e2", out[0].EventID)

	arc.mu.Lock()
	require.Equal(t, "SP001", arc.orderID)
	require.Equal(t, 2, arc.limit)
	require.Equal(t, 1, arc.offset)
	arc.mu.Unlock()
}

func TestGateway_OrderEventsEmptyIsArray(t *testing.T) {
	deps, _ := newTestDeps()
	deps.archive = &fakeArchive{}
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/SP404/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.Equal(t, "[]", strings.TrimSpace(string(raw)))
}

func TestGateway_OrderEventsWithoutArchive(t *testing.T) {
	deps, _ := newTestDeps()
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders/SP001/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_OrdersEmptyAreArrays(t *testing.T) {
	deps, _ := newTestDeps()
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Active    json.RawMessage `json:"active"`
		Completed json.RawMessage `json:"completed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "[]", string(out.Active))
	require.Equal(t, "[]", string(out.Completed))
}

func TestGateway_EventsLimit(t *testing.T) {
	deps, svc := newTestDeps()
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		svc.HandleMessage(ctx, []byte(`{"event":"pedido.aceptado","data":{"pedidoId":"`+id+`"}}`))
	}

	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []orderstate.LogEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
}
