package orderstate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localpepas/orderlink/internal/broker/messages"
)

type fakeCache struct {
	m map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{m: map[string][]byte{}} }

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}
func (c *fakeCache) Delete(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

var errTest = errors.New("sink down")

type fakeRecorder struct {
	msgs []messages.OrderEventRecorded
	err  error
}

func (r *fakeRecorder) Record(ctx context.Context, msg messages.OrderEventRecorded) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestService_HandleMessage_AppliesAndRecords(t *testing.T) {
	rec := &fakeRecorder{}
	svc := New(NewStore(0), nil, 0).WithRecorder(rec)

	svc.HandleMessage(context.Background(), []byte(`{"event":"pedido.aceptado","data":{"pedidoId":"SP001","estado":"ACEPTADO"}}`))

	_, ok := svc.Store().Order("SP001")
	require.True(t, ok)
	require.Len(t, rec.msgs, 1)
	require.Equal(t, "pedido.aceptado", rec.msgs[0].Name)
	require.Equal(t, "SP001", rec.msgs[0].OrderID)
	require.NotEmpty(t, rec.msgs[0].EventID)
}

func TestService_HandleMessage_DropsBadFrames(t *testing.T) {
	svc := New(NewStore(0), nil, 0)
	ctx := context.Background()

	svc.HandleMessage(ctx, []byte(`{not json`))
	svc.HandleMessage(ctx, []byte(`{"event":"pedido.coordenadas","data":{"latitud":1,"longitud":2}}`))

	require.Empty(t, svc.Store().Orders())
	require.Empty(t, svc.Store().Events(0))
}

func TestService_HandleMessage_RecorderErrorAbsorbed(t *testing.T) {
	rec := &fakeRecorder{err: errTest}
	svc := New(NewStore(0), nil, 0).WithRecorder(rec)

	svc.HandleMessage(context.Background(), []byte(`{"event":"pedido.aceptado","data":{"pedidoId":"SP001"}}`))
	_, ok := svc.Store().Order("SP001")
	require.True(t, ok, "sink failure must not lose live state")
}

func TestService_OrderView_CacheRoundTrip(t *testing.T) {
	c := newFakeCache()
	svc := New(NewStore(0), c, time.Minute)
	ctx := context.Background()

	svc.HandleMessage(ctx, []byte(`{"event":"pedido.aceptado","data":{"pedidoId":"SP001"}}`))

	v, ok := svc.OrderView(ctx, "SP001")
	require.True(t, ok)
	require.Equal(t, "Pedido Aceptado", v.StatusLabel)

	// Второй вызов идет из кэша.
	b, ok := c.m["pedido:SP001:view"]
	require.True(t, ok)
	var cached OrderView
	require.NoError(t, json.Unmarshal(b, &cached))
	require.Equal(t, v.StatusLabel, cached.StatusLabel)

	v2, ok := svc.OrderView(ctx, "SP001")
	require.True(t, ok)
	require.Equal(t, v, v2)
}

func TestService_OrderView_InvalidatedOnApply(t *testing.T) {
	c := newFakeCache()
	svc := New(NewStore(0), c, time.Minute)
	ctx := context.Background()

	svc.HandleMessage(ctx, []byte(`{"event":"pedido.aceptado","data":{"pedidoId":"SP001"}}`))
	_, ok := svc.OrderView(ctx, "SP001")
	require.True(t, ok)

	svc.HandleMessage(ctx, []byte(`{"event":"pedido.en_camino","data":{"pedidoId":"SP001"}}`))
	_, cached := c.m["pedido:SP001:view"]
	require.False(t, cached, "apply must invalidate the cached view")

	v, ok := svc.OrderView(ctx, "SP001")
	require.True(t, ok)
	require.Equal(t, "En Camino", v.StatusLabel)
}

func TestService_OrderView_Unknown(t *testing.T) {
	svc := New(NewStore(0), nil, 0)
	_, ok := svc.OrderView(context.Background(), "nope")
	require.False(t, ok)
}
