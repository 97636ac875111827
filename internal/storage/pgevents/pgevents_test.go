package pgevents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/localpepas/orderlink/internal/broker/messages"
)

func TestPGEvents_ArchiveFlow(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "orderlink_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/orderlink_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	now := time.Now().UTC().Truncate(time.Millisecond)
	msg := messages.OrderEventRecorded{
		EventID:    uuid.NewString(),
		Name:       "pedido.aceptado",
		OrderID:    "SP001",
		ReceivedAt: now,
		Payload:    json.RawMessage(`{"event":"pedido.aceptado","data":{"pedidoId":"SP001"}}`),
	}
	require.NoError(t, st.Record(ctx, msg))

	// Повтор той же записи не создает дубликата.
	require.NoError(t, st.Record(ctx, msg))

	other := messages.OrderEventRecorded{
		EventID:    uuid.NewString(),
		Name:       "pedido.en_camino",
		OrderID:    "SP001",
		ReceivedAt: now.Add(time.Minute),
	}
	require.NoError(t, st.Record(ctx, other))

	evs, err := st.ListOrderEvents(ctx, "SP001", 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, other.EventID, evs[0].EventID, "most recent first")
	require.Equal(t, msg.EventID, evs[1].EventID)
	require.JSONEq(t, string(msg.Payload), string(evs[1].Payload))

	evs, err = st.ListOrderEvents(ctx, "nope", 10, 0)
	require.NoError(t, err)
	require.Empty(t, evs)
}
