package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := New(context.Background(), srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	probe := Ping(client)
	require.NoError(t, probe(context.Background()))

	srv.Close()
	require.Error(t, probe(context.Background()))
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := New(context.Background(), addr)
	require.Error(t, err)
}

func TestPingWithoutClient(t *testing.T) {
	require.Error(t, Ping(nil)(context.Background()))
}

func TestQueueOpt(t *testing.T) {
	require.Equal(t, "127.0.0.1:6379", QueueOpt("127.0.0.1:6379").Addr)
}
