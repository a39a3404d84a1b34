package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsWs/internal/modules/realtime/application/port"
	"eventsWs/internal/platform/broker"
	"eventsWs/internal/platform/broker/brokertest"
)

func noopHandler(port.Delivery) {}

func TestBridgeEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := brokertest.NewConnection()
	bridge := broker.NewBridge(conn)

	ch1, err := bridge.EnsureChannel(ctx, "s1")
	require.NoError(t, err)
	ch2, err := bridge.EnsureChannel(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, ch1, ch2)

	q1, err := bridge.EnsureQueue(ctx, "s1")
	require.NoError(t, err)
	q2, err := bridge.EnsureQueue(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, q1, q2)
	assert.NotEmpty(t, q1)

	tag1, err := bridge.RegisterConsumer(ctx, "s1", noopHandler)
	require.NoError(t, err)
	tag2, err := bridge.RegisterConsumer(ctx, "s1", noopHandler)
	require.NoError(t, err)
	assert.Equal(t, tag1, tag2)

	require.Len(t, conn.Channels(), 1)
	ch := conn.Last()
	assert.Len(t, ch.Exchanges(), 1)
	assert.Len(t, ch.Queues(), 1)
	assert.Len(t, ch.Consumers(), 1)
	assert.Equal(t, 1, bridge.Sessions())
}

func TestBridgeDeclaresLiteralFlags(t *testing.T) {
	conn := brokertest.NewConnection()
	bridge := broker.NewBridge(conn)

	_, err := bridge.RegisterConsumer(context.Background(), "s1", noopHandler)
	require.NoError(t, err)

	ch := conn.Last()
	assert.Equal(t, []brokertest.ExchangeDecl{{Name: "events", Kind: "topic", Durable: false, AutoDelete: true}}, ch.Exchanges())
	assert.Equal(t, []brokertest.QueueDecl{{Name: "", Durable: true, AutoDelete: true, Exclusive: true}}, ch.Queues())
}

func TestBridgeSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	conn := brokertest.NewConnection()
	bridge := broker.NewBridge(conn)

	q1, err := bridge.EnsureQueue(ctx, "s1")
	require.NoError(t, err)
	q2, err := bridge.EnsureQueue(ctx, "s2")
	require.NoError(t, err)
	assert.NotEqual(t, q1, q2)
	assert.Len(t, conn.Channels(), 2)

	bridge.Teardown("s1")
	assert.Equal(t, 1, bridge.Sessions())
	assert.True(t, conn.Channels()[0].Closed())
	assert.False(t, conn.Channels()[1].Closed())
}

func TestBridgeConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	conn := brokertest.NewConnection()
	bridge := broker.NewBridge(conn)

	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := bridge.RegisterConsumer(ctx, id, noopHandler)
			assert.NoError(t, err)
			assert.NoError(t, bridge.Subscribe(ctx, id, "projects."+id))
		}(id)
	}
	wg.Wait()

	assert.Equal(t, len(ids), bridge.Sessions())
	assert.Len(t, conn.Channels(), len(ids))
}

func TestBridgeSubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	conn := brokertest.NewConnection()
	bridge := broker.NewBridge(conn)

	_, err := bridge.RegisterConsumer(ctx, "s1", noopHandler)
	require.NoError(t, err)

	require.NoError(t, bridge.Subscribe(ctx, "s1", "projects.1"))
	require.NoError(t, bridge.Subscribe(ctx, "s1", "projects.2.#"))
	ch := conn.Last()
	assert.True(t, ch.HasBinding("projects.1"))
	assert.True(t, ch.HasBinding("projects.2.#"))

	require.NoError(t, bridge.Unsubscribe(ctx, "s1", "projects.1"))
	assert.False(t, ch.HasBinding("projects.1"))
	assert.True(t, ch.HasBinding("projects.2.#"))
}

func TestBridgeSubscribeWithoutQueue(t *testing.T) {
	bridge := broker.NewBridge(brokertest.NewConnection())

	err := bridge.Subscribe(context.Background(), "missing", "projects.1")
	assert.ErrorIs(t, err, broker.ErrNoQueue)

	_, err = bridge.EnsureChannel(context.Background(), "chan-only")
	require.NoError(t, err)
	err = bridge.Unsubscribe(context.Background(), "chan-only", "projects.1")
	assert.ErrorIs(t, err, broker.ErrNoQueue)
}

func TestBridgeBindFailureKeepsResources(t *testing.T) {
	ctx := context.Background()
	bindErr := errors.New("bind refused")
	conn := brokertest.NewConnection()
	conn.Configure = func(ch *brokertest.Channel) { ch.FailBind = bindErr }
	bridge := broker.NewBridge(conn)

	_, err := bridge.RegisterConsumer(ctx, "s1", noopHandler)
	require.NoError(t, err)

	err = bridge.Subscribe(ctx, "s1", "projects.1")
	assert.ErrorIs(t, err, bindErr)
	assert.Equal(t, 1, bridge.Sessions())
}

func TestBridgeBindChannelExceptionResets(t *testing.T) {
	ctx := context.Background()
	conn := brokertest.NewConnection()
	conn.Configure = func(ch *brokertest.Channel) {
		ch.FailBind = errors.New("NOT_FOUND")
		ch.CloseOnFailure = true
	}
	bridge := broker.NewBridge(conn)

	_, err := bridge.RegisterConsumer(ctx, "s1", noopHandler)
	require.NoError(t, err)

	err = bridge.Subscribe(ctx, "s1", "projects.1")
	assert.ErrorIs(t, err, port.ErrResourcesLost)
	assert.Equal(t, 0, bridge.Sessions())

	// The next registration rebuilds the full tuple on a fresh channel.
	conn.Configure = nil
	_, err = bridge.RegisterConsumer(ctx, "s1", noopHandler)
	require.NoError(t, err)
	assert.Len(t, conn.Channels(), 2)
}

func TestBridgeConstructionFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(*brokertest.Channel){
		"exchange": func(ch *brokertest.Channel) { ch.FailExchange = errors.New("boom") },
		"queue":    func(ch *brokertest.Channel) { ch.FailQueue = errors.New("boom") },
		"consume":  func(ch *brokertest.Channel) { ch.FailConsume = errors.New("boom") },
	}
	for name, configure := range cases {
		t.Run(name, func(t *testing.T) {
			conn := brokertest.NewConnection()
			conn.Configure = configure
			bridge := broker.NewBridge(conn)

			_, err := bridge.RegisterConsumer(ctx, "s1", noopHandler)
			require.Error(t, err)
			assert.Equal(t, 0, bridge.Sessions())
			assert.True(t, conn.Last().Closed())
		})
	}
}

func TestBridgeChannelFailure(t *testing.T) {
	conn := brokertest.NewConnection()
	conn.FailChannel = errors.New("connection blocked")
	bridge := broker.NewBridge(conn)

	_, err := bridge.EnsureChannel(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, 0, bridge.Sessions())
}

func TestBridgeTeardown(t *testing.T) {
	ctx := context.Background()
	conn := brokertest.NewConnection()
	bridge := broker.NewBridge(conn)

	// Never acquired anything.
	bridge.Teardown("ghost")

	_, err := bridge.RegisterConsumer(ctx, "s1", noopHandler)
	require.NoError(t, err)
	bridge.Teardown("s1")
	bridge.Teardown("s1")

	ch := conn.Last()
	assert.True(t, ch.Closed())
	assert.Equal(t, 1, ch.CloseCalls())
	assert.Equal(t, 0, bridge.Sessions())
	assert.ErrorIs(t, bridge.Subscribe(ctx, "s1", "projects.1"), broker.ErrNoQueue)
}

func TestBridgeForwardsDeliveries(t *testing.T) {
	conn := brokertest.NewConnection()
	bridge := broker.NewBridge(conn)

	received := make(chan port.Delivery, 1)
	_, err := bridge.RegisterConsumer(context.Background(), "s1", func(d port.Delivery) {
		received <- d
	})
	require.NoError(t, err)

	require.True(t, conn.Last().Deliver("projects.1", []byte(`{"a":1}`)))

	select {
	case d := <-received:
		assert.Equal(t, "projects.1", d.RoutingKey)
		assert.JSONEq(t, `{"a":1}`, string(d.Body))
	case <-time.After(time.Second):
		t.Fatal("delivery not forwarded")
	}
}

func TestBridgeHonoursCancelledContext(t *testing.T) {
	conn := brokertest.NewConnection()
	bridge := broker.NewBridge(conn)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bridge.RegisterConsumer(ctx, "s1", noopHandler)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, conn.Channels())
}
