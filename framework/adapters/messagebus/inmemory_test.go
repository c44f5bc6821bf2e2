package messagebus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/sagaflow/framework/transport"
)

func TestInMemoryAdapterLifecycle(t *testing.T) {
	adapter := NewInMemoryAdapter(DefaultInMemoryConfig())
	ctx := context.Background()

	assert.False(t, adapter.IsRunning())
	require.NoError(t, adapter.Start(ctx))
	assert.True(t, adapter.IsRunning())
	require.NoError(t, adapter.Stop(ctx))
	assert.False(t, adapter.IsRunning())
}

func TestInMemoryPublishSubscribe(t *testing.T) {
	adapter := NewInMemoryAdapter(InMemoryConfig{EnableOrdering: true})
	ctx := context.Background()
	require.NoError(t, adapter.Start(ctx))

	var mu sync.Mutex
	var received []*transport.Message
	err := adapter.Subscribe(ctx, "orders.created", func(ctx context.Context, msg *transport.Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, adapter.Publish(ctx, "orders.created", []byte(`{"id":"1"}`), map[string]string{"k": "v"}))
	require.NoError(t, adapter.Publish(ctx, "orders.deleted", []byte(`{"id":"2"}`), nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "orders.created", received[0].Subject)
	assert.JSONEq(t, `{"id":"1"}`, string(received[0].Data))
	assert.Equal(t, "v", received[0].Headers["k"])
}

func TestInMemoryWildcardSubscription(t *testing.T) {
	adapter := NewInMemoryAdapter(InMemoryConfig{EnableOrdering: true})
	ctx := context.Background()
	require.NoError(t, adapter.Start(ctx))

	var subjects []string
	err := adapter.Subscribe(ctx, "saga.*.action_result", func(ctx context.Context, msg *transport.Message) error {
		subjects = append(subjects, msg.Subject)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, adapter.Publish(ctx, "saga.abc.action_result", []byte(`{}`), nil))
	require.NoError(t, adapter.Publish(ctx, "saga.def.action_result", []byte(`{}`), nil))
	require.NoError(t, adapter.Publish(ctx, "saga.abc.compensation_result", []byte(`{}`), nil))

	assert.Equal(t, []string{"saga.abc.action_result", "saga.def.action_result"}, subjects)
}

func TestInMemoryUnsubscribe(t *testing.T) {
	adapter := NewInMemoryAdapter(InMemoryConfig{EnableOrdering: true})
	ctx := context.Background()
	require.NoError(t, adapter.Start(ctx))

	delivered := 0
	require.NoError(t, adapter.Subscribe(ctx, "events", func(ctx context.Context, msg *transport.Message) error {
		delivered++
		return nil
	}))
	assert.Equal(t, 1, adapter.GetSubscriberCount("events"))

	require.NoError(t, adapter.Unsubscribe("events"))
	require.NoError(t, adapter.Publish(ctx, "events", []byte(`{}`), nil))
	assert.Zero(t, delivered)
	assert.Zero(t, adapter.GetSubscriberCount("events"))
}

func TestMatchSubject(t *testing.T) {
	cases := []struct {
		subject string
		pattern string
		want    bool
	}{
		{"saga.abc.action_result", "saga.*.action_result", true},
		{"saga.abc.compensation_result", "saga.*.action_result", false},
		{"saga.abc.action_result", "saga.abc.action_result", true},
		{"saga_events.abc.completed", "saga_events.>", true},
		{"saga.abc", "saga.*.action_result", false},
		{"saga.abc.extra.action_result", "saga.*.action_result", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchSubject(tc.subject, tc.pattern),
			"subject %s pattern %s", tc.subject, tc.pattern)
	}
}

func TestFactory(t *testing.T) {
	factory := NewFactory()

	bus, err := factory.Create("inmemory", nil)
	require.NoError(t, err)
	assert.NotNil(t, bus)

	_, err = factory.Create("unknown", nil)
	assert.Error(t, err)

	err = factory.Register("inmemory", func(config interface{}) (transport.MessageBus, error) {
		return nil, nil
	})
	assert.Error(t, err, "duplicate registration must fail")

	assert.Contains(t, factory.ListRegistered(), "nats")
	assert.Contains(t, factory.ListRegistered(), "kafka")
	assert.Contains(t, factory.ListRegistered(), "redis")
}
