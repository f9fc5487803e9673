package engine_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshard/shardnode/engine"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/utils/unittest"
)

type messageA struct {
	n int
}

type messageB struct {
	n int
}

type messageC struct {
	s string
}

// testEngine buffers two message kinds in separate queues and records them
// in the order its single worker handles them.
type testEngine struct {
	handler *engine.MessageHandler
	queueA  *engine.FifoMessageStore
	queueB  *engine.FifoMessageStore
	quit    chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	messages []interface{}
}

func newTestEngine(t *testing.T, capacity int) *testEngine {
	queueA, err := engine.NewFifoMessageStore(capacity)
	require.NoError(t, err)
	queueB, err := engine.NewFifoMessageStore(capacity)
	require.NoError(t, err)

	e := &testEngine{
		queueA: queueA,
		queueB: queueB,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.handler = engine.NewMessageHandler(unittest.Logger(), engine.NewNotifier(),
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*messageA)
				return ok
			},
			Store: queueA,
		},
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*messageB)
				return ok
			},
			Map: func(msg *engine.Message) *engine.Message {
				return &engine.Message{
					OriginID: msg.OriginID,
					Payload:  &messageC{s: fmt.Sprintf("c-%d", msg.Payload.(*messageB).n)},
				}
			},
			Store: queueB,
		},
	)
	go e.loop()
	t.Cleanup(func() {
		close(e.quit)
		<-e.done
	})
	return e
}

func (e *testEngine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case <-e.handler.GetNotifier():
			for {
				msg, ok := e.queueA.Get()
				if !ok {
					msg, ok = e.queueB.Get()
				}
				if !ok {
					break
				}
				e.mu.Lock()
				e.messages = append(e.messages, msg.Payload)
				e.mu.Unlock()
			}
		}
	}
}

func (e *testEngine) handled() []interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]interface{}(nil), e.messages...)
}

func TestProcessMessageSameType(t *testing.T) {
	eng := newTestEngine(t, 10)
	messages := []*messageA{{n: 1}, {n: 2}, {n: 3}, {n: 4}}
	for i, m := range messages {
		require.True(t, eng.handler.Process(unittest.AccountFixture(i%2), m))
	}

	require.Eventually(t, func() bool { return len(eng.handled()) == 4 }, 2*time.Second, 10*time.Millisecond)
	for i, m := range messages {
		assert.Equal(t, m, eng.handled()[i])
	}
}

func TestProcessMessageDifferentType(t *testing.T) {
	eng := newTestEngine(t, 10)
	require.True(t, eng.handler.Process("a", &messageB{n: 3}))
	require.True(t, eng.handler.Process("b", &messageB{n: 4}))

	require.Eventually(t, func() bool { return len(eng.handled()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []interface{}{&messageC{s: "c-3"}, &messageC{s: "c-4"}}, eng.handled())
}

func TestProcessMessageMultiConcurrent(t *testing.T) {
	eng := newTestEngine(t, 200)
	count := 100
	var sent sync.WaitGroup
	for i := 0; i < count; i++ {
		sent.Add(1)
		go func(i int) {
			defer sent.Done()
			assert.True(t, eng.handler.Process(flow.AccountID(fmt.Sprintf("origin-%d", i)), &messageA{n: i}))
		}(i)
	}
	sent.Wait()

	require.Eventually(t, func() bool { return len(eng.handled()) == count }, 2*time.Second, 10*time.Millisecond)
}

func TestUnknownMessageType(t *testing.T) {
	eng := newTestEngine(t, 10)
	assert.False(t, eng.handler.Process("a", struct{ n int }{n: 10}))
}

func TestFullQueueDropsMessages(t *testing.T) {
	queue, err := engine.NewFifoMessageStore(1)
	require.NoError(t, err)
	handler := engine.NewMessageHandler(unittest.Logger(), engine.NewNotifier(), engine.Pattern{
		Match: func(*engine.Message) bool { return true },
		Store: queue,
	})

	assert.True(t, handler.Process("a", &messageA{n: 1}))
	assert.False(t, handler.Process("a", &messageA{n: 2}))
	msg, ok := queue.Get()
	require.True(t, ok)
	assert.Equal(t, &messageA{n: 1}, msg.Payload)
}
