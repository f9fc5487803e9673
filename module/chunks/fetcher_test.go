package chunks_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/chunks"
	"github.com/nightshard/shardnode/module/metrics"
	modulemock "github.com/nightshard/shardnode/module/mock"
	"github.com/nightshard/shardnode/utils/unittest"
)

// partCollector records the parts delivered by a fetcher.
type partCollector struct {
	mu    sync.Mutex
	parts map[uint32]*flow.ChunkPart
	done  chan struct{}
	want  int
}

func newPartCollector(want int) *partCollector {
	return &partCollector{parts: make(map[uint32]*flow.ChunkPart), done: make(chan struct{}), want: want}
}

func (c *partCollector) consume(_ context.Context, part *flow.ChunkPart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts[part.Index] = part
	if len(c.parts) == c.want {
		close(c.done)
	}
}

func fetcherConfig() config.ProtocolConfig {
	return unittest.ProtocolConfigFixture(func(c *config.ProtocolConfig) {
		c.PartRequestTimeout = 100 * time.Millisecond
		c.PartRequestRetries = 3
		c.PartRequestWorkers = 2
	})
}

func partsFor(chunkID flow.Identifier, indices ...uint32) []*flow.ChunkPart {
	parts := make([]*flow.ChunkPart, 0, len(indices))
	for _, index := range indices {
		parts = append(parts, &flow.ChunkPart{ChunkID: chunkID, Index: index, Data: unittest.RandomBytes(8)})
	}
	return parts
}

// TestFetchRotatesPeers verifies that a failed request is retried against the
// next peer and that only the still missing parts are requested again.
func TestFetchRotatesPeers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	chunkID := unittest.IdentifierFixture()
	peers := []flow.AccountID{unittest.AccountFixture(0), unittest.AccountFixture(1), unittest.AccountFixture(2)}

	requester := modulemock.NewPartRequester(t)
	requester.On("RequestParts", mock.Anything, peers[0], chunkID, []uint32{0, 1, 2, 3}).
		Return(nil, errors.New("unreachable")).Once()
	requester.On("RequestParts", mock.Anything, peers[1], chunkID, []uint32{0, 1, 2, 3}).
		Return(partsFor(chunkID, 1, 3), nil).Once()
	requester.On("RequestParts", mock.Anything, peers[2], chunkID, []uint32{0, 2}).
		Return(partsFor(chunkID, 0, 2), nil).Once()

	collector := newPartCollector(4)
	fetcher := chunks.NewFetcher(unittest.Logger(), fetcherConfig(), metrics.NewNoopCollector(), requester, collector.consume)
	defer fetcher.Stop()

	fetcher.Fetch(chunkID, peers, []uint32{0, 1, 2, 3})
	unittest.RequireCloseBefore(t, collector.done, time.Second, "parts not fetched")
	require.Eventually(t, func() bool { return fetcher.Inflight() == 0 }, time.Second, 10*time.Millisecond)
}

// TestFetchTimeout verifies that a peer not answering within the request
// timeout is abandoned for the next one.
func TestFetchTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	chunkID := unittest.IdentifierFixture()
	peers := []flow.AccountID{unittest.AccountFixture(0), unittest.AccountFixture(1)}

	requester := modulemock.NewPartRequester(t)
	requester.On("RequestParts", mock.Anything, peers[0], chunkID, []uint32{5}).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()
	requester.On("RequestParts", mock.Anything, peers[1], chunkID, []uint32{5}).
		Return(partsFor(chunkID, 5), nil).Once()

	collector := newPartCollector(1)
	fetcher := chunks.NewFetcher(unittest.Logger(), fetcherConfig(), metrics.NewNoopCollector(), requester, collector.consume)
	defer fetcher.Stop()

	fetcher.Fetch(chunkID, peers, []uint32{5})
	unittest.RequireCloseBefore(t, collector.done, time.Second, "part not fetched")
}

// TestFetchCancel verifies that cancelling a fetch aborts the pending request.
func TestFetchCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	chunkID := unittest.IdentifierFixture()
	peer := unittest.AccountFixture(0)

	started := make(chan struct{})
	aborted := make(chan struct{})
	requester := modulemock.NewPartRequester(t)
	requester.On("RequestParts", mock.Anything, peer, chunkID, []uint32{0}).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
			close(aborted)
		}).
		Return(nil, context.Canceled).Once()

	cfg := fetcherConfig()
	cfg.PartRequestTimeout = time.Minute
	fetcher := chunks.NewFetcher(unittest.Logger(), cfg, metrics.NewNoopCollector(), requester, newPartCollector(1).consume)
	defer fetcher.Stop()

	fetcher.Fetch(chunkID, []flow.AccountID{peer}, []uint32{0})
	unittest.RequireCloseBefore(t, started, time.Second, "request not started")
	assert.Equal(t, 1, fetcher.Inflight())

	fetcher.Cancel(chunkID)
	unittest.RequireCloseBefore(t, aborted, time.Second, "request not aborted")
	assert.Equal(t, 0, fetcher.Inflight())
}

// TestFetchGivesUp verifies that a fetch stops after the retry budget.
func TestFetchGivesUp(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	chunkID := unittest.IdentifierFixture()
	peer := unittest.AccountFixture(0)

	requester := modulemock.NewPartRequester(t)
	requester.On("RequestParts", mock.Anything, peer, chunkID, []uint32{0}).
		Return(nil, errors.New("unavailable")).Times(4)

	fetcher := chunks.NewFetcher(unittest.Logger(), fetcherConfig(), metrics.NewNoopCollector(), requester, newPartCollector(1).consume)
	fetcher.Fetch(chunkID, []flow.AccountID{peer}, []uint32{0})
	require.Eventually(t, func() bool { return fetcher.Inflight() == 0 }, 2*time.Second, 10*time.Millisecond)
	fetcher.Stop()

	// fetching after stop is ignored
	fetcher.Fetch(chunkID, []flow.AccountID{peer}, []uint32{0})
	assert.Equal(t, 0, fetcher.Inflight())
}
