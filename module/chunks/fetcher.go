package chunks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/nightshard/shardnode/config"
	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module"
)

// retryDelay is the pause before asking the next peer.
const retryDelay = 50 * time.Millisecond

// PartConsumer receives the parts the fetcher retrieved.
type PartConsumer func(ctx context.Context, part *flow.ChunkPart)

// Fetcher retrieves missing chunk parts from peers. Each chunk is fetched by
// one task on a bounded worker pool; a failed or incomplete request is
// retried against the next peer until all requested parts arrived, the retry
// budget is exhausted or the fetch is cancelled.
type Fetcher struct {
	log       zerolog.Logger
	metrics   module.FetcherMetrics
	requester module.PartRequester
	consume   PartConsumer
	timeout   time.Duration
	retries   uint64
	pool      *workerpool.WorkerPool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[flow.Identifier]*inflightFetch
}

type inflightFetch struct {
	cancel context.CancelFunc
}

func NewFetcher(
	log zerolog.Logger,
	cfg config.ProtocolConfig,
	metrics module.FetcherMetrics,
	requester module.PartRequester,
	consume PartConsumer,
) *Fetcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Fetcher{
		log:       log.With().Str("component", "part_fetcher").Logger(),
		metrics:   metrics,
		requester: requester,
		consume:   consume,
		timeout:   cfg.PartRequestTimeout,
		retries:   cfg.PartRequestRetries,
		pool:      workerpool.New(int(cfg.PartRequestWorkers)),
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[flow.Identifier]*inflightFetch),
	}
}

// Fetch schedules the retrieval of the given part indices of the chunk,
// asking the peers in turn. Fetching a chunk that is already being fetched
// is a no-op.
func (f *Fetcher) Fetch(chunkID flow.Identifier, peers []flow.AccountID, indices []uint32) {
	if len(peers) == 0 || len(indices) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inflight[chunkID]; ok || f.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(f.ctx)
	task := &inflightFetch{cancel: cancel}
	f.inflight[chunkID] = task
	f.metrics.InflightFetches(len(f.inflight))

	peers = append([]flow.AccountID(nil), peers...)
	remaining := append([]uint32(nil), indices...)
	f.pool.Submit(func() {
		defer f.done(chunkID, task)
		err := f.fetch(ctx, chunkID, peers, remaining)
		if err != nil && !errors.Is(err, context.Canceled) {
			f.log.Warn().Err(err).
				Hex("chunk_id", chunkID[:]).
				Msg("could not fetch chunk parts")
		}
	})
}

func (f *Fetcher) fetch(ctx context.Context, chunkID flow.Identifier, peers []flow.AccountID, remaining []uint32) error {
	backoff := retry.WithMaxRetries(f.retries, retry.NewConstant(retryDelay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		peer := peers[attempt%len(peers)]
		attempt++

		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		start := time.Now()
		parts, err := f.requester.RequestParts(reqCtx, peer, chunkID, remaining)
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.metrics.PartRequestCompleted(err == nil, time.Since(start))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("request to %s failed: %w", peer, err))
		}

		wanted := make(map[uint32]struct{}, len(remaining))
		for _, index := range remaining {
			wanted[index] = struct{}{}
		}
		for _, part := range parts {
			if part == nil || part.ChunkID != chunkID {
				continue
			}
			if _, ok := wanted[part.Index]; !ok {
				continue
			}
			delete(wanted, part.Index)
			f.consume(ctx, part)
		}

		next := make([]uint32, 0, len(wanted))
		for _, index := range remaining {
			if _, ok := wanted[index]; ok {
				next = append(next, index)
			}
		}
		remaining = next
		if len(remaining) > 0 {
			return retry.RetryableError(fmt.Errorf("%d parts still missing after request to %s", len(remaining), peer))
		}
		return nil
	})
}

func (f *Fetcher) done(chunkID flow.Identifier, task *inflightFetch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.cancel()
	if f.inflight[chunkID] == task {
		delete(f.inflight, chunkID)
	}
	f.metrics.InflightFetches(len(f.inflight))
}

// Cancel stops fetching the chunk, e.g. because it was resolved or superseded.
func (f *Fetcher) Cancel(chunkID flow.Identifier) {
	f.mu.Lock()
	task, ok := f.inflight[chunkID]
	if ok {
		delete(f.inflight, chunkID)
	}
	f.mu.Unlock()
	if ok {
		task.cancel()
		f.metrics.FetchCancelled()
	}
}

// Inflight returns the number of chunks currently being fetched.
func (f *Fetcher) Inflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inflight)
}

// Stop cancels all fetches and waits for the workers to exit.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	f.cancel()
	f.mu.Unlock()
	f.pool.StopWait()
}
