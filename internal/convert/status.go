package convert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtm0/zarrcube/internal/pool"
	"github.com/rtm0/zarrcube/internal/zarr"
)

// Status is the live state of a run, safe for concurrent use.
type Status struct {
	mu          sync.Mutex
	dataset     string
	stage       Stage
	blocksTotal int
	start       time.Time
	// progress counts written blocks once the write stage started.
	progress *pool.Progress

	chunks atomic.Int64
	bytes  atomic.Int64
}

// Snapshot is a point-in-time copy of a Status.
type Snapshot struct {
	Dataset     string  `json:"dataset"`
	Stage       Stage   `json:"stage"`
	BlocksDone  int     `json:"blocks_done"`
	BlocksTotal int     `json:"blocks_total"`
	Chunks      int64   `json:"chunks_written"`
	Bytes       int64   `json:"bytes_written"`
	Elapsed     float64 `json:"elapsed_seconds"`
	// Writing is the time spent in the write stage so far.
	Writing float64 `json:"write_seconds"`
}

// NewStatus returns an idle status.
func NewStatus() *Status {
	return &Status{stage: StageIdle, start: time.Now()}
}

func (s *Status) begin(dataset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataset = dataset
	s.blocksTotal = 0
	s.start = time.Now()
	s.progress = nil
	s.chunks.Store(0)
	s.bytes.Store(0)
}

func (s *Status) setStage(st Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = st
}

func (s *Status) setBlocks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocksTotal = n
}

func (s *Status) setProgress(p *pool.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

// Snapshot returns the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Dataset:     s.dataset,
		Stage:       s.stage,
		BlocksTotal: s.blocksTotal,
		Chunks:      s.chunks.Load(),
		Bytes:       s.bytes.Load(),
		Elapsed:     time.Since(s.start).Seconds(),
	}
	if s.progress != nil {
		snap.BlocksDone = s.progress.Done()
		snap.BlocksTotal = s.progress.Total()
		snap.Writing = s.progress.Elapsed().Seconds()
	}
	return snap
}

// countingStore counts the objects and bytes put into a store.
type countingStore struct {
	zarr.Store
	status *Status
}

func (c countingStore) Put(ctx context.Context, key string, data []byte) error {
	if err := c.Store.Put(ctx, key, data); err != nil {
		return err
	}
	c.status.chunks.Add(1)
	c.status.bytes.Add(int64(len(data)))
	return nil
}
