// Package bridge hands captured blocks from the capture callback to the
// playback callback, where they are denoised.
//
// The two callbacks run on independent backend threads. Blocks are exchanged
// through a lock-free triple buffer: the producer always owns one buffer, the
// consumer always owns another, and the third is swapped atomically between
// them. Capture never blocks and the newest complete block always wins;
// playback never sees a block that is still being written.
package bridge

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyguts/streamclean/internal/fabada"
	"github.com/rustyguts/streamclean/internal/level"
)

const (
	// freshBit marks the shared slot as holding a block playback has not
	// taken yet.
	freshBit = 1 << 2
	idxMask  = freshBit - 1
)

// Processor denoises one block into out.
type Processor interface {
	Process(block, out []int16) (fabada.BlockStats, error)
}

// Config describes the stream the bridge serves.
type Config struct {
	Channels    int
	SampleRate  float64
	BlockFrames int
}

// BlockLen returns the number of interleaved samples per block.
func (c Config) BlockLen() int {
	return c.Channels * c.BlockFrames
}

// Deadline returns the playback time covered by one block.
func (c Config) Deadline() time.Duration {
	return time.Duration(float64(c.BlockFrames) / c.SampleRate * float64(time.Second))
}

// Stats is a snapshot of the bridge counters.
type Stats struct {
	Captured       uint64  `json:"captured"`
	Dropped        uint64  `json:"dropped"`
	Malformed      uint64  `json:"malformed"`
	Processed      uint64  `json:"processed"`
	Replayed       uint64  `json:"replayed"`
	Silenced       uint64  `json:"silenced"`
	DeadlineMisses uint64  `json:"deadline_misses"`
	Repaired       uint64  `json:"repaired_samples"`
	CappedRuns     uint64  `json:"capped_runs"`
	LastIterations int64   `json:"last_iterations"`
	LastElapsedMS  float64 `json:"last_elapsed_ms"`
	DeadlineMS     float64 `json:"deadline_ms"`
	InputDBFS      float64 `json:"input_dbfs"`
	OutputDBFS     float64 `json:"output_dbfs"`
}

// Bridge connects one capture stream to one playback stream. OnCapture must
// only be called from a single producer and OnPlayback from a single
// consumer; the two may run concurrently.
type Bridge struct {
	cfg      Config
	blockLen int
	deadline time.Duration
	proc     Processor
	now      func() time.Time

	bufs   [3][]int16
	gens   [3]uint64
	middle atomic.Uint32

	// Producer-owned.
	back    int
	nextGen uint64

	// Consumer-owned.
	front   int
	lastGen uint64
	last    []int16

	captured       atomic.Uint64
	dropped        atomic.Uint64
	malformed      atomic.Uint64
	processed      atomic.Uint64
	replayed       atomic.Uint64
	silenced       atomic.Uint64
	deadlineMisses atomic.Uint64
	repaired       atomic.Uint64
	cappedRuns     atomic.Uint64
	lastIterations atomic.Int64
	lastElapsed    atomic.Int64
	inputLevel     atomic.Uint64
	outputLevel    atomic.Uint64
}

// New returns a Bridge for blocks described by cfg, denoised by proc.
func New(cfg Config, proc Processor) (*Bridge, error) {
	if cfg.Channels != 2 {
		return nil, fmt.Errorf("bridge: %d channels unsupported, want 2", cfg.Channels)
	}
	if cfg.BlockFrames < 2 {
		return nil, fmt.Errorf("bridge: block of %d frames too short", cfg.BlockFrames)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("bridge: invalid sample rate %v", cfg.SampleRate)
	}

	n := cfg.BlockLen()
	b := &Bridge{
		cfg:      cfg,
		blockLen: n,
		deadline: cfg.Deadline(),
		proc:     proc,
		now:      time.Now,
		back:     0,
		front:    2,
		last:     make([]int16, n),
	}
	for i := range b.bufs {
		b.bufs[i] = make([]int16, n)
	}
	b.middle.Store(1)
	b.storeLevels(level.Floor, level.Floor)

	logrus.WithFields(logrus.Fields{
		"function":     "bridge.New",
		"block_frames": cfg.BlockFrames,
		"sample_rate":  cfg.SampleRate,
		"deadline":     b.deadline,
	}).Info("Stream buffer bridge created")
	return b, nil
}

// Config returns the stream configuration.
func (b *Bridge) Config() Config {
	return b.cfg
}

// OnCapture publishes a copy of raw as the newest block. A block playback
// has not yet taken is overwritten and counted as dropped. Blocks of the
// wrong length are discarded.
func (b *Bridge) OnCapture(raw []int16) {
	if len(raw) != b.blockLen {
		b.malformed.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.OnCapture",
			"got":      len(raw),
			"want":     b.blockLen,
		}).Warn("Discarding malformed capture block")
		return
	}

	copy(b.bufs[b.back], raw)
	b.nextGen++
	b.gens[b.back] = b.nextGen

	prev := b.middle.Swap(uint32(b.back) | freshBit)
	b.back = int(prev & idxMask)
	if prev&freshBit != 0 {
		b.dropped.Add(1)
	}
	b.captured.Add(1)
}

// acquire takes the newest published block, if any, and returns the
// consumer's buffer index.
func (b *Bridge) acquire() int {
	if b.middle.Load()&freshBit != 0 {
		prev := b.middle.Swap(uint32(b.front))
		b.front = int(prev & idxMask)
	}
	return b.front
}

// OnPlayback fills out with the denoised form of the newest complete block.
// Before the first capture, or when the block cannot be processed, out is
// silenced. If no block arrived since the previous call, the previous output
// is replayed.
func (b *Bridge) OnPlayback(out []int16) {
	start := b.now()
	defer b.checkDeadline(start)

	if len(out) != b.blockLen {
		clear(out)
		b.silenced.Add(1)
		return
	}

	idx := b.acquire()
	gen := b.gens[idx]
	switch {
	case gen == 0:
		clear(out)
		b.silenced.Add(1)
		return
	case gen == b.lastGen:
		copy(out, b.last)
		b.replayed.Add(1)
		return
	}

	block := b.bufs[idx]
	stats, err := b.proc.Process(block, out)
	b.lastGen = gen
	if err != nil {
		clear(out)
		clear(b.last)
		b.silenced.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":   "Bridge.OnPlayback",
			"generation": gen,
			"error":      err,
		}).Warn("Block could not be denoised, playing silence")
		return
	}
	copy(b.last, out)

	b.processed.Add(1)
	b.repaired.Add(uint64(stats.Repaired()))
	if stats.Left.Capped || stats.Right.Capped {
		b.cappedRuns.Add(1)
	}
	b.lastIterations.Store(int64(max(stats.Left.Iterations, stats.Right.Iterations)))
	b.storeLevels(level.DBFS(level.RMS(block)), level.DBFS(level.RMS(out)))
}

func (b *Bridge) checkDeadline(start time.Time) {
	elapsed := b.now().Sub(start)
	b.lastElapsed.Store(int64(elapsed))
	if elapsed <= b.deadline {
		return
	}
	misses := b.deadlineMisses.Add(1)
	logrus.WithFields(logrus.Fields{
		"function": "Bridge.OnPlayback",
		"elapsed":  elapsed,
		"deadline": b.deadline,
		"misses":   misses,
	}).Warn("Playback block missed its deadline")
}

func (b *Bridge) storeLevels(in, out float64) {
	b.inputLevel.Store(math.Float64bits(in))
	b.outputLevel.Store(math.Float64bits(out))
}

// Stats returns a snapshot of the counters. Safe to call from any goroutine.
func (b *Bridge) Stats() Stats {
	return Stats{
		Captured:       b.captured.Load(),
		Dropped:        b.dropped.Load(),
		Malformed:      b.malformed.Load(),
		Processed:      b.processed.Load(),
		Replayed:       b.replayed.Load(),
		Silenced:       b.silenced.Load(),
		DeadlineMisses: b.deadlineMisses.Load(),
		Repaired:       b.repaired.Load(),
		CappedRuns:     b.cappedRuns.Load(),
		LastIterations: b.lastIterations.Load(),
		LastElapsedMS:  float64(b.lastElapsed.Load()) / float64(time.Millisecond),
		DeadlineMS:     float64(b.deadline) / float64(time.Millisecond),
		InputDBFS:      math.Float64frombits(b.inputLevel.Load()),
		OutputDBFS:     math.Float64frombits(b.outputLevel.Load()),
	}
}
