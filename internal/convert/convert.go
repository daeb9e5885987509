// Package convert runs one dataset through the conversion pipeline:
// discover, index, sort, plan, write, consolidate and publish.
package convert

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rtm0/zarrcube/internal/catalog"
	"github.com/rtm0/zarrcube/internal/pool"
	"github.com/rtm0/zarrcube/internal/source"
	"github.com/rtm0/zarrcube/internal/zarr"
)

// Stage is one state of the pipeline.
type Stage string

// Pipeline stages in execution order, plus the terminal states.
const (
	StageIdle        Stage = "idle"
	StageDiscover    Stage = "discover"
	StageIndex       Stage = "index"
	StageSort        Stage = "sort"
	StagePlan        Stage = "plan"
	StageWrite       Stage = "write"
	StageConsolidate Stage = "consolidate"
	StagePublish     Stage = "publish"
	StageDone        Stage = "done"
	StageAborted     Stage = "aborted"
)

// StageError is the error of a run, tagged with the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through the stage.
func (e *StageError) Cause() error { return e.Err }

// Options override the dataset definition for one run.
type Options struct {
	// InputDir and Output replace the dataset's locations when set.
	InputDir string
	Output   string

	// Workers is the number of blocks processed concurrently. Zero means
	// one per CPU.
	Workers int
	// MemoryLimit caps the estimated bytes held by concurrent blocks by
	// lowering Workers. Zero means no cap.
	MemoryLimit int64

	// Chunks replaces the dataset's chunk descriptor when set.
	Chunks *catalog.Chunks

	Overwrite bool
	// DryRun stops after planning. Nothing is written.
	DryRun bool
	// Progress receives a progress bar when set; otherwise progress is
	// logged.
	Progress io.Writer
}

// Result summarizes a finished run.
type Result struct {
	Dataset  string
	Location string
	Plan     *Plan
	Stats    []VarStats
	Elapsed  time.Duration
	DryRun   bool

	// Workers is the number of blocks that were written concurrently.
	Workers int
}

// Converter runs conversions with fixed options.
type Converter struct {
	log    logrus.FieldLogger
	opts   Options
	status *Status
}

// New returns a Converter reporting into status, which may be nil.
func New(log logrus.FieldLogger, opts Options, status *Status) *Converter {
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	if status == nil {
		status = NewStatus()
	}
	return &Converter{log: log, opts: opts, status: status}
}

// Status returns the live state of the current run.
func (c *Converter) Status() *Status {
	return c.status
}

// Resolve applies the run options to d and validates the result.
func (c *Converter) Resolve(d catalog.Dataset) (catalog.Dataset, error) {
	if c.opts.InputDir != "" {
		d.InputDir = c.opts.InputDir
	}
	if c.opts.Output != "" {
		d.Output = c.opts.Output
	}
	if c.opts.Chunks != nil {
		d.Chunks = *c.opts.Chunks
	}
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return d, err
	}
	if d.InputDir == "" {
		return d, errors.Errorf("dataset %s: no input directory", d.Name)
	}
	if d.Output == "" && !c.opts.DryRun {
		return d, errors.Errorf("dataset %s: no output location", d.Name)
	}
	return d, nil
}

// Run converts dataset d. On error nothing is published and the error is a
// *StageError.
func (c *Converter) Run(ctx context.Context, d catalog.Dataset) (*Result, error) {
	start := time.Now()
	d, err := c.Resolve(d)
	if err != nil {
		return nil, &StageError{Stage: StagePlan, Err: err}
	}
	log := c.log.WithField("dataset", d.Name)
	c.status.begin(d.Name)

	var stage Stage
	enter := func(s Stage) {
		stage = s
		c.status.setStage(s)
		log.WithField("stage", s).Debug("entering stage")
	}
	fail := func(err error) (*Result, error) {
		c.status.setStage(StageAborted)
		return nil, &StageError{Stage: stage, Err: err}
	}

	enter(StageDiscover)
	files, err := source.Discover(d.InputDir, d.Pattern)
	if err != nil {
		return fail(err)
	}
	log.WithField("files", len(files)).Info("discovered input files")

	enter(StageIndex)
	idx, err := BuildIndex(ctx, d, files, c.opts.Workers)
	if err != nil {
		return fail(err)
	}

	enter(StageSort)
	if dups := idx.Sort(); len(dups) > 0 {
		log.WithField("times", dups).Warn("duplicate timestamps kept")
	}

	enter(StagePlan)
	plan, err := NewPlan(d, idx)
	if err != nil {
		return fail(err)
	}
	c.status.setBlocks(plan.Blocks)
	workers := c.blockWorkers(log, plan)
	log.WithFields(logrus.Fields{
		"steps":   len(plan.Times),
		"shape":   plan.Shape,
		"chunks":  plan.ChunkShape,
		"blocks":  plan.Blocks,
		"workers": workers,
	}).Info("planned store")
	if c.opts.DryRun {
		c.status.setStage(StageDone)
		return &Result{Dataset: d.Name, Location: d.Output, Plan: plan, Elapsed: time.Since(start), DryRun: true, Workers: workers}, nil
	}

	enter(StageWrite)
	target, err := zarr.Create(ctx, d.Output, c.opts.Overwrite, log)
	if err != nil {
		return fail(err)
	}
	published := false
	defer func() {
		if published {
			return
		}
		if err := target.Abort(context.Background()); err != nil {
			log.WithError(err).Error("could not discard partial output")
		}
	}()

	w := zarr.NewWriter(countingStore{Store: target, status: c.status})
	if err := plan.Declare(ctx, w); err != nil {
		return fail(err)
	}
	stats, err := c.writeBlocks(ctx, log, d, plan, idx, w, workers)
	if err != nil {
		return fail(err)
	}

	enter(StageConsolidate)
	if err := w.Close(ctx); err != nil {
		return fail(err)
	}

	enter(StagePublish)
	if err := target.Commit(ctx); err != nil {
		return fail(err)
	}
	published = true
	c.status.setStage(StageDone)

	res := &Result{
		Dataset:  d.Name,
		Location: target.Location(),
		Plan:     plan,
		Stats:    stats,
		Elapsed:  time.Since(start),
		Workers:  workers,
	}
	for _, s := range stats {
		log.WithFields(s.Fields()).Info("variable statistics")
	}
	snap := c.status.Snapshot()
	log.WithFields(logrus.Fields{
		"location": res.Location,
		"objects":  snap.Chunks,
		"bytes":    snap.Bytes,
		"in":       res.Elapsed.Round(time.Second),
	}).Info("store published")
	return res, nil
}

// blockWorkers returns the configured worker count, lowered so that the
// blocks in flight fit the memory limit.
func (c *Converter) blockWorkers(log logrus.FieldLogger, p *Plan) int {
	n := min(c.opts.Workers, p.Blocks)
	if c.opts.MemoryLimit <= 0 {
		return n
	}
	fit := int(max(1, c.opts.MemoryLimit/p.BlockBytes()))
	if fit < n {
		log.WithFields(logrus.Fields{
			"requested":   n,
			"workers":     fit,
			"block_bytes": p.BlockBytes(),
			"limit_bytes": c.opts.MemoryLimit,
		}).Warn("reducing workers to fit the memory limit")
		return fit
	}
	return n
}

func (c *Converter) writeBlocks(ctx context.Context, log logrus.FieldLogger, d catalog.Dataset, p *Plan, idx *Index, w *zarr.Writer, workers int) ([]VarStats, error) {
	progress := pool.NewProgress(log, "blocks", p.Blocks, c.opts.Progress)
	defer progress.Finish()
	c.status.setProgress(progress)

	perBlock := make([][]VarStats, p.Blocks)
	err := pool.Run(ctx, workers, p.Blocks, func(ctx context.Context, k int) error {
		st, err := writeBlock(ctx, d, p, idx, w, k)
		if err != nil {
			return errors.Wrapf(err, "block %d", k)
		}
		perBlock[k] = st
		progress.Add(1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mergeStats(p.VarNames(), perBlock), nil
}
