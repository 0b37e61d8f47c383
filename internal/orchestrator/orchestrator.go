// Package orchestrator discovers input files and drives each one through
// the processing stages and delivery under bounded concurrency, with
// per-item retries and cooperative shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/eventshot/internal/archive"
	"github.com/MeKo-Tech/eventshot/internal/delivery"
	"github.com/MeKo-Tech/eventshot/internal/pipeline"
	"github.com/MeKo-Tech/eventshot/internal/retry"
	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// Config controls scheduling.
type Config struct {
	Workers          int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	QueueSize        int           `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
	ScanInterval     time.Duration `mapstructure:"scan_interval" yaml:"scan_interval" json:"scan_interval"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval" yaml:"dispatch_interval" json:"dispatch_interval"`
	Settle           time.Duration `mapstructure:"settle" yaml:"settle" json:"settle"`
	Retry            retry.Policy  `mapstructure:"retry" yaml:"retry" json:"retry"`
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout" yaml:"delivery_timeout" json:"delivery_timeout"`
	// Drain processes every queued item on shutdown instead of abandoning it.
	Drain bool `mapstructure:"drain" yaml:"drain" json:"drain"`
	// Grace bounds shutdown; in-flight work is cancelled once it expires.
	// Zero waits indefinitely.
	Grace         time.Duration `mapstructure:"grace" yaml:"grace" json:"grace"`
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval" json:"stats_interval"`
}

// DefaultConfig returns 4 workers polling every 2 seconds.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		QueueSize:        16,
		ScanInterval:     2 * time.Second,
		DispatchInterval: 250 * time.Millisecond,
		Settle:           2 * time.Second,
		Retry:            retry.DefaultPolicy(),
		DeliveryTimeout:  60 * time.Second,
		Drain:            true,
		Grace:            2 * time.Minute,
		StatsInterval:    time.Minute,
	}
}

// Validate checks the scheduling parameters.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.ScanInterval <= 0 || c.DispatchInterval <= 0 {
		return errors.New("scan_interval and dispatch_interval must be positive")
	}
	if c.DeliveryTimeout <= 0 {
		return errors.New("delivery_timeout must be positive")
	}
	if c.Grace < 0 || c.StatsInterval < 0 || c.Settle < 0 {
		return errors.New("grace, settle and stats_interval must not be negative")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// ImageProcessor runs the image stages of one item.
type ImageProcessor interface {
	Process(ctx context.Context, img image.Image, onStage func(pipeline.Stage)) (*pipeline.Result, error)
}

// Report summarizes a finished run.
type Report struct {
	Stats       StatsSnapshot `json:"stats"`
	Started     time.Time     `json:"started"`
	Finished    time.Time     `json:"finished"`
	HardStopped bool          `json:"hard_stopped"`
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithArchiver(a archive.Archiver) Option { return func(o *Orchestrator) { o.archiver = a } }
func WithStats(s Stats) Option               { return func(o *Orchestrator) { o.stats = s } }
func WithObserver(obs Observer) Option       { return func(o *Orchestrator) { o.observer = obs } }
func WithLogger(l *slog.Logger) Option       { return func(o *Orchestrator) { o.logger = l } }

// WithBackup copies every original into layout's backup directory before
// it is processed.
func WithBackup(l delivery.Layout) Option { return func(o *Orchestrator) { o.backup = &l } }

// WithTrigger adds a channel that forces an immediate scan, e.g. a Notifier.
func WithTrigger(c <-chan struct{}) Option { return func(o *Orchestrator) { o.trigger = c } }

// WithLoader replaces the image decoder.
func WithLoader(f func(path string) (image.Image, error)) Option {
	return func(o *Orchestrator) { o.load = f }
}

// Orchestrator owns the WorkItem table. Stages never see it.
type Orchestrator struct {
	cfg       Config
	source    Source
	processor ImageProcessor
	deliverer delivery.Deliverer
	archiver  archive.Archiver
	stats     Stats
	observer  Observer
	logger    *slog.Logger
	backup    *delivery.Layout
	trigger   <-chan struct{}
	load      func(path string) (image.Image, error)

	table *Table
	queue *Queue
	wake  chan struct{}
}

// New wires an orchestrator. The source, processor and deliverer are required.
func New(cfg Config, src Source, proc ImageProcessor, dlv delivery.Deliverer, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: orchestrator: %w", pipeline.ErrConfigInvalid, err)
	}
	if src == nil || proc == nil || dlv == nil {
		return nil, errors.New("orchestrator needs a source, a processor and a deliverer")
	}
	o := &Orchestrator{
		cfg:       cfg,
		source:    src,
		processor: proc,
		deliverer: dlv,
		archiver:  archive.Noop{},
		observer:  NoOpObserver{},
		table:     NewTable(),
		queue:     NewQueue(cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		load: func(path string) (image.Image, error) {
			img, _, err := utils.LoadImage(path)
			return img, err
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stats == nil {
		o.stats = NewAtomicStats()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Items returns a snapshot of the live work items.
func (o *Orchestrator) Items() []WorkItem { return o.table.Snapshot() }

// Stats returns the current counters.
func (o *Orchestrator) Stats() StatsSnapshot { return o.stats.Snapshot() }

// Active returns the number of items occupying a worker.
func (o *Orchestrator) Active() int { return o.table.Active() }

// Run discovers and processes items until ctx is cancelled or a Finite
// source is exhausted and every item is terminal. After cancellation no new
// files are discovered, in-flight items complete, and queued items are
// drained or abandoned according to Config.Drain.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	rep := Report{Started: time.Now()}

	// Workers only stop early on a hard stop after Grace.
	workCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()
	popCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var wg sync.WaitGroup
	for i := range o.cfg.Workers {
		wg.Add(1)
		go o.worker(workCtx, popCtx, i, &wg)
	}

	o.logger.Info("Orchestrator started", "workers", o.cfg.Workers, "queue_size", o.queue.Cap(),
		"retry_attempts", o.cfg.Retry.MaxAttempts, "drain", o.cfg.Drain)

	scanErr := o.loop(ctx)

	if ctx.Err() != nil {
		o.logger.Info("Shutdown requested", "active", o.table.Active(), "queued", o.queue.Len(), "drain", o.cfg.Drain)
		rep.HardStopped = o.shutdown(hardStop)
	}

	stopWorkers()
	wg.Wait()
	// items that scheduled a retry while shutting down
	o.abandon()

	rep.Finished = time.Now()
	rep.Stats = o.stats.Snapshot()
	o.logStats("Final pipeline statistics")
	return rep, scanErr
}

// loop runs discovery and dispatch until ctx is done or a finite source is
// complete. Scan errors of a finite source are returned; others are logged.
func (o *Orchestrator) loop(ctx context.Context) error {
	scan := time.NewTicker(o.cfg.ScanInterval)
	defer scan.Stop()
	dispatch := time.NewTicker(o.cfg.DispatchInterval)
	defer dispatch.Stop()
	var statsC <-chan time.Time
	if o.cfg.StatsInterval > 0 {
		t := time.NewTicker(o.cfg.StatsInterval)
		defer t.Stop()
		statsC = t.C
	}
	finite, _ := o.source.(Finite)

	if err := o.discover(ctx); err != nil && finite != nil {
		return err
	}
	o.dispatch()

	for {
		if finite != nil && finite.Exhausted() && o.table.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-scan.C:
			if err := o.discover(ctx); err != nil && finite != nil {
				return err
			}
			o.dispatch()
		case <-o.trigger:
			_ = o.discover(ctx)
			o.dispatch()
		case <-dispatch.C:
			o.dispatch()
		case <-o.wake:
			o.dispatch()
		case <-statsC:
			o.logStats("Pipeline statistics")
		}
	}
}

// shutdown waits for in-flight (and, when draining, queued) work. It reports
// whether Grace expired and in-flight work was cancelled.
func (o *Orchestrator) shutdown(hardStop context.CancelFunc) bool {
	if !o.cfg.Drain {
		o.abandon()
	}
	var graceC <-chan time.Time
	if o.cfg.Grace > 0 {
		t := time.NewTimer(o.cfg.Grace)
		defer t.Stop()
		graceC = t.C
	}
	dispatch := time.NewTicker(o.cfg.DispatchInterval)
	defer dispatch.Stop()

	for {
		if o.cfg.Drain {
			o.dispatch()
			if o.table.Len() == 0 {
				return false
			}
		} else if o.table.Active() == 0 {
			return false
		}
		select {
		case <-graceC:
			o.logger.Warn("Shutdown grace period expired, cancelling in-flight work",
				"grace", o.cfg.Grace, "active", o.table.Active())
			o.abandon()
			hardStop()
			return true
		case <-o.wake:
		case <-dispatch.C:
		}
	}
}

func (o *Orchestrator) discover(ctx context.Context) error {
	cands, err := o.source.Scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("Discovery scan failed", "error", err)
		}
		return err
	}
	for _, c := range cands {
		it, added := o.table.Add(c)
		if !added {
			continue
		}
		o.stats.Discovered()
		o.logger.Debug("Item discovered", "item", it.ID, "path", it.Path, "identity", it.Identity)
		o.observer.OnTransition(Transition{
			ItemID: it.ID, Path: it.Path, From: pipeline.Discovered, To: pipeline.Discovered, At: it.DiscoveredAt,
		})
	}
	return nil
}

// dispatch moves due items into the queue until it is full. Items that do
// not fit stay pending in the table.
func (o *Orchestrator) dispatch() {
	for _, id := range o.table.Due(time.Now()) {
		o.table.SetQueued(id, true)
		if !o.queue.TryPush(id) {
			o.table.SetQueued(id, false)
			break
		}
	}
	queueDepth.Set(float64(o.queue.Len()))
}

// abandon drops every item that has not been dispatched to a worker.
func (o *Orchestrator) abandon() {
	o.queue.Flush()
	items := o.table.Abandon()
	if len(items) == 0 {
		return
	}
	o.logger.Info("Abandoned queued items", "count", len(items))
	o.recordAbandoned(items)
	queueDepth.Set(0)
}

// interrupt records an item whose attempt was cancelled by a hard stop as
// abandoned. The cancellation is not counted against its retry budget.
func (o *Orchestrator) interrupt(id string, cause error) {
	if _, _, err := o.table.Transition(id, pipeline.Discovered, func(w *WorkItem) {
		w.LastError = cause.Error()
	}); err != nil {
		o.logger.Debug("Transition skipped", "item", id, "error", err)
		return
	}
	it, ok := o.table.AbandonItem(id)
	if !ok {
		return
	}
	o.logger.Warn("In-flight item cut off by hard stop", "item", it.ID, "path", it.Path,
		"attempt", it.Attempts, "error", cause)
	o.recordAbandoned([]WorkItem{it})
}

func (o *Orchestrator) recordAbandoned(items []WorkItem) {
	o.stats.Abandoned(len(items))
	for _, it := range items {
		o.observer.OnTransition(Transition{
			ItemID: it.ID, Path: it.Path, From: pipeline.Discovered, To: pipeline.Discovered,
			Attempt: it.Attempts, Outcome: OutcomeAbandoned, Error: it.LastError, At: it.CompletedAt,
		})
		o.archive(it)
	}
}

func (o *Orchestrator) worker(ctx, popCtx context.Context, id int, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		itemID, ok := o.queue.Pop(popCtx)
		if !ok {
			o.logger.Debug("Worker stopped", "worker", id)
			return
		}
		o.handle(ctx, itemID)
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}
}

// handle runs one attempt of an item and records its next state.
func (o *Orchestrator) handle(ctx context.Context, id string) {
	it, ok := o.transition(id, pipeline.Enhancing, nil)
	if !ok {
		return
	}
	inFlightItems.Inc()
	defer inFlightItems.Dec()

	res, ack, err := o.attempt(ctx, it)
	if err == nil {
		done, ok := o.transition(id, pipeline.Delivered, func(w *WorkItem) {
			w.Faces = len(res.Faces)
			w.Candidate = res.Candidate
			w.FellBack = res.FellBack
			w.Location = ack.Location
			w.LastError = ""
		})
		if ok {
			o.stats.Delivered()
			o.finish(done)
		}
		return
	}

	if ctx.Err() != nil {
		o.interrupt(id, err)
		return
	}

	current, _ := o.table.Get(id)
	if current.Attempts < o.cfg.Retry.MaxAttempts {
		delay := o.cfg.Retry.Delay(current.Attempts)
		if _, ok := o.transition(id, pipeline.Discovered, func(w *WorkItem) {
			w.NextRetry = time.Now().Add(delay)
			w.LastError = err.Error()
		}); ok {
			o.stats.Retried()
		}
		return
	}

	final := &pipeline.RetryExhaustedError{ItemID: id, Attempts: current.Attempts, Last: err}
	done, ok := o.transition(id, pipeline.Failed, func(w *WorkItem) {
		w.LastError = final.Error()
		w.FailedStage = pipeline.StageOf(err)
	})
	if ok {
		o.stats.Failed()
		o.finish(done)
	}
}

// attempt runs the full chain once. Every retry starts from the original
// file; nothing from an earlier attempt is reused.
func (o *Orchestrator) attempt(ctx context.Context, it WorkItem) (*pipeline.Result, delivery.Ack, error) {
	if o.backup != nil {
		if _, err := o.backup.BackupOriginal(it.Path, it.ID); err != nil {
			return nil, delivery.Ack{}, pipeline.NewStageError(pipeline.Enhancing, err)
		}
	}
	img, err := o.load(it.Path)
	if err != nil {
		return nil, delivery.Ack{}, pipeline.NewStageError(pipeline.Enhancing, err)
	}

	current := pipeline.Enhancing
	res, err := o.processor.Process(ctx, img, func(s pipeline.Stage) {
		if s == current {
			return
		}
		if _, ok := o.transition(it.ID, s, nil); ok {
			current = s
		}
	})
	if err != nil {
		return nil, delivery.Ack{}, err
	}
	for s, d := range res.StageDurations {
		o.stats.ObserveStage(s, d)
	}
	o.stats.Processed()
	if res.FellBack {
		o.stats.Fallback()
	}

	if _, ok := o.transition(it.ID, pipeline.Delivering, nil); !ok {
		return nil, delivery.Ack{}, pipeline.NewStageError(pipeline.Delivering, ErrIllegalTransition)
	}
	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, o.cfg.DeliveryTimeout)
	defer cancel()
	ack, err := o.deliverer.Deliver(dctx, res.Image, delivery.Metadata{
		ItemID:       it.ID,
		SourcePath:   it.Path,
		Stem:         delivery.Stem(it.Path),
		Faces:        len(res.Faces),
		Orientation:  res.Crop.Orientation.String(),
		DiscoveredAt: it.DiscoveredAt,
		ProcessedAt:  time.Now(),
	})
	o.stats.ObserveStage(pipeline.Delivering, time.Since(start))
	if err != nil {
		return nil, delivery.Ack{}, pipeline.NewStageError(pipeline.Delivering, err)
	}
	return res, ack, nil
}

// transition applies a stage change and notifies the observer.
func (o *Orchestrator) transition(id string, to pipeline.Stage, update func(*WorkItem)) (WorkItem, bool) {
	it, from, err := o.table.Transition(id, to, update)
	if err != nil {
		o.logger.Debug("Transition skipped", "item", id, "to", to.String(), "error", err)
		return it, false
	}
	o.observer.OnTransition(Transition{
		ItemID:   it.ID,
		Path:     it.Path,
		From:     from,
		To:       to,
		Attempt:  it.Attempts,
		Outcome:  it.Outcome,
		Error:    it.LastError,
		Location: it.Location,
		At:       it.UpdatedAt,
	})
	return it, true
}

// finish evicts a terminal item and archives it.
func (o *Orchestrator) finish(it WorkItem) {
	if _, ok := o.table.Evict(it.ID); !ok {
		return
	}
	o.archive(it)
}

func (o *Orchestrator) archive(it WorkItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stage := it.Stage.String()
	switch {
	case it.Outcome == OutcomeAbandoned:
		stage = string(OutcomeAbandoned)
	case it.Outcome == OutcomeFailed && it.FailedStage != pipeline.Failed:
		stage = it.FailedStage.String()
	}
	err := o.archiver.Record(ctx, archive.Record{
		ItemID:       it.ID,
		Identity:     it.Identity,
		Path:         it.Path,
		Outcome:      string(it.Outcome),
		Stage:        stage,
		Attempts:     it.Attempts,
		Error:        it.LastError,
		Faces:        it.Faces,
		Candidate:    it.Candidate,
		FellBack:     it.FellBack,
		Location:     it.Location,
		DiscoveredAt: it.DiscoveredAt,
		CompletedAt:  it.CompletedAt,
		Duration:     it.CompletedAt.Sub(it.DiscoveredAt),
	})
	if err != nil {
		o.logger.Warn("Failed to archive item", "item", it.ID, "error", err)
	}
}

func (o *Orchestrator) logStats(msg string) {
	s := o.stats.Snapshot()
	o.logger.Info(msg,
		"discovered", s.Discovered,
		"processed", s.Processed,
		"delivered", s.Delivered,
		"failed", s.Failed,
		"retried", s.Retried,
		"abandoned", s.Abandoned,
		"fallbacks", s.Fallbacks,
		"active", o.table.Active(),
		"queued", o.queue.Len(),
	)
}
