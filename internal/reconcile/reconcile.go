// Package reconcile brings the satellite collection in line with the label
// masks and good negatives, and runs plain bulk downloads, reporting progress
// on a progress stream.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/glyphmap/tilesync/internal/batch"
	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/observability/metrics"
	"github.com/glyphmap/tilesync/internal/progress"
	"github.com/glyphmap/tilesync/internal/provider"
	"github.com/glyphmap/tilesync/internal/tile"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

// State is a step of a sync run.
type State string

const (
	StateAnalyze       State = "ANALYZE"
	StatePlan          State = "PLAN"
	StateCreateMasks   State = "CREATE_MASKS"
	StateDownloadTiles State = "DOWNLOAD_TILES"
	StateDone          State = "DONE"
	StateError         State = "ERROR"
)

// Summaries carried by the end event.
const (
	SummaryAlreadySynced = "already synchronized"
	SummaryCompleted     = "sync completed"
)

const (
	kindSync     = "sync"
	kindDownload = "download"
)

// Fetcher fetches one satellite tile.
type Fetcher interface {
	Fetch(ctx context.Context, req provider.Request) (provider.Result, error)
}

// Reconciler runs sync and bulk download jobs against one store.
type Reconciler struct {
	store       *tilestore.Store
	fetcher     Fetcher
	concurrency int
	log         logger.Logger
	metrics     *metrics.StreamMetrics
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithConcurrency sets the download worker count.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) { r.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// WithMetrics records run and item counters.
func WithMetrics(m *metrics.StreamMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New creates a Reconciler.
func New(store *tilestore.Store, fetcher Fetcher, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, fetcher: fetcher, concurrency: batch.DefaultConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Global().Module("reconcile")
	}
	return r
}

// SyncOptions tune one sync run.
type SyncOptions struct {
	// Session overrides the provider session for this run.
	Session string
	// Phases emits a phase event when each state is entered.
	Phases bool
}

// Result describes a finished run.
type Result struct {
	State        State
	Plan         Plan
	MasksCreated int
	MaskFailures int
	Downloads    batch.Summary
}

// run holds the per-run emitter bookkeeping.
type run struct {
	kind    string
	em      progress.Emitter
	cancel  context.CancelFunc
	metrics *metrics.StreamMetrics
	log     logger.Logger
	done    int
	total   int
	gone    bool
}

// emit forwards an event and stops the run once nobody is listening.
func (r *run) emit(e progress.Event) {
	if r.gone {
		return
	}
	if !r.em.Emit(e) {
		r.gone = true
		r.cancel()
	}
}

func (r *run) item(msg, outcome string) {
	r.done++
	r.metrics.ObserveItem(r.kind, outcome)
	r.log.Trace("progress", logger.Int("done", r.done), logger.Int("total", r.total), logger.String("item", msg))
	r.emit(progress.Item(msg))
}

func (r *run) outcome(o batch.Outcome) {
	switch o.Status {
	case batch.StatusDownloaded:
		r.item(o.Key.String(), string(o.Status))
	case batch.StatusSkipped:
		r.item("skip "+o.Key.String(), string(o.Status))
	default:
		r.item(fmt.Sprintf("error %s %s", o.Key, o.Reason), string(o.Status))
	}
}

func (rc *Reconciler) newRun(ctx context.Context, kind string, em progress.Emitter) (*run, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	return &run{
		kind:    kind,
		em:      em,
		cancel:  cancel,
		metrics: rc.metrics,
		log:     rc.log.WithContext(ctx),
	}, runCtx
}

func (rc *Reconciler) fetchFunc(zoom int, session string, overwrite bool) batch.FetchFunc {
	return func(ctx context.Context, k tile.Key) (bool, error) {
		res, err := rc.fetcher.Fetch(ctx, provider.Request{Key: k, Zoom: zoom, Session: session, Overwrite: overwrite})
		return res.Downloaded, err
	}
}

// Sync runs ANALYZE, PLAN, CREATE_MASKS and DOWNLOAD_TILES, emitting progress
// to em. Failures during ANALYZE or PLAN end the stream with an error event
// and are returned; per-tile failures later on are reported as items and the
// run continues. Nothing already written is rolled back.
func (rc *Reconciler) Sync(ctx context.Context, em progress.Emitter, opts SyncOptions) (Result, error) {
	start := time.Now()
	r, ctx := rc.newRun(ctx, kindSync, em)
	defer r.cancel()

	res := Result{State: StateAnalyze}
	enter := func(s State) {
		res.State = s
		r.log.Debug("sync state", logger.String("state", string(s)))
		if opts.Phases {
			r.emit(progress.Phase(string(s)))
		}
	}
	fail := func(err error) (Result, error) {
		failedIn := res.State
		res.State = StateError
		r.log.Error("sync failed", logger.String("state", string(failedIn)), logger.Error(err))
		r.emit(progress.Failure(err.Error()))
		rc.metrics.ObserveRun(kindSync, "error")
		return res, errors.New(err).
			Component("reconcile").
			Context("state", string(failedIn)).
			Build()
	}

	enter(StateAnalyze)
	labels, err := rc.store.Labels().Keys(ctx)
	if err != nil {
		return fail(err)
	}
	negatives, err := rc.store.GoodNegatives()
	if err != nil {
		return fail(err)
	}

	enter(StatePlan)
	if err := rc.store.Satellite().ForceRebuild(ctx); err != nil {
		return fail(err)
	}
	satellite, err := rc.store.Satellite().KeySet(ctx)
	if err != nil {
		return fail(err)
	}
	res.Plan = ComputePlan(labels, negatives, satellite)
	r.total = res.Plan.Total()
	r.log.Info("sync planned",
		logger.Int("required", len(res.Plan.Required)),
		logger.Int("missing_masks", len(res.Plan.MissingMasks)),
		logger.Int("missing_satellite", len(res.Plan.MissingSatellite)))

	r.emit(progress.Total(r.total))
	if r.total == 0 {
		res.State = StateDone
		r.emit(progress.End(SummaryAlreadySynced))
		rc.metrics.ObserveRun(kindSync, "synchronized")
		return res, nil
	}

	enter(StateCreateMasks)
	for _, k := range res.Plan.MissingMasks {
		if r.gone {
			break
		}
		if err := rc.store.WriteBlackMask(k); err != nil {
			res.MaskFailures++
			r.item(fmt.Sprintf("error mask_%s %s", k, batch.Reason(err)), "failed")
			continue
		}
		res.MasksCreated++
		r.item("mask_"+k.String(), "mask")
	}

	enter(StateDownloadTiles)
	if !r.gone {
		outcomes := batch.Run(ctx, res.Plan.MissingSatellite, rc.concurrency,
			rc.fetchFunc(rc.store.Zoom(), opts.Session, false))
		res.Downloads = batch.Collect(outcomes, r.outcome)
	}

	if r.gone {
		rc.metrics.ObserveRun(kindSync, "cancelled")
		r.log.Info("sync abandoned by client", logger.Int("done", r.done), logger.Int("total", r.total))
		return res, nil
	}

	res.State = StateDone
	r.emit(progress.End(SummaryCompleted))
	rc.metrics.ObserveRun(kindSync, "completed")
	r.log.Info("sync completed",
		logger.Int("masks", res.MasksCreated),
		logger.Int("downloaded", res.Downloads.Downloaded),
		logger.Int("skipped", res.Downloads.Skipped),
		logger.Int("failed", res.Downloads.Failed()+res.MaskFailures),
		logger.Duration("elapsed", time.Since(start)))
	return res, nil
}

// DownloadRequest is an explicit bulk download.
type DownloadRequest struct {
	Tiles     []tile.Key
	Zoom      int
	Overwrite bool
	Session   string
}

// Validate rejects a request before any side effect. A zero zoom selects the
// collection zoom.
func (rc *Reconciler) Validate(req *DownloadRequest) error {
	if req.Zoom == 0 {
		req.Zoom = rc.store.Zoom()
	}
	if req.Zoom != rc.store.Zoom() {
		return errors.Newf("zoom %d does not match collection zoom %d", req.Zoom, rc.store.Zoom()).
			Category(errors.CategoryValidation).
			Component("reconcile").
			Build()
	}
	if len(req.Tiles) == 0 {
		return errors.Newf("no tiles requested").
			Category(errors.CategoryValidation).
			Component("reconcile").
			Build()
	}
	for _, k := range req.Tiles {
		if !k.Valid(req.Zoom) {
			return errors.Newf("tile %s outside zoom %d grid", k, req.Zoom).
				Category(errors.CategoryValidation).
				Component("reconcile").
				Build()
		}
	}
	return nil
}

// DownloadTiles fetches an explicit tile list with the same progress
// contract as Sync: total, one item per tile, then end. Repeated keys in the
// list are fetched once, so total and the item count follow the distinct
// keys rather than the length of the request.
func (rc *Reconciler) DownloadTiles(ctx context.Context, em progress.Emitter, req DownloadRequest) (batch.Summary, error) {
	if err := rc.Validate(&req); err != nil {
		return batch.Summary{}, err
	}
	start := time.Now()
	r, ctx := rc.newRun(ctx, kindDownload, em)
	defer r.cancel()

	tiles := tile.SortedUnique(req.Tiles)
	r.total = len(tiles)
	r.emit(progress.Total(r.total))

	outcomes := batch.Run(ctx, tiles, rc.concurrency, rc.fetchFunc(req.Zoom, req.Session, req.Overwrite))
	summary := batch.Collect(outcomes, r.outcome)

	if r.gone {
		rc.metrics.ObserveRun(kindDownload, "cancelled")
		return summary, nil
	}
	r.emit(progress.End("download completed: " + summary.String()))
	rc.metrics.ObserveRun(kindDownload, "completed")
	r.log.Info("bulk download finished",
		logger.Int("downloaded", summary.Downloaded),
		logger.Int("skipped", summary.Skipped),
		logger.Int("failed", summary.Failed()),
		logger.Duration("elapsed", time.Since(start)))
	return summary, nil
}
