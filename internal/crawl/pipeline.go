// Package crawl runs the sweep of an area: sample the region, collect the
// list of records around every sample point, persist the list, then fetch
// and persist every record's detail.
package crawl

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geosweep/internal/config"
	"github.com/sells-group/geosweep/internal/grid"
	"github.com/sells-group/geosweep/internal/model"
	"github.com/sells-group/geosweep/internal/projection"
	"github.com/sells-group/geosweep/internal/region"
	"github.com/sells-group/geosweep/internal/resilience"
	"github.com/sells-group/geosweep/internal/sink"
	"github.com/sells-group/geosweep/pkg/poiapi"
)

// StampLayout formats the run timestamp used in sink keys.
const StampLayout = "20060102_1504"

// maxSkips bounds the skips kept per area; the total is always counted.
const maxSkips = 1000

// Run identifies one invocation across all of its areas.
type Run struct {
	ID    string
	Stamp string
}

// NewRun creates a run stamped with now.
func NewRun(now time.Time) Run {
	return Run{ID: uuid.NewString(), Stamp: now.Format(StampLayout)}
}

// Options tunes the pipeline.
type Options struct {
	PageSize      int
	Workers       int
	DetailWorkers int
	ProgressEvery int
}

// AreaResult summarizes one area.
type AreaResult struct {
	Area     string
	Key      sink.Key
	Points   int
	Pages    int64
	Items    int64
	Accepted int64
	// RejectedInvalid counts items missing an id or a coordinate.
	RejectedInvalid int64
	RejectedOutside int64
	PointsFailed    int64
	Records         int
	Detail          DetailResult
	Skips           []resilience.Skip
	SkipsTotal      int
	Duration        time.Duration
}

// Pipeline sweeps areas. All areas of a pipeline share one pacing gate.
type Pipeline struct {
	client poiapi.Client
	sink   sink.Sink
	gate   Gate
	retry  resilience.RetryConfig
	opts   Options
	now    func() time.Time
}

// New creates a pipeline from explicit parts.
func New(client poiapi.Client, s sink.Sink, gate Gate, retry resilience.RetryConfig, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DetailWorkers <= 0 {
		opts.DetailWorkers = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = poiapi.DefaultPageSize
	}
	if gate == nil {
		gate = NewGate(0)
	}
	return &Pipeline{
		client: client,
		sink:   s,
		gate:   gate,
		retry:  retry,
		opts:   opts,
		now:    time.Now,
	}
}

// NewPipeline creates a pipeline configured from cfg.
func NewPipeline(client poiapi.Client, s sink.Sink, cfg *config.Config) *Pipeline {
	retry := resilience.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.Timeout, cfg.Retry.BaseBackoff, cfg.Retry.Jitter)
	return New(client, s, NewGate(cfg.Crawl.RequestInterval), retry, Options{
		PageSize:      cfg.Remote.PageSize,
		Workers:       cfg.Crawl.Workers,
		DetailWorkers: cfg.Crawl.DetailWorkers,
		ProgressEvery: cfg.Crawl.ProgressEvery,
	})
}

// Run sweeps every area under one run stamp. A failing area is logged and
// the remaining areas still run; the combined error is returned together
// with every result produced, including partial ones.
func (p *Pipeline) Run(ctx context.Context, areas []config.Area) ([]*AreaResult, error) {
	log := zap.L().With(zap.String("component", "crawl.pipeline"))
	run := NewRun(p.now())
	log.Info("starting run",
		zap.String("run_id", run.ID),
		zap.String("stamp", run.Stamp),
		zap.Int("areas", len(areas)),
	)

	var results []*AreaResult
	var errs error
	for _, area := range areas {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		res, err := p.RunArea(ctx, area, run)
		if err != nil {
			log.Error("area failed", zap.String("area", area.Name), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results, errs
}

// PreparedArea is an area's region and its sample points.
type PreparedArea struct {
	Area       config.Area
	Region     *region.Region
	Projection projection.Projector
	Points     []model.SamplePoint
}

// PrepareArea loads the boundaries of area and samples them.
func PrepareArea(area config.Area) (*PreparedArea, error) {
	r, err := region.LoadFiles(area.Boundaries...)
	if err != nil {
		return nil, eris.Wrapf(err, "crawl: area %s: load boundaries", area.Name)
	}
	proj, err := projection.ForBounds(area.Projection, r.Bounds())
	if err != nil {
		return nil, eris.Wrapf(err, "crawl: area %s: projection", area.Name)
	}
	points, err := grid.Sample(r, area.GridStepM, proj)
	if err != nil {
		return nil, eris.Wrapf(err, "crawl: area %s: sample", area.Name)
	}
	return &PreparedArea{Area: area, Region: r, Projection: proj, Points: points}, nil
}

// RunArea sweeps a single area. Invalid boundaries, an empty sample and a
// failure to save the list are fatal for the area; fetch failures are not.
func (p *Pipeline) RunArea(ctx context.Context, area config.Area, run Run) (*AreaResult, error) {
	log := zap.L().With(
		zap.String("component", "crawl.pipeline"),
		zap.String("area", area.Name),
	)
	start := time.Now()

	prep, err := PrepareArea(area)
	if err != nil {
		return nil, err
	}
	r, points := prep.Region, prep.Points
	log.Info("sampled area",
		zap.Int("points", len(points)),
		zap.Int("polygons", r.NumPolygons()),
		zap.String("projection", prep.Projection.Name()),
		zap.Float64("step_m", area.GridStepM),
		zap.Float64("radius_m", area.QueryRadiusM),
	)

	key := sink.Key{RunID: run.ID, Area: area.Name, Stamp: run.Stamp}
	res := &AreaResult{Area: area.Name, Key: key, Points: len(points)}
	skips := &resilience.SkipLog{Limit: maxSkips}
	store := NewRecordStore()
	agg := NewAggregator(p.client, r, store, p.gate, p.retry, area.QueryRadiusM, p.opts.PageSize, skips)

	// List phase.
	var pages, items, accepted, invalid, outside, failed, done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, pt := range points {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			pr := agg.CollectPoint(gctx, pt)
			pages.Add(int64(pr.Pages))
			items.Add(int64(pr.Items))
			accepted.Add(int64(pr.Accepted))
			invalid.Add(int64(pr.RejectedInvalid))
			outside.Add(int64(pr.RejectedOutside))
			if pr.Err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
			}
			n := done.Add(1)
			if p.opts.ProgressEvery > 0 && n%int64(p.opts.ProgressEvery) == 0 {
				log.Info("list progress",
					zap.Int64("points_done", n),
					zap.Int("points_total", len(points)),
					zap.Int("records", store.Len()),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "crawl: area %s: list phase", area.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "crawl: area %s: list phase", area.Name)
	}

	store.Freeze()
	res.Pages = pages.Load()
	res.Items = items.Load()
	res.Accepted = accepted.Load()
	res.RejectedInvalid = invalid.Load()
	res.RejectedOutside = outside.Load()
	res.PointsFailed = failed.Load()
	res.Records = store.Len()

	if err := p.sink.SaveList(ctx, key, store.Records()); err != nil {
		return nil, eris.Wrapf(err, "crawl: area %s: save list", area.Name)
	}
	log.Info("list saved", zap.Int("records", res.Records), zap.Int64("points_failed", res.PointsFailed))

	// Detail phase.
	coll := NewCollector(p.client, p.sink, p.gate, p.retry, skips)
	detail, err := coll.Collect(ctx, store.IDs(), key, p.opts.DetailWorkers)
	res.Detail = detail
	res.Skips = skips.Entries()
	res.SkipsTotal = skips.Total()
	res.Duration = time.Since(start)
	if err != nil {
		return res, eris.Wrapf(err, "crawl: area %s: detail phase", area.Name)
	}

	log.Info("area complete",
		zap.Int("records", res.Records),
		zap.Int64("details_saved", detail.Saved),
		zap.Int64("details_empty", detail.Empty),
		zap.Int64("details_skipped", detail.Skipped),
		zap.Int("skips", res.SkipsTotal),
		zap.Duration("elapsed", res.Duration),
	)
	return res, nil
}
