package crawl

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/geosweep/internal/model"
	"github.com/sells-group/geosweep/internal/region"
	"github.com/sells-group/geosweep/internal/resilience"
	"github.com/sells-group/geosweep/pkg/poiapi"
)

// PointResult summarizes the list phase of one sample point.
type PointResult struct {
	Point           model.SamplePoint
	Pages           int // pages fetched successfully, including the final empty one
	Items           int
	Accepted        int
	New             int
	RejectedInvalid int
	RejectedOutside int
	Err             error // set when the point was abandoned before an empty page
}

// Aggregator pages through the radius search for sample points and merges
// the validated items into a RecordStore.
type Aggregator struct {
	client   poiapi.Client
	region   *region.Region
	store    *RecordStore
	gate     Gate
	retry    resilience.RetryConfig
	radius   float64
	pageSize int
	skips    *resilience.SkipLog
}

// NewAggregator creates an Aggregator. The retry policy is applied to every
// page; gate is waited on before every attempt.
func NewAggregator(client poiapi.Client, r *region.Region, store *RecordStore, gate Gate, retry resilience.RetryConfig, radius float64, pageSize int, skips *resilience.SkipLog) *Aggregator {
	if pageSize <= 0 {
		pageSize = poiapi.DefaultPageSize
	}
	if skips == nil {
		skips = &resilience.SkipLog{}
	}
	retry.BeforeAttempt = gate.Wait
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("poiapi", "map_query")
	}
	return &Aggregator{
		client:   client,
		region:   r,
		store:    store,
		gate:     gate,
		retry:    retry,
		radius:   radius,
		pageSize: pageSize,
		skips:    skips,
	}
}

// CollectPoint fetches pages 1, 2, ... for point until a page has no items
// or a page cannot be fetched. There is no page limit: the loop relies on
// the remote service eventually returning an empty page.
func (a *Aggregator) CollectPoint(ctx context.Context, point model.SamplePoint) PointResult {
	log := zap.L().With(
		zap.String("component", "crawl.aggregator"),
		zap.String("point", point.Key()),
	)
	res := PointResult{Point: point}

	for page := 1; ; page++ {
		req := poiapi.SearchRequest{
			Lon:     point.Lon,
			Lat:     point.Lat,
			Radius:  a.radius,
			Page:    page,
			PerPage: a.pageSize,
		}
		sp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*poiapi.SearchPage, error) {
			return a.client.SearchPage(ctx, req)
		})
		if err != nil {
			res.Err = err
			if ctx.Err() != nil {
				return res
			}
			a.skips.Add(resilience.NewSkip("list", point.Key(), err))
			log.Warn("abandoning point",
				zap.Int("page", page),
				zap.String("kind", string(resilience.KindOf(err))),
				zap.Error(err),
			)
			return res
		}
		res.Pages++

		if len(sp.Items) == 0 {
			log.Debug("point exhausted", zap.Int("pages", res.Pages), zap.Int("accepted", res.Accepted))
			return res
		}
		res.Items += len(sp.Items)

		batch := make([]model.Record, 0, len(sp.Items))
		for _, it := range sp.Items {
			switch {
			case !it.Valid():
				res.RejectedInvalid++
			case !a.region.Contains(it.Lon, it.Lat):
				res.RejectedOutside++
			default:
				batch = append(batch, model.Record{ID: it.ID, Lon: it.Lon, Lat: it.Lat, Raw: it.Raw})
			}
		}

		added, err := a.store.Merge(batch...)
		if err != nil {
			res.Err = err
			log.Error("merge failed", zap.Int("page", page), zap.Error(err))
			return res
		}
		res.Accepted += len(batch)
		res.New += added
	}
}
