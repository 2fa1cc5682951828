package crawl

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geosweep/internal/model"
	"github.com/sells-group/geosweep/internal/resilience"
	"github.com/sells-group/geosweep/internal/sink"
	"github.com/sells-group/geosweep/pkg/poiapi"
)

// DetailResult summarizes the detail phase of one area.
type DetailResult struct {
	Fetched    int64
	Saved      int64
	Empty      int64 // fetched but carrying no data, not persisted
	Skipped    int64 // abandoned after the retry budget
	SaveFailed int64
}

// Collector fetches one detail payload per identifier and hands it to a sink.
type Collector struct {
	client poiapi.Client
	sink   sink.Sink
	retry  resilience.RetryConfig
	skips  *resilience.SkipLog
}

// NewCollector creates a Collector sharing gate with the list phase.
func NewCollector(client poiapi.Client, s sink.Sink, gate Gate, retry resilience.RetryConfig, skips *resilience.SkipLog) *Collector {
	if skips == nil {
		skips = &resilience.SkipLog{}
	}
	retry.BeforeAttempt = gate.Wait
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("poiapi", "detail")
	}
	return &Collector{client: client, sink: s, retry: retry, skips: skips}
}

// Collect attempts every id exactly once with up to workers fetches in
// flight. Fetch and save failures are logged and counted; only context
// cancellation stops the phase early.
func (c *Collector) Collect(ctx context.Context, ids []string, key sink.Key, workers int) (DetailResult, error) {
	log := zap.L().With(
		zap.String("component", "crawl.collector"),
		zap.String("area", key.Area),
	)
	if workers <= 0 {
		workers = 1
	}

	var fetched, saved, empty, skipped, saveFailed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			payload, err := resilience.DoVal(gctx, c.retry, func(ctx context.Context) (json.RawMessage, error) {
				return c.client.Detail(ctx, id)
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.skips.Add(resilience.NewSkip("detail", id, err))
				log.Warn("skipping detail",
					zap.String("id", id),
					zap.String("kind", string(resilience.KindOf(err))),
					zap.Error(err),
				)
				skipped.Add(1)
				return nil
			}
			fetched.Add(1)

			d := model.Detail{ID: id, Payload: payload}
			if d.Empty() {
				log.Debug("empty detail", zap.String("id", id))
				empty.Add(1)
				return nil
			}
			if err := c.sink.SaveDetail(gctx, key, d); err != nil {
				log.Error("save detail failed", zap.String("id", id), zap.Error(err))
				saveFailed.Add(1)
				return nil
			}
			saved.Add(1)
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return DetailResult{
		Fetched:    fetched.Load(),
		Saved:      saved.Load(),
		Empty:      empty.Load(),
		Skipped:    skipped.Load(),
		SaveFailed: saveFailed.Load(),
	}, err
}
