package sink

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geosweep/internal/config"
	"github.com/sells-group/geosweep/internal/db"
)

// Open builds the sinks named in cfg.Drivers and migrates the database
// ones. More than one driver yields a Multi.
func Open(ctx context.Context, cfg config.SinkConfig) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var sinks Multi
	fail := func(err error) (Sink, error) {
		if cerr := sinks.Close(); cerr != nil {
			zap.L().Warn("sink: close after open failure", zap.Error(cerr))
		}
		return nil, err
	}

	for _, driver := range cfg.Drivers {
		switch driver {
		case config.DriverFile:
			sinks = append(sinks, NewFileSink(cfg.Dir, cfg.ListName, cfg.DetailPrefix))

		case config.DriverSQLite:
			s, err := NewSQLite(cfg.SQLitePath)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
			if err := s.Migrate(ctx); err != nil {
				return fail(err)
			}

		case config.DriverPostgres:
			pool, err := db.Connect(ctx, cfg.DatabaseURL, nil)
			if err != nil {
				return fail(eris.Wrap(err, "sink: connect postgres"))
			}
			s := NewPostgres(pool)
			sinks = append(sinks, s)
			if err := s.Migrate(ctx); err != nil {
				return fail(err)
			}
		}
		zap.L().Debug("sink opened", zap.String("driver", driver))
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
