package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geosweep/internal/config"
	"github.com/sells-group/geosweep/internal/crawl"
	"github.com/sells-group/geosweep/internal/sink"
	"github.com/sells-group/geosweep/pkg/poiapi"
)

var crawlAreas []string

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Sweep the configured areas and store lists and details",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeCrawl); err != nil {
			return err
		}
		areas, err := cfg.SelectAreas(crawlAreas)
		if err != nil {
			return err
		}

		s, err := sink.Open(ctx, cfg.Sink)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := s.Close(); cerr != nil {
				zap.L().Warn("close sink", zap.Error(cerr))
			}
		}()

		p := crawl.NewPipeline(newPOIClient(cfg.Remote), s, cfg)
		results, runErr := p.Run(ctx, areas)
		printResults(cmd.OutOrStdout(), results)
		return runErr
	},
}

// newPOIClient builds the remote client from configuration.
func newPOIClient(rc config.RemoteConfig) poiapi.Client {
	opts := []poiapi.Option{
		poiapi.WithHeaders(rc.Headers),
		poiapi.WithDetailFlag(rc.DetailFlag),
		poiapi.WithInsecureTLS(rc.InsecureSkipVerify),
	}
	if rc.BaseURL != "" {
		opts = append(opts, poiapi.WithBaseURL(rc.BaseURL))
	}
	if rc.ListPath != "" {
		opts = append(opts, poiapi.WithListPath(rc.ListPath))
	}
	if rc.DetailPath != "" {
		opts = append(opts, poiapi.WithDetailPath(rc.DetailPath))
	}
	if rc.ItemsPath != "" {
		opts = append(opts, poiapi.WithItemsPath(rc.ItemsPath))
	}
	return poiapi.NewClient(opts...)
}

func printResults(w io.Writer, results []*crawl.AreaResult) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AREA\tSTAMP\tPOINTS\tRECORDS\tDETAILS\tEMPTY\tSKIPPED\tELAPSED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Area, r.Key.Stamp, r.Points, r.Records,
			r.Detail.Saved, r.Detail.Empty, r.SkipsTotal, r.Duration.Round(time.Second),
		)
	}
	_ = tw.Flush()
}

func init() {
	crawlCmd.Flags().StringSliceVar(&crawlAreas, "area", nil, "area to crawl (repeatable, default all)")
	rootCmd.AddCommand(crawlCmd)
}
