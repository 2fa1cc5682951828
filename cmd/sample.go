package main

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geosweep/internal/config"
	"github.com/sells-group/geosweep/internal/crawl"
	"github.com/sells-group/geosweep/internal/model"
	"github.com/sells-group/geosweep/internal/preview"
)

var (
	sampleArea   string
	sampleFormat string
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print the sample points of an area",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeSample); err != nil {
			return err
		}
		area, ok := cfg.Area(sampleArea)
		if !ok {
			return eris.Errorf("unknown area %q", sampleArea)
		}
		prep, err := crawl.PrepareArea(area)
		if err != nil {
			return err
		}
		return writeSample(cmd.OutOrStdout(), prep, sampleFormat)
	},
}

type sampleDoc struct {
	Area         string              `yaml:"area"`
	Projection   string              `yaml:"projection"`
	GridStepM    float64             `yaml:"grid_step_m"`
	QueryRadiusM float64             `yaml:"query_radius_m"`
	Points       []model.SamplePoint `yaml:"points"`
}

func writeSample(w io.Writer, prep *crawl.PreparedArea, format string) error {
	switch format {
	case "", "geojson":
		fc, err := preview.PointsFeatureCollection(prep.Points)
		if err != nil {
			return err
		}
		data, err := fc.MarshalJSON()
		if err != nil {
			return eris.Wrap(err, "sample: encode geojson")
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return eris.Wrap(err, "sample: indent geojson")
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(w)
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		err := enc.Encode(sampleDoc{
			Area:         prep.Area.Name,
			Projection:   prep.Projection.Name(),
			GridStepM:    prep.Area.GridStepM,
			QueryRadiusM: prep.Area.QueryRadiusM,
			Points:       prep.Points,
		})
		if err != nil {
			return eris.Wrap(err, "sample: encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown format %q (want geojson or yaml)", format)
	}
}

func init() {
	sampleCmd.Flags().StringVar(&sampleArea, "area", "", "area to sample")
	sampleCmd.Flags().StringVar(&sampleFormat, "format", "geojson", "output format: geojson or yaml")
	_ = sampleCmd.MarkFlagRequired("area")
	rootCmd.AddCommand(sampleCmd)
}
