package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/holeshot/tilecache/internal/adapter"
	"github.com/holeshot/tilecache/internal/mrf"
	"github.com/holeshot/tilecache/pkg/types"
	"github.com/holeshot/tilecache/pkg/utils"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <collection> <timestamp>",
	Short: "Print the geometry and tile counts of a pyramid index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, closer, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx := cmd.Context()
		store, err := adapter.NewStore(ctx, cfg.Storage, logger)
		if err != nil {
			return err
		}
		if c, ok := store.(io.Closer); ok {
			defer c.Close()
		}

		pyramid := types.PyramidKey{CollectionID: args[0], Timestamp: args[1]}
		idx, err := mrf.Load(ctx, store, mrf.Layout{Prefix: cfg.Storage.Prefix}, pyramid)
		if err != nil {
			return err
		}

		report := inspectIndex(idx)
		if inspectJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		report.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(inspectCmd)
}

type levelReport struct {
	Level     int   `json:"level"`
	Columns   int   `json:"columns"`
	Rows      int   `json:"rows"`
	Records   int64 `json:"records"`
	Populated int64 `json:"populated"`
	Bytes     int64 `json:"bytes"`
}

type indexReport struct {
	Pyramid    string        `json:"pyramid"`
	Metadata   mrf.Metadata  `json:"metadata"`
	Records    int64         `json:"records"`
	Populated  int64         `json:"populated"`
	Empty      int64         `json:"empty"`
	IndexBytes int64         `json:"index_bytes"`
	DataBytes  int64         `json:"data_bytes"`
	Levels     []levelReport `json:"levels"`
}

func inspectIndex(idx *mrf.IndexFile) *indexReport {
	g := idx.Geometry()
	report := &indexReport{
		Pyramid:    idx.Pyramid().String(),
		Metadata:   idx.Metadata(),
		Records:    g.NumTiles(),
		Populated:  idx.Populated(),
		IndexBytes: idx.IndexSize(),
		DataBytes:  idx.DataSize(),
	}
	report.Empty = report.Records - report.Populated

	for level, grid := range g.Levels {
		lr := levelReport{
			Level:   level,
			Columns: grid.Columns,
			Rows:    grid.Rows,
			Records: grid.Tiles() * int64(g.Bands),
		}
		for i := grid.Base; i < grid.Base+lr.Records; i++ {
			if rec := idx.RecordAt(i); !rec.Empty() {
				lr.Populated++
				lr.Bytes += int64(rec.Length)
			}
		}
		report.Levels = append(report.Levels, lr)
	}
	return report
}

func (r *indexReport) print(out io.Writer) {
	m := r.Metadata
	fmt.Fprintf(out, "pyramid:   %s\n", r.Pyramid)
	if m.Name != "" {
		fmt.Fprintf(out, "name:      %s\n", m.Name)
	}
	fmt.Fprintf(out, "image:     %dx%d, %d band(s)\n", m.Width, m.Height, m.NumBands)
	fmt.Fprintf(out, "tiles:     %dx%d, levels 0..%d\n", m.TileWidth, m.TileHeight, m.MaxRLevel)
	fmt.Fprintf(out, "records:   %d (%d populated, %d empty)\n", r.Records, r.Populated, r.Empty)
	fmt.Fprintf(out, "index:     %s\n", utils.FormatBytes(r.IndexBytes))
	fmt.Fprintf(out, "data:      %s\n\n", utils.FormatBytes(r.DataBytes))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tGRID\tRECORDS\tPOPULATED\tBYTES")
	for _, l := range r.Levels {
		fmt.Fprintf(tw, "%d\t%dx%d\t%d\t%d\t%s\n", l.Level, l.Columns, l.Rows, l.Records, l.Populated, utils.FormatBytes(l.Bytes))
	}
	tw.Flush()
}
