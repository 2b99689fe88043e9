package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holeshot/tilecache/internal/adapter"
	"github.com/holeshot/tilecache/internal/mrf"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
	"github.com/holeshot/tilecache/pkg/utils"
)

const tileExt = ".png"

var packOpts struct {
	metadata   string
	width      int
	height     int
	tileWidth  int
	tileHeight int
	maxLevel   int
	bands      int
	name       string
}

var packCmd = &cobra.Command{
	Use:   "pack <source-dir> <collection> <timestamp>",
	Short: "Pack a directory of tiles into an MRF pyramid in the object store",
	Long: `Pack reads tiles laid out as
  <source-dir>/<collection>/<timestamp>/<rset>/<col>/<row>/<band>.png
and writes image.idx, image.ppg and metadata.json for the pyramid to the
configured object store.

The pyramid geometry comes from --metadata, from a metadata.json next to the
tiles, or from the geometry flags.`,
	Args: cobra.ExactArgs(3),
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

		pyramid := types.PyramidKey{CollectionID: args[1], Timestamp: args[2]}
		dir, err := utils.SecureJoin(args[0], pyramid.CollectionID, pyramid.Timestamp)
		if err != nil {
			return err
		}
		meta, err := packMetadata(dir)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := adapter.NewStore(ctx, cfg.Storage, logger)
		if err != nil {
			return err
		}
		if c, ok := store.(io.Closer); ok {
			defer c.Close()
		}
		writer, ok := store.(types.ObjectWriter)
		if !ok {
			return errors.Newf(errors.ErrCodeInvalidConfig, "storage backend %q is read-only", cfg.Storage.Backend)
		}

		result, err := packPyramid(dir, meta, logger)
		if err != nil {
			return err
		}
		if err := uploadPyramid(ctx, writer, mrf.Layout{Prefix: cfg.Storage.Prefix}, pyramid, result); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "packed %s: %d tiles (%d skipped), data %s, index %s\n",
			pyramid, result.Populated, result.Skipped,
			utils.FormatBytes(int64(len(result.Data))), utils.FormatBytes(int64(len(result.Index))))
		return nil
	},
}

func init() {
	f := packCmd.Flags()
	f.StringVar(&packOpts.metadata, "metadata", "", "metadata.json describing the pyramid")
	f.IntVar(&packOpts.width, "width", 0, "image width in pixels")
	f.IntVar(&packOpts.height, "height", 0, "image height in pixels")
	f.IntVar(&packOpts.tileWidth, "tile-width", 512, "tile width in pixels")
	f.IntVar(&packOpts.tileHeight, "tile-height", 512, "tile height in pixels")
	f.IntVar(&packOpts.maxLevel, "max-level", 0, "coarsest resolution level")
	f.IntVar(&packOpts.bands, "bands", 1, "number of bands")
	f.StringVar(&packOpts.name, "name", "", "optional pyramid name")
	rootCmd.AddCommand(packCmd)
}

// packMetadata picks the pyramid description: --metadata, then a
// metadata.json in dir, then the geometry flags
func packMetadata(dir string) (mrf.Metadata, error) {
	path := packOpts.metadata
	if path == "" {
		candidate := filepath.Join(dir, mrf.MetadataBlob)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return mrf.Metadata{}, errors.Wrap(errors.ErrCodeInvalidConfig, "read metadata", err).WithContext("file", path)
		}
		return mrf.ParseMetadata(data)
	}

	meta := mrf.Metadata{
		Name:       packOpts.name,
		Width:      packOpts.width,
		Height:     packOpts.height,
		TileWidth:  packOpts.tileWidth,
		TileHeight: packOpts.tileHeight,
		MaxRLevel:  packOpts.maxLevel,
		NumBands:   packOpts.bands,
	}
	if _, err := meta.Geometry(); err != nil {
		return mrf.Metadata{}, fmt.Errorf("no metadata.json found and geometry flags are incomplete: %w", err)
	}
	return meta, nil
}

type packResult struct {
	Metadata  mrf.Metadata
	Index     []byte
	Data      []byte
	Populated int64
	Skipped   int
}

// packPyramid walks dir for <rset>/<col>/<row>/<band>.png tiles. Files that do
// not fit the layout are skipped; tiles outside the geometry are an error.
func packPyramid(dir string, meta mrf.Metadata, logger *slog.Logger) (*packResult, error) {
	geometry, err := meta.Geometry()
	if err != nil {
		return nil, err
	}
	result := &packResult{Metadata: meta}
	var data bytes.Buffer
	w := mrf.NewWriter(geometry, &data)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == mrf.MetadataBlob {
			return nil
		}
		level, col, row, band, ok := parseTilePath(rel)
		if !ok {
			logger.Warn("skipping file outside the tile layout", "path", rel)
			result.Skipped++
			return nil
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			logger.Warn("skipping empty tile", "path", rel)
			result.Skipped++
			return nil
		}
		if err := w.Add(level, col, row, band, payload); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Index = w.Index()
	result.Data = data.Bytes()
	result.Populated = w.Populated()
	logger.Info("pyramid packed", "dir", dir, "tiles", result.Populated, "data_bytes", len(result.Data))
	return result, nil
}

func parseTilePath(rel string) (level, col, row, band int, ok bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 || !strings.HasSuffix(parts[3], tileExt) {
		return 0, 0, 0, 0, false
	}
	parts[3] = strings.TrimSuffix(parts[3], tileExt)

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, 0, false
		}
		v[i] = n
	}
	return v[0], v[1], v[2], v[3], true
}

// uploadPyramid writes the data blob before the index that points into it
func uploadPyramid(ctx context.Context, w types.ObjectWriter, layout mrf.Layout, pyramid types.PyramidKey, result *packResult) error {
	doc, err := result.Metadata.Marshal()
	if err != nil {
		return err
	}
	blobs := []struct {
		key  string
		data []byte
	}{
		{layout.DataKey(pyramid), result.Data},
		{layout.IndexKey(pyramid), result.Index},
		{layout.MetadataKey(pyramid), doc},
	}
	for _, b := range blobs {
		if err := w.PutObject(ctx, b.key, b.data); err != nil {
			return err
		}
	}
	return nil
}
