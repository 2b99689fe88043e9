package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/holeshot/tilecache/internal/rangeheader"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/health"
	"github.com/holeshot/tilecache/pkg/types"
)

const (
	contentTypeTile = "image/png"
	contentTypeBlob = "application/octet-stream"
	contentTypeJSON = "application/json"
)

// Tile endpoint

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	coord, err := tileCoordinate(r)
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}

	tile, err := s.tiles.FetchTileRange(r.Context(), coord, r.Header.Get("Range"))
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentTypeTile)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.Itoa(len(tile.Data)))
	if tile.Cached {
		h.Set("X-Cache", "HIT")
	} else {
		h.Set("X-Cache", "MISS")
	}

	status := http.StatusOK
	if tile.Partial() {
		h.Set("Content-Range", tile.Range.ContentRange(tile.Size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	if _, err := w.Write(tile.Data); err != nil {
		s.logger.Debug("tile write failed", "tile", coord.Key(), "error", err)
	}
}

func tileCoordinate(r *http.Request) (types.TileCoordinate, error) {
	coord := types.TileCoordinate{
		CollectionID: chi.URLParam(r, "imageId"),
		Timestamp:    chi.URLParam(r, "timestamp"),
	}
	fields := []struct {
		name string
		dst  *int
	}{
		{"rSet", &coord.Level},
		{"col", &coord.Column},
		{"row", &coord.Row},
		{"band", &coord.Band},
	}
	for _, f := range fields {
		v, err := strconv.Atoi(chi.URLParam(r, f.name))
		if err != nil || v < 0 {
			return coord, errors.Newf(errors.ErrCodeMalformedRequest, "invalid %s %q", f.name, chi.URLParam(r, f.name)).
				WithComponent("api")
		}
		*f.dst = v
	}
	return coord, nil
}

// Pyramid blob passthrough

func pyramidKey(r *http.Request) types.PyramidKey {
	return types.PyramidKey{
		CollectionID: chi.URLParam(r, "imageId"),
		Timestamp:    chi.URLParam(r, "timestamp"),
	}
}

// handleIndexBlob serves the raw index. A Range header selects one range of it.
func (s *Server) handleIndexBlob(w http.ResponseWriter, r *http.Request) {
	pyramid := pyramidKey(r)
	idx, err := s.indexes.Get(r.Context(), pyramid)
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}

	size := idx.IndexSize()
	br := types.ByteRange{Start: 0, End: size - 1}
	partial := false
	if header := r.Header.Get("Range"); header != "" {
		if br, err = rangeheader.ParseSingle(header, size); err != nil {
			s.respondTileError(w, r, err)
			return
		}
		partial = true
	}
	s.serveBlob(w, r, s.indexes.Layout().IndexKey(pyramid), br, size, partial)
}

// handleDataBlob serves exactly one range of the packed data blob
func (s *Server) handleDataBlob(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Range")
	if header == "" {
		s.respondTileError(w, r, errors.NewError(errors.ErrCodeMultiRangeUnsupported,
			"the data blob is served one range at a time").WithComponent("api"))
		return
	}
	spec, err := rangeheader.ParseOne(header)
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}

	idx, err := s.indexes.Get(r.Context(), pyramidKey(r))
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}
	br, err := spec.Resolve(idx.DataSize())
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}
	s.serveBlob(w, r, idx.DataKey(), br, idx.DataSize(), true)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	idx, err := s.indexes.Get(r.Context(), pyramidKey(r))
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}
	doc, err := idx.Metadata().Marshal()
	if err != nil {
		s.respondTileError(w, r, errors.Wrap(errors.ErrCodeInternalError, "encoding metadata", err))
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request, key string, br types.ByteRange, size int64, partial bool) {
	data, err := s.store.FetchRange(r.Context(), key, br.Start, br.Length())
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentTypeBlob)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	status := http.StatusOK
	if partial {
		h.Set("Content-Range", br.ContentRange(size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("blob write failed", "key", key, "error", err)
	}
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now(),
			"note":      "Health tracking not configured",
		})
		return
	}

	report := s.health.Report()
	statusCode := http.StatusOK
	if report.Status == health.StateUnavailable {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, report)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// handleReadiness fails only when a critical component is unavailable
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
			"note":      "Health tracking not configured",
		})
		return
	}

	ready, failing := s.health.Ready()
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"failing":   failing,
		"status":    s.health.GetOverallHealth().String(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	endpoints := []string{
		"/tiles/{imageId}/{timestamp}/{rSet}/{col}/{row}/{band}",
		"/health",
		"/health/live",
		"/health/ready",
		"/info",
	}
	if s.indexes != nil && s.store != nil {
		endpoints = append(endpoints,
			"/mrf/{imageId}/{timestamp}/image.idx",
			"/mrf/{imageId}/{timestamp}/image.ppg",
			"/mrf/{imageId}/{timestamp}/metadata.json")
	}
	if s.config.EnableMetrics && s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}
	endpoints = append(endpoints, s.adminEndpoints()...)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "tilecache",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":      message,
		"request_id": RequestIDFrom(r.Context()),
		"timestamp":  time.Now(),
	})
}

// respondTileError maps err onto its status code. Unsatisfiable ranges carry
// the resource size in Content-Range as "bytes */size".
func (s *Server) respondTileError(w http.ResponseWriter, r *http.Request, err error) {
	s.metrics.RecordError(err)
	status := errors.HTTPStatus(err)

	id := RequestIDFrom(r.Context())
	body := map[string]interface{}{
		"error":      err.Error(),
		"request_id": id,
		"timestamp":  time.Now(),
	}
	var logged interface{} = err
	if te, ok := errors.AsTileError(err); ok {
		// the error may be shared with other waiters; tag a copy
		tagged := *te
		logged = tagged.WithRequestID(id).String()
		body["error"] = te.Message
		body["code"] = te.Code
		body["retryable"] = te.Retryable
		if status == http.StatusRequestedRangeNotSatisfiable {
			if size, ok := te.Details["size"].(int64); ok {
				w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			}
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", r.URL.Path, "status", status, "error", logged)
	}
	s.respondJSON(w, status, body)
}
