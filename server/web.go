package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/storage"
	"github.com/janelia-flyem/horta/tilecache"
	"github.com/janelia-flyem/horta/trace"
)

const (
	// WebAPIPath is the prefix of all HTTP API endpoints.
	WebAPIPath = "/api/"

	// MsgpackContentType selects a msgpack-encoded path segment from the trace endpoint.
	MsgpackContentType = "application/x-msgpack"

	// MaxFocusTiles bounds the desired set requested through the focus endpoint.
	MaxFocusTiles = 4096
)

const traceSchemaJSON = `{
	"type": "object",
	"required": ["anchor1", "anchor2", "xyz1", "xyz2"],
	"properties": {
		"anchor1": {"type": "integer", "minimum": 0},
		"anchor2": {"type": "integer", "minimum": 0},
		"neuron_id": {"type": "integer", "minimum": 0},
		"xyz1": {"$ref": "#/$defs/point"},
		"xyz2": {"$ref": "#/$defs/point"}
	},
	"additionalProperties": false,
	"$defs": {
		"point": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3}
	}
}`

const focusSchemaJSON = `{
	"type": "object",
	"required": ["xyz", "count"],
	"properties": {
		"xyz": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3},
		"depth": {"type": "integer", "minimum": 0},
		"count": {"type": "integer", "minimum": 1, "maximum": 4096}
	},
	"additionalProperties": false
}`

var (
	traceSchema = jsonschema.MustCompileString("trace.json", traceSchemaJSON)
	focusSchema = jsonschema.MustCompileString("focus.json", focusSchemaJSON)
)

// BadRequest writes an error message with the HTTP status code 400 and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusBadRequest, format, args...)
}

// NotFound writes an error message with the HTTP status code 404 and logs it.
func NotFound(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusNotFound, format, args...)
}

// Unauthorized writes an error message with the HTTP status code 401 and logs it.
func Unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusUnauthorized, format, args...)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	horta.Errorf("%s %s (%d): %s\n", r.Method, r.URL.Path, status, msg)
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		horta.Errorf("unable to write JSON response to %s: %v\n", r.URL.Path, err)
	}
}

// decodeValidated checks a JSON body against the schema and then decodes it.
func decodeValidated(r io.Reader, schema *jsonschema.Schema, dest interface{}) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("malformed JSON: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}

func logHTTPRequests(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		timedLog := horta.NewTimeLog()
		h.ServeHTTP(w, r)
		timedLog.Debugf("HTTP %s %s [%s]", r.Method, r.URL.Path, middleware.GetReqID(*c))
	}
	return http.HandlerFunc(fn)
}

type serverInfo struct {
	Version       string        `json:"version"`
	GitVersion    string        `json:"git_version"`
	Note          string        `json:"note,omitempty"`
	Engine        string        `json:"engine"`
	Engines       string        `json:"engines"`
	SourceID      string        `json:"source_id"`
	Origin        horta.Point3d `json:"origin"`
	BlockSize     horta.Point3d `json:"block_size"`
	Depth         int           `json:"depth"`
	RunningTraces int           `json:"running_traces"`
}

func (s *Server) serverInfoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, serverInfo{
		Version:       Version,
		GitVersion:    gitVersion,
		Note:          s.config.Server.Note,
		Engine:        s.config.Source.Engine,
		Engines:       storage.EnginesAvailable(),
		SourceID:      s.layout.SourceID,
		Origin:        s.layout.Origin,
		BlockSize:     s.layout.BlockSize,
		Depth:         s.layout.MaxDepth,
		RunningTraces: s.traces.Running(),
	})
}

type traceRequest struct {
	Anchor1  uint64        `json:"anchor1"`
	Anchor2  uint64        `json:"anchor2"`
	NeuronID uint64        `json:"neuron_id"`
	XYZ1     horta.Point3d `json:"xyz1"`
	XYZ2     horta.Point3d `json:"xyz2"`
}

type traceResponse struct {
	JobID       string          `json:"job_id"`
	Anchor1     uint64          `json:"anchor1"`
	Anchor2     uint64          `json:"anchor2"`
	Outcome     string          `json:"outcome"`
	Path        []horta.Point3d `json:"path,omitempty"`
	Intensities []int32         `json:"intensities,omitempty"`
	Cost        float64         `json:"cost"`
	Expanded    int             `json:"expanded"`
	ElapsedMs   float64         `json:"elapsed_ms"`
}

// traceHandler submits a trace and responds when it finishes.  Requests for a segment
// already being traced wait on the running job.
func (s *Server) traceHandler(w http.ResponseWriter, r *http.Request) {
	var tr traceRequest
	if err := decodeValidated(r.Body, traceSchema, &tr); err != nil {
		BadRequest(w, r, "bad trace request: %v", err)
		return
	}
	if ext := s.layout.Extents(s.layout.MaxDepth); !ext.Contains(tr.XYZ1) || !ext.Contains(tr.XYZ2) {
		BadRequest(w, r, "trace endpoints %s and %s must be within volume %s", tr.XYZ1, tr.XYZ2, ext)
		return
	}
	req := trace.NewPathTraceRequest(tr.Anchor1, tr.Anchor2, tr.XYZ1, tr.XYZ2)
	req.NeuronID = tr.NeuronID
	future := s.traces.Submit(req)
	result, err := future.Wait(r.Context())
	switch {
	case errors.Is(err, trace.ErrCancelled):
		writeError(w, r, http.StatusConflict, "trace %s cancelled", req.Segment)
		return
	case err != nil && r.Context().Err() != nil:
		horta.Infof("Client stopped waiting for trace job %s\n", future.JobID())
		return
	case err != nil:
		BadRequest(w, r, "trace %s failed: %v", req.Segment, err)
		return
	}

	if r.Header.Get("Accept") == MsgpackContentType && result.Outcome == trace.Found {
		seg := trace.NewTracedPathSegment(req.Segment, result)
		data, err := seg.MarshalMsg(nil)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "unable to encode path: %v", err)
			return
		}
		w.Header().Set("Content-Type", MsgpackContentType)
		w.Header().Set("X-Trace-Job", future.JobID())
		w.Write(data)
		return
	}
	writeJSON(w, r, traceResponse{
		JobID:       future.JobID(),
		Anchor1:     req.Segment.Anchor1,
		Anchor2:     req.Segment.Anchor2,
		Outcome:     result.Outcome.String(),
		Path:        result.Path,
		Intensities: result.Intensities,
		Cost:        result.Cost,
		Expanded:    result.Expanded,
		ElapsedMs:   float64(result.Elapsed.Microseconds()) / 1000,
	})
}

func (s *Server) cancelTraceHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	a1, err1 := strconv.ParseUint(c.URLParams["anchor1"], 10, 64)
	a2, err2 := strconv.ParseUint(c.URLParams["anchor2"], 10, 64)
	if err1 != nil || err2 != nil {
		BadRequest(w, r, "anchors must be unsigned integers, got %q and %q",
			c.URLParams["anchor1"], c.URLParams["anchor2"])
		return
	}
	idx := trace.NewSegmentIndex(a1, a2)
	if !s.traces.Cancel(idx) {
		NotFound(w, r, "no running trace for segment %s", idx)
		return
	}
	writeJSON(w, r, map[string]string{"cancelled": idx.String()})
}

type cacheStats struct {
	Tiles tilecache.Stats     `json:"tiles"`
	Raw   *storage.CacheStats `json:"raw,omitempty"`
}

func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := cacheStats{Tiles: s.cache.Stats()}
	if s.raw != nil {
		raw := s.raw.Stats()
		stats.Raw = &raw
	}
	horta.Debugf("Tile cache %s\n", stats.Tiles)
	writeJSON(w, r, stats)
}

type focusRequest struct {
	XYZ   horta.Point3d `json:"xyz"`
	Depth *int          `json:"depth"`
	Count int           `json:"count"`
}

// focusHandler makes the tiles nearest a voxel the cache's desired set.
func (s *Server) focusHandler(w http.ResponseWriter, r *http.Request) {
	var fr focusRequest
	if err := decodeValidated(r.Body, focusSchema, &fr); err != nil {
		BadRequest(w, r, "bad focus request: %v", err)
		return
	}
	depth := s.layout.MaxDepth
	if fr.Depth != nil {
		depth = *fr.Depth
	}
	if depth > s.layout.MaxDepth {
		BadRequest(w, r, "depth %d is deeper than octree depth %d", depth, s.layout.MaxDepth)
		return
	}
	keys := s.cache.UpdateFocus(s.layout, fr.XYZ, depth, fr.Count)
	addrs := make([]string, len(keys))
	for i, key := range keys {
		addrs[i] = key.Address.String()
	}
	writeJSON(w, r, map[string]interface{}{"depth": depth, "tiles": addrs})
}

type tileStatus struct {
	Key            string `json:"key"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Depth          int    `json:"depth,omitempty"`
	Channels       int    `json:"channels,omitempty"`
	BytesPerSample int    `json:"bytes_per_sample,omitempty"`
	Levels         int    `json:"levels,omitempty"`
	Bytes          uint64 `json:"bytes,omitempty"`
}

// tileHandler reports the cache status of the tile at an octree path such as
// "/api/tile/2/0/5", requesting it first if the query has "request=true".
func (s *Server) tileHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	addr, err := octree.ParseAddress(strings.Trim(c.URLParams["*"], "/"))
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	if addr.Depth() > s.layout.MaxDepth {
		BadRequest(w, r, "tile %s is deeper than octree depth %d", addr, s.layout.MaxDepth)
		return
	}
	key := s.layout.Key(addr)
	if r.URL.Query().Get("request") == "true" {
		s.cache.Request(key)
	}
	status := s.cache.Poll(key)
	resp := tileStatus{Key: key.String(), State: status.State.String()}
	if status.Err != nil {
		resp.Error = status.Err.Error()
	}
	if b := status.Block; b != nil {
		resp.Width, resp.Height, resp.Depth = b.Width, b.Height, b.Depth
		resp.Channels, resp.BytesPerSample = b.Channels, b.BytesPerSample
		resp.Levels, resp.Bytes = len(b.Levels), b.NumBytes()
	}
	writeJSON(w, r, resp)
}
