package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/ttskit/ttskit/pkg/types"
)

// synthBody is the request body of /synthesize and each /batch item.
type synthBody struct {
	Text         string  `json:"text"`
	Lang         string  `json:"lang"`
	Engine       string  `json:"engine,omitempty"`
	Voice        string  `json:"voice,omitempty"`
	Rate         float64 `json:"rate,omitempty"`
	Pitch        float64 `json:"pitch,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`

	// Cache opts a request out of fingerprint caching. Absent means cached.
	Cache *bool `json:"cache,omitempty"`
}

// request converts the wire form to the domain request.
func (b synthBody) request() types.SynthRequest {
	cached := true
	if b.Cache != nil {
		cached = *b.Cache
	}
	return types.SynthRequest{
		Text:         b.Text,
		Language:     b.Lang,
		Engine:       b.Engine,
		Voice:        b.Voice,
		Rate:         b.Rate,
		Pitch:        b.Pitch,
		OutputFormat: types.AudioFormat(b.OutputFormat),
		Cache:        cached,
	}
}

// handleSynthesize runs one request through the orchestrator and streams the
// artifact back with its metadata in headers.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body synthBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeKindError(w, r, types.KindTextValidation, "malformed request body: %v", err)
		return
	}

	art, err := s.orch.Synth(r.Context(), principalID(r), body.request())
	if err != nil {
		writeError(w, r, err)
		return
	}

	cacheStatus := "miss"
	if art.Cached {
		cacheStatus = "hit"
	}
	w.Header().Set("Content-Type", art.Format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Bytes)))
	w.Header().Set("X-Audio-Duration", strconv.FormatFloat(art.DurationSeconds, 'f', 2, 64))
	w.Header().Set("X-Audio-Size", strconv.Itoa(art.SizeBytes))
	w.Header().Set("X-Engine-Used", art.EngineUsed)
	w.Header().Set("X-Cache-Status", cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Bytes)
}

// batchBody is the request body of /batch.
type batchBody struct {
	Requests []synthBody `json:"requests"`
}

// batchItem is one per-request outcome in a /batch response. Exactly one of
// the audio fields or Error is populated.
type batchItem struct {
	OK              bool      `json:"ok"`
	AudioBase64     string    `json:"audio_base64,omitempty"`
	Format          string    `json:"format,omitempty"`
	EngineUsed      string    `json:"engine_used,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	SizeBytes       int       `json:"size_bytes,omitempty"`
	Cached          bool      `json:"cached,omitempty"`
	Error           *apiError `json:"error,omitempty"`
}

// batchResponse preserves request order: results[i] answers requests[i].
type batchResponse struct {
	Results []batchItem `json:"results"`
}

// handleBatch fans the items out on a bounded errgroup. Item failures land
// in their result slot; the call itself only fails on malformed input.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBodyBytes)

	var body batchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeKindError(w, r, types.KindTextValidation, "malformed request body: %v", err)
		return
	}
	if len(body.Requests) == 0 {
		writeKindError(w, r, types.KindTextValidation, "batch contains no requests")
		return
	}
	if len(body.Requests) > maxBatchItems {
		writeKindError(w, r, types.KindTextValidation,
			"batch size %d exceeds limit %d", len(body.Requests), maxBatchItems)
		return
	}

	principal := principalID(r)
	results := make([]batchItem, len(body.Requests))

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i, item := range body.Requests {
		g.Go(func() error {
			art, err := s.orch.Synth(r.Context(), principal, item.request())
			if err != nil {
				results[i] = batchItem{OK: false, Error: itemError(err)}
				return nil
			}
			results[i] = batchItem{
				OK:              true,
				AudioBase64:     base64.StdEncoding.EncodeToString(art.Bytes),
				Format:          string(art.Format),
				EngineUsed:      art.EngineUsed,
				DurationSeconds: art.DurationSeconds,
				SizeBytes:       art.SizeBytes,
				Cached:          art.Cached,
			}
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

// itemError converts an error to its wire form for a batch slot.
func itemError(err error) *apiError {
	msg := err.Error()
	var ke *types.KindError
	if errors.As(err, &ke) && ke.Err != nil {
		msg = ke.Err.Error()
	}
	return &apiError{Kind: string(types.KindOf(err)), Message: msg}
}
