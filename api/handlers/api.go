// Package handlers provides HTTP handlers for the kmerflow API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/aria-lang/kmerflow/internal/catalog"
	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/shard"
)

// API holds the state shared by the handlers.
type API struct {
	Catalog      catalog.Catalog
	Aggregator   *shard.Aggregator
	Mem          memory.Allocator
	MaxBodyBytes int64
}

// New creates an API over cat, counting with agg.
func New(cat catalog.Catalog, agg *shard.Aggregator, maxBodyBytes int64) *API {
	return &API{
		Catalog:      cat,
		Aggregator:   agg,
		Mem:          memory.DefaultAllocator,
		MaxBodyBytes: maxBodyBytes,
	}
}

// Mount registers the k-mer and table routes on r.
func (a *API) Mount(r chi.Router) {
	r.Route("/kmer", func(r chi.Router) {
		r.Post("/count", a.KMerCountHandler)
		r.Post("/top", a.TopKMersHandler)
		r.Post("/canonical", a.CanonicalHandler)
		r.Post("/distance", a.KMerDistanceHandler)
		r.Post("/state", a.StateHandler)
		r.Post("/merge", a.MergeHandler)
	})

	r.Route("/tables", func(r chi.Router) {
		r.Get("/", a.ListTablesHandler)
		r.Put("/{name}", a.PutTableHandler)
		r.Get("/{name}", a.GetTableHandler)
		r.Delete("/{name}", a.DropTableHandler)
		r.Post("/{name}/kmers", a.CountTableHandler)
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusOf(err error) int {
	if catalog.IsNotFound(err) {
		return http.StatusNotFound
	}
	switch kmer.KindOf(err) {
	case kmer.KindInvalidParameter, kmer.KindInconsistentParameter, kmer.KindSchemaMismatch:
		return http.StatusBadRequest
	case kmer.KindFinalized:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= 500 {
		log.Errorf("handlers: %v", err)
	}
	kind := kmer.KindOf(err).String()
	if status == http.StatusNotFound {
		kind = "not_found"
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: "bad_request"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("handlers: encode response: %v", err)
	}
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := r.Body
	if a.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, a.MaxBodyBytes)
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}
