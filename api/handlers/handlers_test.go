package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-lang/kmerflow/internal/catalog"
	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/shard"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	cat := catalog.NewMemory()
	t.Cleanup(cat.Close)

	r := chi.NewRouter()
	r.Route("/api", New(cat, shard.New(shard.Config{ChunkSize: 2, Workers: 2}), 1<<20).Mount)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestKMerCountHandler(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/api/kmer/count", KMerRequest{Sequences: []string{"ACGT", "ACNGT", "A"}, K: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp KMerCountResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, map[string]uint64{"AC": 4, "CG": 1}, resp.Counts)
	assert.Equal(t, 2, resp.UniqueCount)
	assert.Equal(t, uint64(5), resp.TotalCount)
}

func TestKMerCountHandlerErrors(t *testing.T) {
	h := newRouter(t)

	tests := []struct {
		name string
		body interface{}
		code int
		kind string
	}{
		{"k zero", KMerRequest{Sequence: "ACGT", K: 0}, http.StatusBadRequest, "invalid_parameter"},
		{"k too large", KMerRequest{Sequence: "ACGT", K: kmer.MaxK + 1}, http.StatusBadRequest, "invalid_parameter"},
		{"bad body", "not an object", http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/kmer/count", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestTopKMersHandler(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/api/kmer/top", TopRequest{KMerRequest: KMerRequest{Sequence: "ACGTACGT", K: 2}, N: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TopResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, []kmer.KMerCount{{KMer: "AC", Count: 4}}, resp.KMers)

	rec = do(t, h, http.MethodPost, "/api/kmer/top", TopRequest{KMerRequest: KMerRequest{Sequence: "ACGT", K: 2}, N: kmer.MaxTopN + 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "top_n must not exceed 100")
}

func TestCanonicalHandler(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/api/kmer/canonical", CanonicalRequest{KMer: "gtt"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CanonicalResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, CanonicalResponse{KMer: "GTT", ReverseComplement: "AAC", Canonical: "AAC", Valid: true}, resp)

	rec = do(t, h, http.MethodPost, "/api/kmer/canonical", CanonicalRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKMerDistanceHandler(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/api/kmer/distance", KMerDistanceRequest{
		Sequences1: []string{"ACGT"},
		Sequences2: []string{"ACGT"},
		K:          2,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp KMerDistanceResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 0.0, resp.Jaccard)
	assert.Equal(t, 1.0, resp.Similarity)
	assert.Equal(t, []string{"AC", "CG"}, resp.SharedKMers)
}

func TestStateThenMerge(t *testing.T) {
	h := newRouter(t)

	var states []PartialState
	for _, seq := range []string{"ACGT", "ACNGT"} {
		rec := do(t, h, http.MethodPost, "/api/kmer/state", KMerRequest{Sequence: seq, K: 2})
		require.Equal(t, http.StatusOK, rec.Code)
		var st PartialState
		decodeBody(t, rec, &st)
		assert.Equal(t, 2, st.K)
		states = append(states, st)
	}

	rec := do(t, h, http.MethodPost, "/api/kmer/merge", MergeRequest{States: states, Order: "count"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MergeResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.K)
	assert.Equal(t, []kmer.KMerCount{{KMer: "AC", Count: 4}, {KMer: "CG", Count: 1}}, resp.Rows)
}

func TestMergeHandlerErrors(t *testing.T) {
	h := newRouter(t)

	tests := []struct {
		name string
		req  MergeRequest
		kind string
	}{
		{"mixed k", MergeRequest{States: []PartialState{
			{K: 2, KMers: []string{"AC"}, Counts: []uint64{1}},
			{K: 3, KMers: []string{"ACG"}, Counts: []uint64{1}},
		}}, "inconsistent_parameter"},
		{"key length differs from k", MergeRequest{States: []PartialState{
			{K: 2, KMers: []string{"ACG"}, Counts: []uint64{1}},
		}}, "inconsistent_parameter"},
		{"ragged state", MergeRequest{States: []PartialState{
			{K: 2, KMers: []string{"AC"}},
		}}, "bad_request"},
		{"unknown order", MergeRequest{Order: "size"}, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/kmer/merge", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestTableLifecycle(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPut, "/api/tables/reads", TableRequest{Sequences: []SequenceItem{
		{ID: "r1", Sequence: "ACGT"},
		{ID: "r2", Sequence: "ACNGT"},
		{ID: "r3", Sequence: "A"},
	}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created TableResponse
	decodeBody(t, rec, &created)
	assert.Equal(t, TableResponse{Name: "reads", Rows: 3, Columns: []string{"name", "sequence"}}, created)

	rec = do(t, h, http.MethodPost, "/api/tables/reads/kmers", CountTableRequest{K: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	var counted CountTableResponse
	decodeBody(t, rec, &counted)
	assert.Equal(t, catalog.ResultTable, counted.Name)
	assert.Equal(t, int64(2), counted.Rows)
	assert.Equal(t, uint64(5), counted.TotalCount)

	rec = do(t, h, http.MethodGet, "/api/tables/"+catalog.ResultTable, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows TableRowsResponse
	decodeBody(t, rec, &rows)
	require.Len(t, rows.Data, 2)
	assert.Equal(t, "AC", rows.Data[0]["kmer"])
	assert.Equal(t, float64(4), rows.Data[0]["count"])

	rec = do(t, h, http.MethodGet, "/api/tables/reads?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &rows)
	assert.Len(t, rows.Data, 1)
	assert.Equal(t, int64(3), rows.Rows)

	rec = do(t, h, http.MethodGet, "/api/tables/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tables":["kmers_result","reads"]}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/tables/reads", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/tables/reads", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountTableHandlerErrors(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/api/tables/missing/kmers", CountTableRequest{K: 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/tables/reads", TableRequest{Sequences: []SequenceItem{{ID: "r1", Sequence: "ACGT"}}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/tables/reads/kmers", CountTableRequest{K: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/tables/"+catalog.ResultTable+"/kmers", CountTableRequest{K: 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/tables/reads?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusOf(&kmer.FinalizedError{Op: "update"}))
	assert.Equal(t, http.StatusBadRequest, statusOf(&kmer.SchemaMismatchError{Column: "sequence"}))
	assert.Equal(t, http.StatusInternalServerError, statusOf(&kmer.ChunkError{Chunk: 1}))
}
