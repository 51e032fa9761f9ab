package handlers

import (
	"net/http"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/aria-lang/kmerflow/internal/aggregate"
	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/table"
)

// KMerRequest represents a k-mer count request. Sequence is shorthand for a
// single-element Sequences.
type KMerRequest struct {
	Sequence  string   `json:"sequence"`
	Sequences []string `json:"sequences"`
	K         int      `json:"k"`
}

func (r *KMerRequest) all() []string {
	if r.Sequence == "" {
		return r.Sequences
	}
	return append([]string{r.Sequence}, r.Sequences...)
}

// KMerCountResponse represents the response for k-mer counting.
type KMerCountResponse struct {
	K           int               `json:"k"`
	UniqueCount int               `json:"unique_count"`
	TotalCount  uint64            `json:"total_count"`
	Counts      map[string]uint64 `json:"counts"`
}

// KMerCountHandler handles k-mer counting requests.
func (a *API) KMerCountHandler(w http.ResponseWriter, r *http.Request) {
	var req KMerRequest
	if !a.decode(w, r, &req) {
		return
	}

	t, err := a.Aggregator.Count(req.all(), req.K)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, KMerCountResponse{
		K:           req.K,
		UniqueCount: t.UniqueCount(),
		TotalCount:  t.Total(),
		Counts:      t,
	})
}

// TopRequest represents a most frequent k-mers request.
type TopRequest struct {
	KMerRequest
	N int `json:"n"`
}

// TopResponse represents the response for most frequent k-mers.
type TopResponse struct {
	KMers []kmer.KMerCount `json:"kmers"`
}

// TopKMersHandler handles most frequent k-mers requests.
func (a *API) TopKMersHandler(w http.ResponseWriter, r *http.Request) {
	var req TopRequest
	if !a.decode(w, r, &req) {
		return
	}

	t, err := a.Aggregator.Count(req.all(), req.K)
	if err != nil {
		writeError(w, err)
		return
	}
	top, err := t.TopN(req.N)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TopResponse{KMers: top})
}

// CanonicalRequest represents a canonical form request.
type CanonicalRequest struct {
	KMer string `json:"kmer"`
}

// CanonicalResponse represents the response for a canonical form request.
type CanonicalResponse struct {
	KMer              string `json:"kmer"`
	ReverseComplement string `json:"reverse_complement"`
	Canonical         string `json:"canonical"`
	Valid             bool   `json:"valid"`
}

// CanonicalHandler handles canonical form requests.
func (a *API) CanonicalHandler(w http.ResponseWriter, r *http.Request) {
	var req CanonicalRequest
	if !a.decode(w, r, &req) {
		return
	}

	km, err := kmer.NewKMer(req.KMer)
	if err != nil {
		if kmer.KindOf(err) == kmer.KindUnknown {
			badRequest(w, err.Error())
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CanonicalResponse{
		KMer:              km.String(),
		ReverseComplement: km.ReverseComplement().String(),
		Canonical:         km.Canonical().String(),
		Valid:             km.IsValid(),
	})
}

// KMerDistanceRequest represents a k-mer distance request.
type KMerDistanceRequest struct {
	Sequences1 []string `json:"sequences1"`
	Sequences2 []string `json:"sequences2"`
	K          int      `json:"k"`
}

// KMerDistanceResponse represents the response for k-mer distance.
type KMerDistanceResponse struct {
	Jaccard     float64  `json:"jaccard"`
	Cosine      float64  `json:"cosine"`
	Euclidean   float64  `json:"euclidean"`
	Similarity  float64  `json:"similarity"`
	SharedKMers []string `json:"shared_kmers"`
}

// KMerDistanceHandler handles k-mer distance requests.
func (a *API) KMerDistanceHandler(w http.ResponseWriter, r *http.Request) {
	var req KMerDistanceRequest
	if !a.decode(w, r, &req) {
		return
	}

	t1, err := a.Aggregator.Count(req.Sequences1, req.K)
	if err != nil {
		writeError(w, err)
		return
	}
	t2, err := a.Aggregator.Count(req.Sequences2, req.K)
	if err != nil {
		writeError(w, err)
		return
	}

	jaccard := kmer.JaccardDistance(t1, t2)
	writeJSON(w, http.StatusOK, KMerDistanceResponse{
		Jaccard:     jaccard,
		Cosine:      kmer.CosineDistance(t1, t2),
		Euclidean:   kmer.EuclideanDistance(t1, t2),
		Similarity:  1.0 - jaccard,
		SharedKMers: kmer.SharedKMers(t1, t2),
	})
}

// PartialState is the JSON form of an accumulator state.
type PartialState struct {
	K      int      `json:"k"`
	KMers  []string `json:"kmers"`
	Counts []uint64 `json:"counts"`
}

// StateHandler runs the kmer_count operator over the request sequences and
// returns its partial state, ready to be merged elsewhere.
func (a *API) StateHandler(w http.ResponseWriter, r *http.Request) {
	var req KMerRequest
	if !a.decode(w, r, &req) {
		return
	}

	acc, err := aggregate.NewStatic(a.Mem, req.K)
	if err != nil {
		writeError(w, err)
		return
	}

	sb := array.NewStringBuilder(a.Mem)
	sb.AppendValues(req.all(), nil)
	seqs := sb.NewArray()
	sb.Release()
	defer seqs.Release()

	if err := acc.Update([]arrow.Array{seqs}); err != nil {
		writeError(w, err)
		return
	}
	state, err := acc.State()
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() {
		for _, arr := range state {
			arr.Release()
		}
	}()

	kmers, counts := state[0].(*array.String), state[1].(*array.Uint64)
	out := PartialState{K: req.K, KMers: make([]string, kmers.Len()), Counts: counts.Uint64Values()}
	for i := range out.KMers {
		out.KMers[i] = kmers.Value(i)
	}
	writeJSON(w, http.StatusOK, out)
}

// MergeRequest represents a request to merge partial states.
type MergeRequest struct {
	States []PartialState `json:"states"`
	Order  string         `json:"order"`
}

// MergeResponse represents the finalized result of a merge.
type MergeResponse struct {
	K           int              `json:"k"`
	UniqueCount int              `json:"unique_count"`
	Rows        []kmer.KMerCount `json:"rows"`
}

// MergeHandler merges partial states into one accumulator and evaluates it.
func (a *API) MergeHandler(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, ok := table.ParseOrder(req.Order)
	if !ok {
		badRequest(w, "unknown order: "+req.Order)
		return
	}

	acc := aggregate.NewPerRow(a.Mem)
	for _, st := range req.States {
		if len(st.KMers) != len(st.Counts) {
			badRequest(w, "kmers and counts differ in length")
			return
		}
		if err := a.mergeState(acc, st); err != nil {
			writeError(w, err)
			return
		}
	}

	k := acc.K()
	out, err := acc.Evaluate()
	if err != nil {
		writeError(w, err)
		return
	}
	defer out.Release()

	t, err := table.TallyFromStruct(out.(*array.Struct))
	if err != nil {
		writeError(w, err)
		return
	}
	rows := t.Entries()
	if order == table.ByCount {
		rows, _ = t.MostFrequent(len(rows) + 1)
	}
	writeJSON(w, http.StatusOK, MergeResponse{K: k, UniqueCount: len(rows), Rows: rows})
}

func (a *API) mergeState(acc *aggregate.KmerCountAccumulator, st PartialState) error {
	if st.K != 0 {
		for _, km := range st.KMers {
			if len(km) != st.K {
				return &kmer.InconsistentParameterError{Fixed: st.K, Got: len(km)}
			}
		}
	}

	kb := array.NewStringBuilder(a.Mem)
	kb.AppendValues(st.KMers, nil)
	kmers := kb.NewArray()
	kb.Release()
	defer kmers.Release()

	cb := array.NewUint64Builder(a.Mem)
	cb.AppendValues(st.Counts, nil)
	counts := cb.NewArray()
	cb.Release()
	defer counts.Release()

	return acc.Merge([]arrow.Array{kmers, counts})
}
