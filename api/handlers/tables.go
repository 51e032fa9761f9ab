package handlers

import (
	"net/http"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-chi/chi/v5"

	"github.com/aria-lang/kmerflow/internal/catalog"
	"github.com/aria-lang/kmerflow/internal/seqio"
	"github.com/aria-lang/kmerflow/internal/table"
)

// TableRequest represents the sequences of a table to register.
type TableRequest struct {
	Sequences []SequenceItem `json:"sequences"`
}

// SequenceItem is one named sequence.
type SequenceItem struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
}

// TableResponse describes a registered table.
type TableResponse struct {
	Name    string   `json:"name"`
	Rows    int64    `json:"rows"`
	Columns []string `json:"columns"`
}

// TableRowsResponse holds the rows of a table.
type TableRowsResponse struct {
	TableResponse
	Data []map[string]interface{} `json:"data"`
}

// ListTablesHandler lists registered tables.
func (a *API) ListTablesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"tables": a.Catalog.Names()})
}

// PutTableHandler registers a (name, sequence) table.
func (a *API) PutTableHandler(w http.ResponseWriter, r *http.Request) {
	var req TableRequest
	if !a.decode(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")

	records := make([]seqio.Record, len(req.Sequences))
	for i, s := range req.Sequences {
		records[i] = seqio.Record{ID: s.ID, Sequence: s.Sequence}
	}
	rec := seqio.ToRecord(a.Mem, records)
	defer rec.Release()

	if err := a.Catalog.Register(name, rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, describe(name, rec.NumRows(), rec.Schema().Fields()))
}

// GetTableHandler returns the rows of a table, at most limit of them when the
// limit query parameter is set.
func (a *API) GetTableHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, err := a.Catalog.Table(name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rec.Release()

	rows := int(rec.NumRows())
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			badRequest(w, "invalid limit: "+v)
			return
		}
		if limit < rows {
			rows = limit
		}
	}

	fields := rec.Schema().Fields()
	data := make([]map[string]interface{}, rows)
	for i := range data {
		row := make(map[string]interface{}, len(fields))
		for j, f := range fields {
			row[f.Name] = rec.Column(j).GetOneForMarshal(i)
		}
		data[i] = row
	}

	writeJSON(w, http.StatusOK, TableRowsResponse{
		TableResponse: describe(name, rec.NumRows(), fields),
		Data:          data,
	})
}

// DropTableHandler removes a table.
func (a *API) DropTableHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Catalog.Drop(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CountTableRequest represents a request to count the k-mers of a table.
type CountTableRequest struct {
	K int `json:"k"`
}

// CountTableResponse describes the registered k-mer table.
type CountTableResponse struct {
	TableResponse
	TotalCount uint64 `json:"total_count"`
}

// CountTableHandler counts the k-mers of a table's sequence column and
// registers the result as kmers_result.
func (a *API) CountTableHandler(w http.ResponseWriter, r *http.Request) {
	var req CountTableRequest
	if !a.decode(w, r, &req) {
		return
	}

	t, err := catalog.CountTable(a.Mem, a.Catalog, chi.URLParam(r, "name"), req.K, a.Aggregator)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CountTableResponse{
		TableResponse: describe(catalog.ResultTable, int64(t.UniqueCount()), table.Schema.Fields()),
		TotalCount:    t.Total(),
	})
}

func describe(name string, rows int64, fields []arrow.Field) TableResponse {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return TableResponse{Name: name, Rows: rows, Columns: cols}
}
