// Package screen implements the screening pipeline: a Batch of candidate
// rows threaded through an ordered chain of filter stages, with per-stage
// statistics and snapshots.
package screen

import (
	"github.com/charlie1223/stock-screener/internal/data"
	"github.com/charlie1223/stock-screener/internal/twse"
)

// Row is one candidate ticker. The typed core comes from the quote
// snapshot; stages accumulate derived columns in Extra and must preserve
// columns written by earlier stages.
type Row struct {
	ID        string
	Name      string
	Industry  string
	Market    string
	Price     float64
	Open      float64
	High      float64
	Low       float64
	PrevClose float64
	ChangePct float64
	Volume    int64 // lots

	Extra map[string]interface{}
}

// Set writes a derived column.
func (r *Row) Set(col string, v interface{}) {
	if r.Extra == nil {
		r.Extra = make(map[string]interface{})
	}
	r.Extra[col] = v
}

// Get reads a derived column.
func (r Row) Get(col string) (interface{}, bool) {
	v, ok := r.Extra[col]
	return v, ok
}

// GetFloat reads a derived numeric column; false when absent or nil.
func (r Row) GetFloat(col string) (float64, bool) {
	switch v := r.Extra[col].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetString reads a derived text column.
func (r Row) GetString(col string) string {
	if v, ok := r.Extra[col].(string); ok {
		return v
	}
	return ""
}

// Clone deep-copies the row, including its derived columns.
func (r Row) Clone() Row {
	cloned := r
	if r.Extra != nil {
		cloned.Extra = make(map[string]interface{}, len(r.Extra))
		for k, v := range r.Extra {
			cloned.Extra[k] = v
		}
	}
	return cloned
}

// Batch is the ordered collection of candidate rows flowing through the
// pipeline. Each stage owns its result; the previous batch is superseded.
type Batch []Row

// Clone deep-copies the batch for snapshots.
func (b Batch) Clone() Batch {
	cloned := make(Batch, len(b))
	for i, row := range b {
		cloned[i] = row.Clone()
	}
	return cloned
}

// IDs returns the batch's ticker ids in order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b))
	for i, row := range b {
		ids[i] = row.ID
	}
	return ids
}

// FromQuotes builds the initial batch from the realtime snapshot, filling
// the industry column from the registry map.
func FromQuotes(quotes []twse.Quote, industries map[string]string) Batch {
	batch := make(Batch, 0, len(quotes))
	for _, q := range quotes {
		industry := industries[q.ID]
		if industry == "" {
			industry = data.UnclassifiedIndustry
		}
		batch = append(batch, Row{
			ID:        q.ID,
			Name:      q.Name,
			Industry:  industry,
			Market:    q.Market,
			Price:     q.Price,
			Open:      q.Open,
			High:      q.High,
			Low:       q.Low,
			PrevClose: q.PrevClose,
			ChangePct: q.ChangePct,
			Volume:    q.Volume,
		})
	}
	return batch
}
