package taxonomy

import (
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensitivity-cli/internal/model"
)

// Holder publishes fully built indexes to concurrent readers. A new index is
// built off to the side and swapped in atomically, so readers see either the
// old or the new snapshot, never a partial one.
type Holder struct {
	current atomic.Pointer[Index]
	opts    []Option
}

// NewHolder returns a Holder serving an empty index until Load is called.
func NewHolder(opts ...Option) *Holder {
	h := &Holder{opts: opts}
	h.current.Store(NewIndex(nil, opts...))
	return h
}

// Current returns the published index.
func (h *Holder) Current() *Index {
	return h.current.Load()
}

// Load builds an index from records and publishes it.
func (h *Holder) Load(records []model.TaxonomyRecord) *Index {
	ix := NewIndex(records, h.opts...)
	h.current.Store(ix)
	st := ix.Stats()
	zap.L().Info("taxonomy: index published",
		zap.Int("records", st.Records),
		zap.Int("keywords", st.Keywords),
		zap.Int("field_names", st.FieldNames),
	)
	return ix
}

// ReloadFile loads path and publishes the result. The previous index stays in
// place when the file cannot be read.
func (h *Holder) ReloadFile(path string) (*Index, error) {
	records, err := LoadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: reload")
	}
	return h.Load(records), nil
}
