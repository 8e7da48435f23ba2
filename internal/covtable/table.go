// Package covtable provides the precomputed grid of cumulant covariance
// matrices for the two-step chain and interpolates it at arbitrary decay-time
// ratios.
//
// Grid entries are computed at a minimum decay time of 1; a lookup rescales
// them to physical units. A Table is immutable once constructed and may be
// shared between goroutines.
package covtable

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/domain/cumulant"
)

// Table is the covariance grid indexed by (sample size, time ratio).
type Table struct {
	sizes  []int
	ratios []float64
	orders int
	cov    [][]*mat.SymDense // [size][ratio]
}

// document is the persisted JSON form.
type document struct {
	SampleSizes []int           `json:"sample_sizes"`
	Ratios      []float64       `json:"ratios"`
	Orders      int             `json:"orders"`
	Covariance  [][][][]float64 `json:"covariance"` // [size][ratio][order][order]
}

// New validates and copies a covariance tensor into a Table.
func New(sizes []int, ratios []float64, tensor [][][][]float64) (*Table, error) {
	if len(sizes) == 0 || len(ratios) == 0 {
		return nil, fmt.Errorf("%w: empty grid", core.ErrTableInvalid)
	}
	for i, n := range sizes {
		if n <= 0 || (i > 0 && n <= sizes[i-1]) {
			return nil, fmt.Errorf("%w: sample sizes must be positive and strictly ascending: %v", core.ErrTableInvalid, sizes)
		}
	}
	for i, r := range ratios {
		if !(r >= 1) || math.IsInf(r, 0) || (i > 0 && r <= ratios[i-1]) {
			return nil, fmt.Errorf("%w: ratios must be >= 1 and strictly ascending: %v", core.ErrTableInvalid, ratios)
		}
	}
	if len(tensor) != len(sizes) {
		return nil, fmt.Errorf("%w: %d size slices for %d sample sizes", core.ErrTableInvalid, len(tensor), len(sizes))
	}

	t := &Table{
		sizes:  append([]int(nil), sizes...),
		ratios: append([]float64(nil), ratios...),
		cov:    make([][]*mat.SymDense, len(sizes)),
	}
	for i, bySize := range tensor {
		if len(bySize) != len(ratios) {
			return nil, fmt.Errorf("%w: N=%d has %d ratio entries, want %d", core.ErrTableInvalid, sizes[i], len(bySize), len(ratios))
		}
		t.cov[i] = make([]*mat.SymDense, len(ratios))
		for j, m := range bySize {
			if t.orders == 0 {
				t.orders = len(m)
			}
			sym, err := toSym(m, t.orders)
			if err != nil {
				return nil, fmt.Errorf("%w: entry (N=%d, ratio=%v): %v", core.ErrTableInvalid, sizes[i], ratios[j], err)
			}
			t.cov[i][j] = sym
		}
	}
	if t.orders < 1 || t.orders > cumulant.MaxOrder {
		return nil, fmt.Errorf("%w: order dimension %d outside 1..%d", core.ErrTableInvalid, t.orders, cumulant.MaxOrder)
	}
	return t, nil
}

func toSym(m [][]float64, dim int) (*mat.SymDense, error) {
	if len(m) != dim {
		return nil, fmt.Errorf("matrix has %d rows, want %d", len(m), dim)
	}
	sym := mat.NewSymDense(dim, nil)
	for r, row := range m {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has %d columns, want %d", r, len(row), dim)
		}
		for c, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("non-finite value at [%d,%d]", r, c)
			}
			if c < r {
				if d := math.Abs(v - m[c][r]); d > 1e-9*math.Max(math.Abs(v), 1) {
					return nil, fmt.Errorf("not symmetric at [%d,%d]", r, c)
				}
				continue
			}
			sym.SetSym(r, c, v)
		}
	}
	return sym, nil
}

// Load reads a table artifact from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTableInvalid, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrTableInvalid, path, err)
	}
	t, err := New(doc.SampleSizes, doc.Ratios, doc.Covariance)
	if err != nil {
		return nil, err
	}
	if doc.Orders != 0 && doc.Orders != t.orders {
		return nil, fmt.Errorf("%w: header says %d orders, matrices have %d", core.ErrTableInvalid, doc.Orders, t.orders)
	}
	return t, nil
}

// Save writes the table artifact to path.
func (t *Table) Save(path string) error {
	data, err := json.MarshalIndent(t.document(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Fingerprint returns the digest of the table's compact JSON form. Equal grids
// have equal fingerprints regardless of how the file was indented.
func (t *Table) Fingerprint() (core.Hash, error) {
	data, err := json.Marshal(t.document())
	if err != nil {
		return "", err
	}
	return core.NewHash(data), nil
}

func (t *Table) document() document {
	doc := document{
		SampleSizes: t.sizes,
		Ratios:      t.ratios,
		Orders:      t.orders,
		Covariance:  make([][][][]float64, len(t.sizes)),
	}
	for i := range t.cov {
		doc.Covariance[i] = make([][][]float64, len(t.ratios))
		for j, sym := range t.cov[i] {
			doc.Covariance[i][j] = toRows(sym)
		}
	}
	return doc
}

func toRows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = make([]float64, c)
		for j := range rows[i] {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}

// SampleSizes returns the grid sample sizes.
func (t *Table) SampleSizes() []int {
	return append([]int(nil), t.sizes...)
}

// Ratios returns the grid time ratios.
func (t *Table) Ratios() []float64 {
	return append([]float64(nil), t.ratios...)
}

// Orders returns the number of cumulant orders stored per matrix.
func (t *Table) Orders() int {
	return t.orders
}

// HasSize reports whether n is a grid sample size.
func (t *Table) HasSize(n int) bool {
	_, ok := t.sizeIndex(n)
	return ok
}

func (t *Table) sizeIndex(n int) (int, bool) {
	i := sort.SearchInts(t.sizes, n)
	return i, i < len(t.sizes) && t.sizes[i] == n
}

// Entry returns a copy of the raw grid matrix at (sizeIndex, ratioIndex).
func (t *Table) Entry(sizeIndex, ratioIndex int) *mat.SymDense {
	out := mat.NewSymDense(t.orders, nil)
	out.CopySym(t.cov[sizeIndex][ratioIndex])
	return out
}

// Describe returns a one-line summary of the grid.
func (t *Table) Describe() string {
	return fmt.Sprintf("covariance table: %d sample sizes %v, %d ratios [%g..%g], %dx%d matrices",
		len(t.sizes), t.sizes, len(t.ratios), t.ratios[0], t.ratios[len(t.ratios)-1], t.orders, t.orders)
}
