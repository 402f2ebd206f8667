package grid

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Store owns a lattice, its cells in row-major order and the attribute
// columns computed on them. A Store is not safe for concurrent use.
type Store struct {
	lattice  Lattice
	cells    []Cell
	columns  []Column
	unitToKm float64
	crs      string
}

// Lattice returns the grid topology.
func (s *Store) Lattice() Lattice { return s.lattice }

// CRS returns the coordinate reference identifier, possibly empty.
func (s *Store) CRS() string { return s.crs }

// UnitToKm returns the kilometres per CRS linear unit.
func (s *Store) UnitToKm() float64 { return s.unitToKm }

// Len returns the number of cells.
func (s *Store) Len() int { return len(s.cells) }

// Columns returns the computed columns in the order they were first added.
func (s *Store) Columns() []Column { return slices.Clone(s.columns) }

// HasColumn reports whether col has been computed.
func (s *Store) HasColumn(col Column) bool { return slices.Contains(s.columns, col) }

// Cell returns a copy of cell (row, col).
func (s *Store) Cell(row, col int) (Cell, bool) {
	i := s.lattice.Index(row, col)
	if i < 0 {
		return Cell{}, false
	}
	return s.cells[i].clone(), true
}

// Cells returns copies of all cells in row-major order.
func (s *Store) Cells() []Cell {
	out := make([]Cell, len(s.cells))
	for i, c := range s.cells {
		out[i] = c.clone()
	}
	return out
}

// WithinCount returns how many cell centres lie inside the region.
func (s *Store) WithinCount() int {
	n := 0
	for _, c := range s.cells {
		if c.Within {
			n++
		}
	}
	return n
}

// Values returns col for every cell in row-major order.
func (s *Store) Values(col Column) ([]Value, error) {
	if !s.HasColumn(col) {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col.Name())
	}

	out := make([]Value, len(s.cells))
	for i, c := range s.cells {
		out[i] = c.attrs[col]
	}
	return out, nil
}

// ToArray reshapes col into a Rows x Cols matrix with the north row first.
// Missing values become NaN.
func (s *Store) ToArray(col Column) (*mat.Dense, error) {
	values, err := s.Values(col)
	if err != nil {
		return nil, err
	}

	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = v.OrNaN()
	}
	return mat.NewDense(s.lattice.Rows, s.lattice.Cols, data), nil
}

// Summary describes the evaluated values of a column.
type Summary struct {
	Column    string  `json:"column"`
	Evaluated int     `json:"evaluated"`
	Missing   int     `json:"missing"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stddev"`
}

// Summarize computes min, max, mean and standard deviation over the
// evaluated cells of col. Statistics are zero when nothing was evaluated.
func (s *Store) Summarize(col Column) (Summary, error) {
	values, err := s.Values(col)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Column: col.Name()}
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := v.Get(); ok {
			present = append(present, f)
		}
	}
	sum.Evaluated = len(present)
	sum.Missing = len(values) - len(present)
	if len(present) == 0 {
		return sum, nil
	}

	sum.Min = floats.Min(present)
	sum.Max = floats.Max(present)
	sum.Mean, sum.StdDev = stat.MeanStdDev(present, nil)
	if math.IsNaN(sum.StdDev) {
		sum.StdDev = 0
	}

	return sum, nil
}

// commit installs values as col, replacing any previous content.
func (s *Store) commit(col Column, values []Value) {
	for i := range s.cells {
		s.cells[i].attrs[col] = values[i]
	}
	if !s.HasColumn(col) {
		s.columns = append(s.columns, col)
	}
}

func (c Cell) clone() Cell {
	c.attrs = maps.Clone(c.attrs)
	return c
}
