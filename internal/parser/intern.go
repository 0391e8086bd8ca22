package parser

// maxInternedCells caps the pool for one parse. Columns with mostly unique
// values stop being pooled once the cap is reached.
const maxInternedCells = 100000

// cellIntern shares one backing string between equal cells of a table, so
// categorical columns do not hold a copy per row. It is owned by a single
// Parse call and needs no locking.
type cellIntern struct {
	pool map[string]string
}

func newCellIntern() *cellIntern {
	return &cellIntern{pool: make(map[string]string, 256)}
}

// Intern returns the pooled copy of s, adding s while there is room.
func (ci *cellIntern) Intern(s string) string {
	if pooled, ok := ci.pool[s]; ok {
		return pooled
	}
	if len(ci.pool) < maxInternedCells {
		ci.pool[s] = s
	}
	return s
}

// Row interns every cell of rec in place.
func (ci *cellIntern) Row(rec []string) []string {
	for i, cell := range rec {
		rec[i] = ci.Intern(cell)
	}
	return rec
}

func (ci *cellIntern) Len() int {
	return len(ci.pool)
}
