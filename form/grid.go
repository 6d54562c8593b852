package form

import (
	"regexp"
	"strconv"
)

// gridKeyRe matches "<base>_<row>_<col>". The base is greedy so that it may
// itself contain underscores; the two trailing integers are always the
// indices.
var gridKeyRe = regexp.MustCompile(`^(.+)_(\d+)_(\d+)$`)

type cell struct{ row, col int }

// ParseGridKey splits a grid field name into its base and 1-based indices.
// ok is false when the name does not fully match or an index is zero.
func ParseGridKey(name string) (base string, row, col int, ok bool) {
	m := gridKeyRe.FindStringSubmatch(name)
	if m == nil {
		return "", 0, 0, false
	}
	row, errR := strconv.Atoi(m[2])
	col, errC := strconv.Atoi(m[3])
	if errR != nil || errC != nil || row < 1 || col < 1 {
		return "", 0, 0, false
	}
	return m[1], row, col, true
}

// Normalize regroups indexed grid fields into one Grid value per base name.
// The grid is dense: its size is the largest row and column seen for that
// base and unspecified cells hold "". Every input key, grid-shaped or not,
// is carried over unchanged; the reconstructed grid is stored under the base
// key, replacing any value that was there.
//
// No numeric validation happens here.
func Normalize(sub Submission) Submission {
	out := sub.Clone()

	buckets := make(map[string]map[cell]string)
	for name, v := range sub {
		base, r, c, ok := ParseGridKey(name)
		if !ok {
			continue
		}
		if buckets[base] == nil {
			buckets[base] = make(map[cell]string)
		}
		buckets[base][cell{r, c}] = v.First()
	}

	for base, cells := range buckets {
		maxRow, maxCol := 0, 0
		for rc := range cells {
			maxRow = max(maxRow, rc.row)
			maxCol = max(maxCol, rc.col)
		}
		rows := make([][]string, maxRow)
		for r := range rows {
			rows[r] = make([]string, maxCol)
			for c := range rows[r] {
				rows[r][c] = cells[cell{r + 1, c + 1}]
			}
		}
		out[base] = Value{kind: KindGrid, grid: rows}
	}

	return out
}
