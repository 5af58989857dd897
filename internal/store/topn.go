package store

import (
	"container/heap"
	"fmt"
	"sort"
)

// rowHeap is a heap of grouped rows ordered by one select item.
// It implements heap.Interface so container/heap can maintain it.
//
// The heap keeps the WORST row at the root: when it holds limit rows and a
// better row arrives, the root is replaced. This keeps top-N selection at
// O(n log limit) instead of sorting every group.
type rowHeap struct {
	rows       []Row
	col        int
	descending bool
}

// Len returns the number of rows in the heap.
func (h *rowHeap) Len() int { return len(h.rows) }

// Less puts the row that ranks last at the root.
func (h *rowHeap) Less(i, j int) bool { return ranksBefore(h.rows[j], h.rows[i], h.col, h.descending) }

// Swap exchanges two rows.
func (h *rowHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }

// Push is called by heap.Push.
func (h *rowHeap) Push(x interface{}) { h.rows = append(h.rows, x.(Row)) }

// Pop is called by heap.Pop after moving the root to the end.
func (h *rowHeap) Pop() interface{} {
	old := h.rows
	n := len(old)
	item := old[n-1]
	old[n-1] = Row{} // drop references held by the removed row
	h.rows = old[:n-1]
	return item
}

// ranksBefore reports whether a precedes b. Ties on the order column are
// broken by the group key so results are deterministic.
func ranksBefore(a, b Row, col int, descending bool) bool {
	av, bv := orderValue(a, col), orderValue(b, col)
	if av != bv {
		if descending {
			return av > bv
		}
		return av < bv
	}
	return fmt.Sprint(a.Group) < fmt.Sprint(b.Group)
}

// orderValue returns the numeric order key of r. Unconvertible or NULL
// values sort as zero.
func orderValue(r Row, col int) float64 {
	if col < 0 || col >= len(r.Values) {
		return 0
	}
	f, err := Float(r.Values[col])
	if err != nil {
		return 0
	}
	return f
}

// orderRows orders grouped rows by select item col and keeps at most limit
// of them. A negative col leaves rows ordered by group key only; a zero
// limit keeps every row.
func orderRows(rows []Row, col int, descending bool, limit int) []Row {
	if col < 0 {
		sort.Slice(rows, func(i, j int) bool {
			return fmt.Sprint(rows[i].Group) < fmt.Sprint(rows[j].Group)
		})
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		return rows
	}

	if limit <= 0 || limit >= len(rows) {
		sort.Slice(rows, func(i, j int) bool { return ranksBefore(rows[i], rows[j], col, descending) })
		return rows
	}

	h := &rowHeap{rows: make([]Row, 0, limit), col: col, descending: descending}
	for _, r := range rows {
		if h.Len() < limit {
			heap.Push(h, r)
			continue
		}
		if ranksBefore(r, h.rows[0], col, descending) {
			h.rows[0] = r
			heap.Fix(h, 0)
		}
	}

	// Popping yields the worst row first; fill from the back.
	out := make([]Row, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Row)
	}
	return out
}
