// Package presentation renders a snapshot into the shapes served over HTTP.
//
// Every function here is a pure read of the snapshot it is given: nothing
// triggers a refresh and nothing is cached between calls.
package presentation

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
)

// FormatValue renders v without a trailing fractional part for whole
// numbers, e.g. 150 and 12.5.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteFlat writes one "name value" line per metric, sorted by name.
func WriteFlat(w io.Writer, snap *snapshot.Snapshot) error {
	bw := bufio.NewWriter(w)
	for _, name := range snap.Names() {
		bw.WriteString(name)
		bw.WriteByte(' ')
		bw.WriteString(FormatValue(snap.Value(name)))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Flat returns the output of WriteFlat as a string.
func Flat(snap *snapshot.Snapshot) string {
	var b strings.Builder
	_ = WriteFlat(&b, snap)
	return b.String()
}

// JSON returns the snapshot as a plain mapping ready for encoding.
func JSON(snap *snapshot.Snapshot) map[string]float64 {
	return snap.Values()
}
