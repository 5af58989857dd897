package presentation

import (
	"fmt"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
)

// Palette is the fixed colour list of every pie chart.
var Palette = []string{"#FF6384", "#36A2EB", "#FFCE56", "#4BC0C0", "#9966FF", "#FF9F40", "#FF6384"}

// Chart is the pie-chart response shape. Labels and Values are parallel.
type Chart struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
	Colors []string  `json:"colors"`
}

// pieType binds a chart type to a bucket family and its display labels.
type pieType struct {
	family string
	labels map[string]string
}

var pieTypes = map[string]pieType{
	"retweets": {family: "retweets", labels: map[string]string{
		"0": "0 RT", "1_10": "1-10 RT", "11_50": "11-50 RT", "51_100": "51-100 RT",
		"101_500": "101-500 RT", "501_1000": "501-1000 RT", "1000plus": "1000+ RT",
	}},
	"likes": {family: "likes", labels: map[string]string{
		"0": "0 Likes", "1_20": "1-20", "21_100": "21-100", "101_500": "101-500",
		"501_2000": "501-2000", "2001_10000": "2001-10000", "10000plus": "10000+",
	}},
	"text_length": {family: "text_length", labels: map[string]string{
		"0_50": "0-50 chars", "51_100": "51-100", "101_150": "101-150",
		"151_200": "151-200", "201_280": "201-280", "281plus": "280+",
	}},
}

// PieCharts renders pie charts for the families of a catalogue.
type PieCharts struct {
	catalogue *catalogue.Catalogue
}

// NewPieCharts returns a renderer for cat.
func NewPieCharts(cat *catalogue.Catalogue) *PieCharts {
	return &PieCharts{catalogue: cat}
}

// Types lists the supported chart types.
func (p *PieCharts) Types() []string {
	return []string{"retweets", "likes", "text_length"}
}

// Chart returns the chart of chartType. Buckets missing from the snapshot
// count as zero; an unknown chart type yields empty labels and values.
func (p *PieCharts) Chart(snap *snapshot.Snapshot, chartType string) Chart {
	chart := Chart{Labels: []string{}, Values: []float64{}, Colors: append([]string(nil), Palette...)}

	pt, ok := pieTypes[chartType]
	if !ok {
		return chart
	}
	fam := p.catalogue.Family(pt.family)
	if fam == nil {
		return chart
	}
	for _, b := range fam.Buckets {
		label, ok := pt.labels[b.Label]
		if !ok {
			label = bucketLabel(b)
		}
		chart.Labels = append(chart.Labels, label)
		chart.Values = append(chart.Values, snap.Value(fam.Metric(b)))
	}
	return chart
}

// bucketLabel describes a reconfigured bucket by its bounds.
func bucketLabel(b catalogue.BucketSpec) string {
	switch {
	case b.Max == nil:
		return fmt.Sprintf("%d+", b.Min)
	case *b.Max == b.Min:
		return fmt.Sprintf("%d", b.Min)
	default:
		return fmt.Sprintf("%d-%d", b.Min, *b.Max)
	}
}
