package presentation

import (
	"github.com/dghubble/trie"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
)

// Histogrammer groups bucket metrics by family. Families are indexed by
// name prefix in a trie; a metric belongs to a family only when its
// stripped label is one of the family's declared buckets, so ratios and
// percentiles sharing a prefix (twitter_retweets_p50,
// twitter_engagement_ratio) are left out.
type Histogrammer struct {
	families []*catalogue.Family
	prefixes *trie.RuneTrie
}

// NewHistogrammer indexes families. It is safe for concurrent use once
// built.
func NewHistogrammer(families []*catalogue.Family) *Histogrammer {
	h := &Histogrammer{families: families, prefixes: trie.NewRuneTrie()}
	for _, f := range families {
		// families sharing a prefix are told apart by their labels
		var bucket []*catalogue.Family
		if existing, ok := h.prefixes.Get(f.Prefix).([]*catalogue.Family); ok {
			bucket = existing
		}
		h.prefixes.Put(f.Prefix, append(bucket, f))
	}
	return h
}

// Group returns distribution name → bucket label → value. Every family
// appears in the result, with an empty mapping when the snapshot has none
// of its buckets.
func (h *Histogrammer) Group(snap *snapshot.Snapshot) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(h.families))
	for _, f := range h.families {
		out[f.Distribution] = make(map[string]float64, len(f.Buckets))
	}
	for _, name := range snap.Names() {
		f, label, ok := h.resolve(name)
		if !ok {
			continue
		}
		out[f.Distribution][label] = snap.Value(name)
	}
	return out
}

// resolve finds the family of name, preferring the longest matching prefix.
func (h *Histogrammer) resolve(name string) (*catalogue.Family, string, bool) {
	var candidates [][]*catalogue.Family
	_ = h.prefixes.WalkPath(name, func(_ string, value interface{}) error {
		if fams, ok := value.([]*catalogue.Family); ok {
			candidates = append(candidates, fams)
		}
		return nil
	})
	for i := len(candidates) - 1; i >= 0; i-- {
		for _, f := range candidates[i] {
			if label, ok := f.Label(name); ok {
				return f, label, true
			}
		}
	}
	return nil, "", false
}
