package facts

import (
	"strings"

	"projectos/internal/types"
)

// CompactOptions bound the compact facts-map view.
type CompactOptions struct {
	MaxItems int // default 30
	MaxChars int // default 2400
}

// CompactView renders the bounded FACTS_MAP_COMPACT injection. Identity and
// relationship facts are pinned to the top; the rest follow in map order.
// Facts denied by the read-time filter are excluded before bounding.
func CompactView(facts []types.Tier2Fact, allow func(f types.Tier2Fact) bool, opts CompactOptions) string {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 30
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 2400
	}

	var pinned, rest []types.Tier2Fact
	for _, f := range facts {
		if allow != nil && !allow(f) {
			continue
		}
		if f.Slot == types.SlotIdentity || f.Slot == types.SlotRelationship {
			pinned = append(pinned, f)
		} else {
			rest = append(rest, f)
		}
	}

	selected := append(pinned, rest...)
	if len(selected) > opts.MaxItems {
		selected = selected[:opts.MaxItems]
	}

	var b strings.Builder
	b.WriteString("FACTS_MAP_COMPACT:\n")
	for _, f := range selected {
		line := "- " + f.Statement + "\n"
		if b.Len()+len(line) > opts.MaxChars {
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}
