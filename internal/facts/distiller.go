package facts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"projectos/internal/store"
	"projectos/internal/types"
)

// Distiller promotes Tier-1 raw facts into the Tier-2 project map and the
// per-user global tiers. It is the sole writer of facts_map.md.
type Distiller struct {
	facts  *Store
	disk   *store.Store
	every  int
	group  singleflight.Group
	logger *zap.Logger
}

// NewDistiller creates a distiller. every is the dirty-state cadence in turns.
func NewDistiller(facts *Store, disk *store.Store, every int, logger *zap.Logger) *Distiller {
	if every <= 0 {
		every = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distiller{facts: facts, disk: disk, every: every, logger: logger}
}

// ShouldDistill applies the cadence: immediately when this turn appended
// Tier-1; otherwise every N turns while dirty; always on recall-shaped turns.
func (d *Distiller) ShouldDistill(state *types.ProjectState, wroteThisTurn, recallShaped bool) bool {
	if wroteThisTurn {
		return true
	}
	if recallShaped && state.FactsDirty {
		return true
	}
	return state.FactsDirty && state.FactsTurnCounter%d.every == 0
}

// DistillProject normalizes Tier-1 and rebuilds the Tier-2 project map.
// Idempotent when no Tier-1 writes occurred in between. Concurrent turns for
// the same project collapse into one pass.
func (d *Distiller) DistillProject(user, project string) ([]types.Tier2Fact, error) {
	v, err, _ := d.group.Do(user+"/"+project, func() (interface{}, error) {
		return d.distillProject(user, project)
	})
	tier2, _ := v.([]types.Tier2Fact)
	return tier2, err
}

func (d *Distiller) distillProject(user, project string) ([]types.Tier2Fact, error) {
	if _, err := d.facts.Normalize(user, project); err != nil {
		return nil, err
	}

	raw := d.facts.ReadRaw(user, project)
	tier2 := BuildTier2(raw)

	md := RenderFactsMap(tier2)
	if err := writeFactsMap(d.disk.ProjectFile(user, project, store.FileFactsMap), md); err != nil {
		return tier2, err
	}

	d.logger.Debug("distilled project facts",
		zap.String("user", user), zap.String("project", project), zap.Int("tier2", len(tier2)))
	return tier2, nil
}

// DistillGlobal rebuilds the Tier-2G profile and Tier-2M global map from the
// user's Tier-1G log. Called only on turns that mirrored a fact into the
// Tier-1G log.
func (d *Distiller) DistillGlobal(user string) error {
	_, err, _ := d.group.Do(user+"/_user", func() (interface{}, error) {
		return nil, d.distillGlobal(user)
	})
	return err
}

func (d *Distiller) distillGlobal(user string) error {
	raw := d.facts.ReadUserRaw(user)

	profile, err := d.disk.LoadProfile(user)
	if err != nil {
		profile = &types.UserProfile{Schema: "user_profile_v1"}
	}
	applyIdentityKernel(profile, raw)
	if err := d.disk.SaveProfile(user, profile); err != nil {
		return err
	}

	global := &types.GlobalFactsMap{Facts: BuildTier2(raw)}
	return d.disk.SaveGlobalFacts(user, global)
}

// BuildTier2 groups normalized Tier-1 records by (entity_key, slot) and keeps
// the most recent claim per group. Ordering is deterministic: identity
// kernel first, then relationships, then the rest by entity key.
func BuildTier2(raw []types.Tier1Fact) []types.Tier2Fact {
	type groupKey struct {
		entity string
		slot   types.FactSlot
	}
	latest := make(map[groupKey]types.Tier1Fact)
	order := make([]groupKey, 0)

	for _, f := range raw {
		key := groupKey{entity: f.EntityKey, slot: f.Slot}
		prev, ok := latest[key]
		if !ok {
			order = append(order, key)
			latest[key] = f
			continue
		}
		// Newest-last tie-break: later records win.
		if f.Timestamp >= prev.Timestamp {
			latest[key] = f
		}
	}

	out := make([]types.Tier2Fact, 0, len(order))
	for _, key := range order {
		f := latest[key]
		out = append(out, types.Tier2Fact{
			Statement:  f.Claim,
			Slot:       f.Slot,
			Subject:    f.Subject,
			EntityKey:  f.EntityKey,
			Confidence: confidenceFor(f),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return slotRank(out[i].Slot) < slotRank(out[j].Slot)
	})
	return out
}

func slotRank(s types.FactSlot) int {
	switch s {
	case types.SlotIdentity:
		return 0
	case types.SlotRelationship:
		return 1
	default:
		return 2
	}
}

func confidenceFor(f types.Tier1Fact) float64 {
	switch {
	case f.Slot == types.SlotIdentity && f.Subject == types.SubjectUser:
		return 0.9
	case f.Subject == types.SubjectUser:
		return 0.8
	default:
		return 0.6
	}
}

// =============================================================================
// TIER-2G IDENTITY KERNEL
// =============================================================================

// globalAllowList enumerates the only entity keys that may promote into the
// identity kernel.
var globalAllowList = map[string]bool{
	"preferred_name": true,
	"birthdate":      true,
	"timezone":       true,
	"location":       true,
}

var firstPersonRe = regexp.MustCompile(`(?i)\b(my|i am|i'm|i was|i live|call me)\b`)

// GlobalEligible reports whether a Tier-1 fact may mirror to the user-global
// tier: a fixed allow-list key (or any relationship) AND verbatim
// first-person evidence. Birthdate is strict: the claim must literally say
// "my birthday is" or "i was born on".
func GlobalEligible(f types.Tier1Fact) bool {
	if !globalAllowList[f.EntityKey] && !strings.HasPrefix(f.EntityKey, "relationship:") {
		return false
	}
	if !firstPersonRe.MatchString(f.EvidenceQuote) {
		return false
	}
	if f.EntityKey == "birthdate" {
		lower := strings.ToLower(f.Claim)
		return strings.Contains(lower, "my birthday is") || strings.Contains(lower, "i was born on")
	}
	return true
}

// applyIdentityKernel folds eligible Tier-1G records into the profile.
// Identity kernel first, then relationships; later records win per key.
func applyIdentityKernel(p *types.UserProfile, raw []types.Tier1Fact) {
	for _, f := range raw {
		if !GlobalEligible(f) {
			continue
		}
		switch f.EntityKey {
		case "preferred_name":
			if name := lastWord(f.Claim); name != "" {
				p.PreferredName = name
			}
		case "birthdate":
			if iso, ok := NormalizeBirthdate(f.Claim); ok {
				p.Birthdate = iso
			}
		case "timezone":
			if tz := lastWord(f.Claim); tz != "" {
				p.Timezone = tz
			}
		case "location":
			if loc := strings.TrimSpace(strings.TrimPrefix(f.Claim, "Lives in")); loc != "" {
				p.Location = loc
			}
		default:
			if rel, ok := strings.CutPrefix(f.EntityKey, "relationship:"); ok {
				if p.Relationships == nil {
					p.Relationships = map[string]string{}
				}
				if name := lastWord(f.Claim); name != "" {
					p.Relationships[rel] = name
				}
			}
		}
	}
}

func lastWord(s string) string {
	fields := strings.Fields(strings.TrimRight(s, ".!? "))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// birthdate formats accepted for ISO normalization. Ambiguous non-ISO dates
// are refused rather than guessed.
var birthdateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

var birthdateClaimRe = regexp.MustCompile(`(?i)(?:my birthday is|i was born on)\s+(.+)$`)

// NormalizeBirthdate extracts and normalizes a birthdate claim to ISO
// YYYY-MM-DD. Returns false for any form it cannot normalize unambiguously.
func NormalizeBirthdate(claim string) (string, bool) {
	m := birthdateClaimRe.FindStringSubmatch(strings.TrimRight(claim, ".!? "))
	if m == nil {
		return "", false
	}
	text := strings.TrimSpace(m[1])
	for _, layout := range birthdateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// =============================================================================
// FACTS MAP RENDERING
// =============================================================================

// RenderFactsMap renders the Tier-2 map as Markdown. Lines carry a parseable
// bracket header so the compact view can rebuild structure.
func RenderFactsMap(facts []types.Tier2Fact) string {
	var b strings.Builder
	b.WriteString("# Facts Map\n\n")
	for _, f := range facts {
		b.WriteString(fmt.Sprintf("- [%s|%s|%s|%.2f] %s\n",
			f.Slot, f.Subject, f.EntityKey, f.Confidence, f.Statement))
	}
	return b.String()
}

var factsMapLineRe = regexp.MustCompile(`^- \[([a-z_]+)\|([a-z_]+)\|([^|\]]*)\|([0-9.]+)\] (.+)$`)

// ParseFactsMap parses RenderFactsMap output back into structured facts.
func ParseFactsMap(md string) []types.Tier2Fact {
	var out []types.Tier2Fact
	for _, line := range strings.Split(md, "\n") {
		m := factsMapLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		var conf float64
		fmt.Sscanf(m[4], "%f", &conf)
		out = append(out, types.Tier2Fact{
			Slot:       types.FactSlot(m[1]),
			Subject:    types.FactSubject(m[2]),
			EntityKey:  m[3],
			Confidence: conf,
			Statement:  m[5],
		})
	}
	return out
}

func writeFactsMap(path, md string) error {
	return store.WriteText(path, md)
}
