// Package facts implements the fact tier pipeline: Tier-1 raw candidate
// capture, normalization, and distillation into the Tier-2 project map plus
// the per-user global tiers.
package facts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"projectos/internal/policy"
	"projectos/internal/store"
	"projectos/internal/types"
)

// ErrEvidenceNotVerbatim rejects a candidate whose evidence quote is not a
// substring of the extraction window.
var ErrEvidenceNotVerbatim = fmt.Errorf("evidence quote is not a verbatim substring of the window")

// Store appends and normalizes Tier-1 raw facts, gated by the policy engine.
type Store struct {
	disk   *store.Store
	policy *policy.Engine
	logger *zap.Logger
}

// NewStore creates a fact store over the disk store and policy engine.
func NewStore(disk *store.Store, pol *policy.Engine, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{disk: disk, policy: pol, logger: logger}
}

// AppendResult reports what a candidate append did.
type AppendResult struct {
	Stored   bool
	Mirrored bool
}

// AppendRawCandidate appends one Tier-1 candidate for a project after
// verifying the evidence contract and the write-time policy gate. A policy
// denial is swallowed silently; the record is simply not written.
func (s *Store) AppendRawCandidate(user, project string, fact types.Tier1Fact, windowText string) (AppendResult, error) {
	if fact.EvidenceQuote == "" || !strings.Contains(windowText, fact.EvidenceQuote) {
		return AppendResult{}, ErrEvidenceNotVerbatim
	}

	dec := s.policy.Decide(user, fact.Claim, fact.EntityKey)
	if !dec.Store {
		s.logger.Debug("tier1 write policy-denied", zap.String("user", user), zap.String("entity", fact.EntityKey))
		return AppendResult{}, nil
	}

	if fact.Timestamp == "" {
		fact.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if err := store.AppendJSONL(s.disk.ProjectFile(user, project, store.FileFactsRaw), fact); err != nil {
		return AppendResult{}, err
	}

	// Mirroring is gated by policy alone; the identity-kernel allow-list
	// applies later, at Tier-2G promotion time in the distiller.
	res := AppendResult{Stored: true}
	if dec.MirrorGlobal {
		if err := s.appendUserRawCandidate(user, fact); err != nil {
			s.logger.Warn("tier1 global mirror failed", zap.Error(err))
		} else {
			res.Mirrored = true
		}
	}
	return res, nil
}

// appendUserRawCandidate mirrors a candidate into the user-global Tier-1G log.
func (s *Store) appendUserRawCandidate(user string, fact types.Tier1Fact) error {
	return store.AppendJSONL(s.disk.UserFile(user, store.FileUserFactsRaw), fact)
}

// ReadRaw returns all Tier-1 records for a project.
func (s *Store) ReadRaw(user, project string) []types.Tier1Fact {
	return readFactsJSONL(s.disk.ProjectFile(user, project, store.FileFactsRaw))
}

// ReadUserRaw returns all Tier-1G records for a user.
func (s *Store) ReadUserRaw(user string) []types.Tier1Fact {
	return readFactsJSONL(s.disk.UserFile(user, store.FileUserFactsRaw))
}

func readFactsJSONL(path string) []types.Tier1Fact {
	var out []types.Tier1Fact
	_ = store.ReadJSONLLines(path, func(line []byte) error {
		var f types.Tier1Fact
		if err := unmarshal(line, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out
}

// NormalizeResult counts what a normalize pass kept and dropped.
type NormalizeResult struct {
	Kept    int
	Dropped int
}

// Normalize rewrites the project's Tier-1 log in normalized form: claims are
// whitespace-collapsed, records without a claim or evidence are dropped, and
// exact (claim, slot, entity_key) duplicates collapse to the earliest record.
// Idempotent: normalizing a normalized log is a no-op.
func (s *Store) Normalize(user, project string) (NormalizeResult, error) {
	path := s.disk.ProjectFile(user, project, store.FileFactsRaw)
	raw := readFactsJSONL(path)

	var res NormalizeResult
	seen := make(map[string]bool, len(raw))
	kept := make([]interface{}, 0, len(raw))
	for _, f := range raw {
		f.Claim = collapseSpace(f.Claim)
		if f.Claim == "" || f.EvidenceQuote == "" {
			res.Dropped++
			continue
		}
		if f.Slot == "" {
			f.Slot = types.SlotOther
		}
		if f.Subject == "" {
			f.Subject = types.SubjectUnknown
		}
		key := strings.ToLower(f.Claim) + "|" + string(f.Slot) + "|" + f.EntityKey
		if seen[key] {
			res.Dropped++
			continue
		}
		seen[key] = true
		kept = append(kept, f)
		res.Kept++
	}

	if err := store.ReplaceJSONL(path, kept); err != nil {
		return res, err
	}
	return res, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func unmarshal(line []byte, v interface{}) error {
	return json.Unmarshal(line, v)
}
