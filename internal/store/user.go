package store

import (
	"os"
	"time"

	"projectos/internal/types"
)

// =============================================================================
// PER-USER STATE (Tier-2G / Tier-2M / policies / couples)
// =============================================================================

// LoadProfile reads the Tier-2G identity kernel, empty when missing.
func (s *Store) LoadProfile(user string) (*types.UserProfile, error) {
	p := &types.UserProfile{Schema: "user_profile_v1"}
	err := ReadJSON(s.UserFile(user, FileUserProfile), p)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SaveProfile persists the Tier-2G identity kernel.
func (s *Store) SaveProfile(user string, p *types.UserProfile) error {
	p.Schema = "user_profile_v1"
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.UserFile(user, FileUserProfile), p)
}

// LoadGlobalFacts reads the Tier-2M global facts map, empty when missing.
func (s *Store) LoadGlobalFacts(user string) (*types.GlobalFactsMap, error) {
	m := &types.GlobalFactsMap{}
	err := ReadJSON(s.UserFile(user, FileUserGlobalMap), m)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SaveGlobalFacts persists the Tier-2M global facts map.
func (s *Store) SaveGlobalFacts(user string, m *types.GlobalFactsMap) error {
	m.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.UserFile(user, FileUserGlobalMap), m)
}

// LoadPolicies implements the policy rule store.
func (s *Store) LoadPolicies(user string) ([]types.PolicyRule, error) {
	var rules []types.PolicyRule
	err := ReadJSON(s.UserFile(user, FileUserPolicies), &rules)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// SavePolicies implements the policy rule store.
func (s *Store) SavePolicies(user string, rules []types.PolicyRule) error {
	return WriteJSON(s.UserFile(user, FileUserPolicies), rules)
}

// =============================================================================
// COUPLES
// =============================================================================

// couplesLinks maps each partner to the other.
type couplesLinks struct {
	Partners map[string]string `json:"partners"`
}

// LinkCouple records the A<->B partner link both ways for both users.
func (s *Store) LinkCouple(userA, userB string) error {
	for _, u := range []string{userA, userB} {
		links := couplesLinks{Partners: map[string]string{}}
		_ = ReadJSON(s.UserFile(u, FileCouplesLinks), &links)
		if links.Partners == nil {
			links.Partners = map[string]string{}
		}
		links.Partners[userA] = userB
		links.Partners[userB] = userA
		if err := WriteJSON(s.UserFile(u, FileCouplesLinks), &links); err != nil {
			return err
		}
	}
	return nil
}

// PartnerOf returns the linked partner for a user, "" when unlinked.
func (s *Store) PartnerOf(user string) string {
	links := couplesLinks{}
	if err := ReadJSON(s.UserFile(user, FileCouplesLinks), &links); err != nil {
		return ""
	}
	return links.Partners[user]
}

// AppendBringUp queues one bringup for the target partner, append-only.
func (s *Store) AppendBringUp(b types.BringUp) error {
	return AppendJSONL(s.UserFile(b.ToUser, FileBringupQueue), b)
}

// PendingBringUps returns queued bringups for a user, capped at max.
func (s *Store) PendingBringUps(user string, max int) []types.BringUp {
	var out []types.BringUp
	_ = ReadJSONLLines(s.UserFile(user, FileBringupQueue), func(line []byte) error {
		var b types.BringUp
		if err := unmarshalLine(line, &b); err != nil {
			return err
		}
		if b.Status == "queued" {
			out = append(out, b)
		}
		return nil
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
