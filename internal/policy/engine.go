// Package policy evaluates user memory policies at write and read time and
// parses the deterministic natural-language policy commands.
package policy

import (
	"strings"

	"go.uber.org/zap"

	"projectos/internal/types"
)

// RuleStore persists per-user policy rules.
type RuleStore interface {
	LoadPolicies(user string) ([]types.PolicyRule, error)
	SavePolicies(user string, rules []types.PolicyRule) error
}

// Engine gates fact writes and reads against the user's memory policies.
type Engine struct {
	store  RuleStore
	logger *zap.Logger
}

// NewEngine creates a policy engine over the given rule store.
func NewEngine(store RuleStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger}
}

// Decide evaluates all gates for one Tier-1 claim. Rules that fail to load
// yield the permissive default; a write is never blocked by a disk error.
func (e *Engine) Decide(user, claim, entityKey string) types.PolicyDecision {
	dec := types.PolicyDecision{Store: true, MirrorGlobal: true, AllowResurface: true}

	rules, err := e.store.LoadPolicies(user)
	if err != nil {
		e.logger.Warn("policy load failed, defaulting permissive", zap.String("user", user), zap.Error(err))
		return dec
	}

	for _, r := range rules {
		if !ruleMatches(r, claim, entityKey) {
			continue
		}
		switch r.Action {
		case types.PolicyDoNotStore:
			dec.Store = false
			dec.MirrorGlobal = false
			dec.AllowResurface = false
		case types.PolicyProjectOnly:
			dec.MirrorGlobal = false
		case types.PolicyDoNotResurface:
			dec.AllowResurface = false
		case types.PolicyAllowGlobal:
			dec.MirrorGlobal = true
		}
	}
	return dec
}

// AllowResurface is the read-time gate used when assembling canonical
// snippets.
func (e *Engine) AllowResurface(user, claim, entityKey string) bool {
	return e.Decide(user, claim, entityKey).AllowResurface
}

// Upsert adds a rule if no identical {action, match_type, match_value} tuple
// exists. Idempotent.
func (e *Engine) Upsert(user string, rule types.PolicyRule) error {
	rules, err := e.store.LoadPolicies(user)
	if err != nil {
		rules = nil
	}
	for _, r := range rules {
		if r.Action == rule.Action && r.MatchType == rule.MatchType &&
			strings.EqualFold(r.MatchValue, rule.MatchValue) {
			return nil
		}
	}
	rules = append(rules, rule)
	return e.store.SavePolicies(user, rules)
}

func ruleMatches(r types.PolicyRule, claim, entityKey string) bool {
	switch r.MatchType {
	case types.MatchEntityKey:
		return entityKey != "" && strings.EqualFold(r.MatchValue, entityKey)
	case types.MatchSubstring:
		return r.MatchValue != "" &&
			strings.Contains(strings.ToLower(claim), strings.ToLower(r.MatchValue))
	}
	return false
}
