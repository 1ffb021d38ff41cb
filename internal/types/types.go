// Package types holds the shared semantic types of the Project OS core:
// project state, fact tiers, policies, intents, evidence, and the message
// shapes passed to the model.
package types

import "time"

// =============================================================================
// PROJECT STATE
// =============================================================================

// ProjectMode controls how strictly answers must be grounded in project data.
type ProjectMode string

const (
	ModeOpenWorld   ProjectMode = "open_world"
	ModeClosedWorld ProjectMode = "closed_world"
	ModeHybrid      ProjectMode = "hybrid"
)

// BootstrapStatus tracks goal adoption for a fresh project.
type BootstrapStatus string

const (
	BootstrapNeedsGoal    BootstrapStatus = "needs_goal"
	BootstrapGoalProposed BootstrapStatus = "goal_proposed"
	BootstrapActive       BootstrapStatus = "active"
)

// ExpertFrame is the project-scoped behavioral frame. Status moves
// "" -> proposed -> active; the label is suppressed once real work has begun.
type ExpertFrame struct {
	Status    string `json:"status"` // "", "proposed", "active"
	Label     string `json:"label"`
	Directive string `json:"directive"`
	SetReason string `json:"set_reason"`
	UpdatedAt string `json:"updated_at"`
}

// TimeAnchor is a concrete start-event the user declared ("put X in the oven").
type TimeAnchor struct {
	Label string    `json:"label"`
	TS    time.Time `json:"ts"`
	TZ    string    `json:"tz"`
}

// BringUpDraft is a pending couples bring-up awaiting a yes/no answer.
type BringUpDraft struct {
	Pending    bool   `json:"pending"`
	Synopsis   string `json:"synopsis"`
	Topic      string `json:"topic"`
	Tone       string `json:"tone"`
	Boundaries string `json:"boundaries"`
	Urgency    string `json:"urgency"`
	CreatedAt  string `json:"created_at"`
}

// ProjectState is the durable per-project record. Mutated only by command
// short-circuits, the distiller, and explicit confirmations.
type ProjectState struct {
	Goal             string          `json:"goal"`
	ProjectMode      ProjectMode     `json:"project_mode"`
	BootstrapStatus  BootstrapStatus `json:"bootstrap_status"`
	ExpertFrame      ExpertFrame     `json:"expert_frame"`
	Domains          []string        `json:"domains"`
	UserRules        []string        `json:"user_rules"`
	FactsTurnCounter int             `json:"facts_turn_counter"`
	FactsDirty       bool            `json:"facts_dirty"`
	TimeAnchors      []TimeAnchor    `json:"time_anchors_v1"`
	PendingBringUp   *BringUpDraft   `json:"pending_bringup_draft,omitempty"`
	PendingUploadQ   string          `json:"pending_upload_question,omitempty"`
	ActiveCoupleID   string          `json:"active_couple_id,omitempty"`
	CurrentFocus     string          `json:"current_focus"`
	NextActions      []string        `json:"next_actions,omitempty"`
	KeyFiles         []string        `json:"key_files,omitempty"`
	UpdatedAt        string          `json:"updated_at"`
}

// CapabilityGap is a recorded on-demand request to the ingest pipeline for
// an artifact the core needs but cannot produce itself.
type CapabilityGap struct {
	Kind      string `json:"kind"`
	SourceRel string `json:"source_rel"`
	SHA256    string `json:"sha256,omitempty"`
	Reason    string `json:"reason"`
	Status    string `json:"status"` // "open", "fulfilled"
	CreatedAt string `json:"created_at"`
}

// ActiveObject is the artifact currently "in focus" (AOF). At most one per
// project; ephemeral across uploads and topic breaks.
type ActiveObject struct {
	RelPath   string `json:"rel_path"`
	OrigName  string `json:"orig_name"`
	SHA256    string `json:"sha256"`
	MIME      string `json:"mime"`
	SetReason string `json:"set_reason"`
}

// =============================================================================
// FACT TIERS
// =============================================================================

// FactSlot categorizes a Tier-1 claim.
type FactSlot string

const (
	SlotIdentity     FactSlot = "identity"
	SlotRelationship FactSlot = "relationship"
	SlotPreference   FactSlot = "preference"
	SlotPossession   FactSlot = "possession"
	SlotRoutine      FactSlot = "routine"
	SlotConstraint   FactSlot = "constraint"
	SlotContext      FactSlot = "context"
	SlotEvent        FactSlot = "event"
	SlotOther        FactSlot = "other"
)

// FactSubject says who a claim is about.
type FactSubject string

const (
	SubjectUser    FactSubject = "user"
	SubjectOther   FactSubject = "other"
	SubjectProject FactSubject = "project"
	SubjectUnknown FactSubject = "unknown"
)

// Tier1Fact is an append-only raw candidate. Records never mutate;
// normalization writes a new file version.
type Tier1Fact struct {
	Claim         string      `json:"claim"`
	Slot          FactSlot    `json:"slot"`
	Subject       FactSubject `json:"subject"`
	Source        string      `json:"source"`
	EvidenceQuote string      `json:"evidence_quote"`
	TurnIndex     int         `json:"turn_index"`
	Timestamp     string      `json:"timestamp"`
	EntityKey     string      `json:"entity_key,omitempty"`
}

// Tier2Fact is a compact distilled project fact.
type Tier2Fact struct {
	Statement  string      `json:"statement"`
	Slot       FactSlot    `json:"slot"`
	Subject    FactSubject `json:"subject"`
	EntityKey  string      `json:"entity_key"`
	Confidence float64     `json:"confidence"`
}

// UserProfile is the curated Tier-2G identity kernel. Only explicit
// first-person evidence promotes into it.
type UserProfile struct {
	Schema        string            `json:"schema"` // "user_profile_v1"
	PreferredName string            `json:"preferred_name,omitempty"`
	Birthdate     string            `json:"birthdate,omitempty"` // ISO YYYY-MM-DD
	Timezone      string            `json:"timezone,omitempty"`
	Location      string            `json:"location,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}

// GlobalFactsMap is the Tier-2M cross-project snippet for one user.
type GlobalFactsMap struct {
	Facts     []Tier2Fact `json:"facts"`
	UpdatedAt string      `json:"updated_at"`
}

// =============================================================================
// POLICIES
// =============================================================================

// PolicyAction is what a memory policy does.
type PolicyAction string

const (
	PolicyDoNotStore     PolicyAction = "do_not_store"
	PolicyProjectOnly    PolicyAction = "project_only"
	PolicyDoNotResurface PolicyAction = "do_not_resurface"
	PolicyAllowGlobal    PolicyAction = "allow_global"
)

// PolicyMatch selects how a rule matches a claim.
type PolicyMatch string

const (
	MatchEntityKey PolicyMatch = "entity_key"
	MatchSubstring PolicyMatch = "substring"
)

// PolicyRule is one user memory policy.
type PolicyRule struct {
	Action     PolicyAction `json:"action"`
	MatchType  PolicyMatch  `json:"match_type"`
	MatchValue string       `json:"match_value"`
	Note       string       `json:"note,omitempty"`
}

// PolicyDecision is the combined write/mirror/read gate result for a claim.
type PolicyDecision struct {
	Store          bool `json:"store"`
	MirrorGlobal   bool `json:"mirror_global"`
	AllowResurface bool `json:"allow_resurface"`
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// IntentKind is the accepted intent set.
type IntentKind string

const (
	IntentRecall  IntentKind = "recall"
	IntentStatus  IntentKind = "status"
	IntentPlan    IntentKind = "plan"
	IntentExecute IntentKind = "execute"
	IntentLookup  IntentKind = "lookup"
	IntentMisc    IntentKind = "misc"
)

// Intent is the classifier output. Scope is always coerced to current_project.
type Intent struct {
	Intent   IntentKind `json:"intent"`
	Entities []string   `json:"entities"`
	Scope    string     `json:"scope"`
}

// ContinuityKind labels topical continuity with the prior turn.
type ContinuityKind string

const (
	SameTopic ContinuityKind = "same_topic"
	NewTopic  ContinuityKind = "new_topic"
	Unclear   ContinuityKind = "unclear"
)

// Continuity is the continuity classifier output.
type Continuity struct {
	Continuity   ContinuityKind `json:"continuity"`
	FollowupOnly bool           `json:"followup_only"`
	Topic        string         `json:"topic"`
}

// =============================================================================
// MODEL MESSAGES & EVIDENCE
// =============================================================================

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the ordered list handed to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SearchResult is one ranked item of search evidence.
type SearchResult struct {
	Rank        int    `json:"rank"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

// Text returns the snippet or description of a result, whichever is set.
func (r SearchResult) Text() string {
	if r.Snippet != "" {
		return r.Snippet
	}
	return r.Description
}

// Authority describes the evidence confidence level.
type Authority struct {
	Level string `json:"level"`
}

// SearchEvidence is the opaque producer payload (search_evidence_v1). Treated
// as noisy except when Authority.Level is "primary_confirmed".
type SearchEvidence struct {
	Schema       string         `json:"schema"`
	Authority    Authority      `json:"authority"`
	Insufficient bool           `json:"insufficient,omitempty"`
	Results      []SearchResult `json:"results"`
}

// PrimaryConfirmed reports whether the evidence carries primary authority.
func (e *SearchEvidence) PrimaryConfirmed() bool {
	return e != nil && e.Authority.Level == "primary_confirmed"
}

// =============================================================================
// INTERPRETIVE MEMORY
// =============================================================================

// InterpretiveItem is one distilled observation with verbatim evidence.
type InterpretiveItem struct {
	Text        string `json:"text"`
	Uncertainty string `json:"uncertainty"` // low, medium, high
	Evidence    string `json:"evidence"`
	TurnIndex   int    `json:"turn_index"`
}

// InterpretiveMemory is the per-project understanding record.
type InterpretiveMemory struct {
	Entities             []InterpretiveItem `json:"entities"`
	RelationshipDynamics []InterpretiveItem `json:"relationship_dynamics"`
	Themes               []InterpretiveItem `json:"themes"`
	ValuesGoals          []InterpretiveItem `json:"values_goals"`
	OpenAmbiguities      []InterpretiveItem `json:"open_ambiguities"`
	LastUpdatedTurn      int                `json:"last_updated_turn"`
}

// =============================================================================
// DECISIONS & COUPLES
// =============================================================================

// Decision is a confirmed project decision.
type Decision struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// DecisionCandidate is a pending decision: pending -> confirmed or dropped.
type DecisionCandidate struct {
	Text      string `json:"text"`
	Status    string `json:"status"` // "pending", "confirmed", "dropped"
	Timestamp string `json:"timestamp"`
}

// BringUp is a queued couples mediation item, append-only per partner.
type BringUp struct {
	FromUser       string `json:"from_user"`
	ToUser         string `json:"to_user"`
	Topic          string `json:"topic"`
	Tone           string `json:"tone"`
	Boundaries     string `json:"boundaries"`
	Urgency        string `json:"urgency"`
	ContextSummary string `json:"context_summary"`
	Status         string `json:"status"` // "queued", "surfaced"
	CreatedAt      string `json:"created_at"`
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

// Constraints are the per-turn output bounds compiled from project rules,
// the current message, and the active expert.
type Constraints struct {
	MaxQuestions        int      `json:"max_questions"`
	MaxLines            int      `json:"max_lines"`
	ForbidEmoji         bool     `json:"forbid_emoji"`
	ForbidHedging       bool     `json:"forbid_hedging"`
	ForbiddenSubstrings []string `json:"forbidden_substrings"`
}
