package config

// MemoryConfig bounds the memory and retrieval engine.
type MemoryConfig struct {
	// MaxHistoryPairs bounds in-memory conversation history per connection.
	MaxHistoryPairs int `yaml:"max_history_pairs"`

	// DistillEveryNTurns is the dirty-state distillation cadence.
	DistillEveryNTurns int `yaml:"distill_every_n_turns"`

	// FactsCompactMax caps the compact facts-map view item count.
	FactsCompactMax int `yaml:"facts_compact_max"`

	// FactsCompactChars caps the compact facts-map injection size.
	FactsCompactChars int `yaml:"facts_compact_chars"`

	// ExcerptTailChars caps a single evidence excerpt tail.
	ExcerptTailChars int `yaml:"excerpt_tail_chars"`

	// MaxTimeAnchors caps stored project time anchors.
	MaxTimeAnchors int `yaml:"max_time_anchors"`

	// AnchorDedupeWindow is the same-label dedupe window.
	AnchorDedupeWindow string `yaml:"anchor_dedupe_window"`

	// ForbiddenSubstrMax caps compiled forbidden substrings.
	ForbiddenSubstrMax int `yaml:"forbidden_substr_max"`

	// ViolationReportMax caps reported constraint violations.
	ViolationReportMax int `yaml:"violation_report_max"`

	// InterpretiveWindow is the turn window for interpretive extraction.
	InterpretiveWindow int `yaml:"interpretive_window"`

	// BringupInjectionMax caps session-start bringup themes.
	BringupInjectionMax int `yaml:"bringup_injection_max"`
}
