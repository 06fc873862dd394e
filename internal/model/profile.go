package model

import "time"

// TraitVocabularyVersion pins the fixed trait vocabulary a profile was
// scored against. Bump when the marker tables change so stale profiles
// can be rebuilt from the chunk set.
const TraitVocabularyVersion = 1

// ProfileStage is the personalization state machine. It advances
// monotonically: EMPTY -> SEEDED -> ENHANCED.
type ProfileStage string

const (
	StageEmpty    ProfileStage = "empty"
	StageSeeded   ProfileStage = "seeded"
	StageEnhanced ProfileStage = "enhanced"
)

// PersonalizationLevel gates which engine features apply to a profile.
type PersonalizationLevel string

const (
	LevelBasic    PersonalizationLevel = "basic"
	LevelEnhanced PersonalizationLevel = "enhanced"
	LevelPremium  PersonalizationLevel = "premium"
)

// PersonalizationProfile is derived data, one per namespace. It must be
// fully reconstructible from the chunk set plus interaction log; it is
// never the sole source of truth.
type PersonalizationProfile struct {
	Namespace          Namespace            `json:"namespace"`
	Stage              ProfileStage         `json:"stage"`
	PersonalityTraits  map[string]float64   `json:"personality_traits"`
	CommunicationStyle map[string]float64   `json:"communication_style"`
	EmotionalPatterns  map[string]float64   `json:"emotional_patterns"`
	PersonaPrompt      string               `json:"persona_prompt"`
	AdapterReference   string               `json:"adapter_reference,omitempty"`
	Level              PersonalizationLevel `json:"personalization_level"`
	Confidence         float64              `json:"confidence"`
	MemoryCount        int                  `json:"memory_count"`
	InteractionCount   int                  `json:"interaction_count"`
	VocabularyVersion  int                  `json:"vocabulary_version"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// NewProfile returns an empty-stage profile for the namespace.
func NewProfile(ns Namespace) *PersonalizationProfile {
	return &PersonalizationProfile{
		Namespace:          ns,
		Stage:              StageEmpty,
		PersonalityTraits:  map[string]float64{},
		CommunicationStyle: map[string]float64{},
		EmotionalPatterns:  map[string]float64{},
		Level:              LevelBasic,
		VocabularyVersion:  TraitVocabularyVersion,
	}
}

// Interaction is one conversational exchange fed back into profile
// updates.
type Interaction struct {
	UserMessage string    `json:"user_message"`
	OccurredAt  time.Time `json:"occurred_at"`
}
