package models

// ConversationPhase is the stage of one build conversation.
type ConversationPhase string

const (
	PhaseIdeation       ConversationPhase = "Ideation"
	PhasePromptReview   ConversationPhase = "PromptReview"
	PhaseTransitioning  ConversationPhase = "Transitioning"
	PhaseCodeGeneration ConversationPhase = "CodeGeneration"
)

// phaseOrder gives the forward position of each phase.
var phaseOrder = map[ConversationPhase]int{
	PhaseIdeation:       0,
	PhasePromptReview:   1,
	PhaseTransitioning:  2,
	PhaseCodeGeneration: 3,
}

// CanTransition reports whether moving from one phase to another is allowed.
// Phases only advance one step at a time; returning to Ideation is always allowed.
func CanTransition(from, to ConversationPhase) bool {
	if to == PhaseIdeation {
		return true
	}
	f, ok := phaseOrder[from]
	if !ok {
		return false
	}
	t, ok := phaseOrder[to]
	if !ok {
		return false
	}
	return t == f+1 || (from == to && from == PhasePromptReview)
}

// String returns the phase name.
func (p ConversationPhase) String() string {
	return string(p)
}
