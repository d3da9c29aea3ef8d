package domain

// AnswerKind tags the shape of a stored or submitted answer. The tag is
// decided when content is ingested, so evaluation dispatches on an explicit
// enum instead of sniffing runtime shapes.
type AnswerKind string

const (
	// AnswerText is a free-text scalar answer.
	AnswerText AnswerKind = "text"
	// AnswerCode is source or token text compared after tokenization.
	AnswerCode AnswerKind = "code"
	// AnswerSequence is an ordered list compared element by element.
	AnswerSequence AnswerKind = "sequence"
	// AnswerIndexSequence is an ordered list of option indexes.
	AnswerIndexSequence AnswerKind = "index_sequence"
	// AnswerAutoPass is a sentinel: any submission passes the level.
	AnswerAutoPass AnswerKind = "auto_pass"
	// AnswerManualReview is a sentinel: submissions are stored verbatim for
	// an admin decision, never auto-scored.
	AnswerManualReview AnswerKind = "manual_review"
)

// Answer is the tagged-variant answer value. Exactly one of the value
// fields is meaningful for a given Kind.
type Answer struct {
	Kind     AnswerKind `json:"kind"`
	Text     string     `json:"text,omitempty"`
	Sequence []string   `json:"sequence,omitempty"`
	Indexes  []int      `json:"indexes,omitempty"`
}

// LevelMode is how the engine treats submissions for a level.
type LevelMode string

const (
	// ModeScored levels persist a client-computed score; advancement is an
	// admin decision.
	ModeScored LevelMode = "scored"
	// ModeGate levels compare answers against a reference pool and
	// eliminate on a spent attempt budget.
	ModeGate LevelMode = "gate"
	// ModeReview levels store submissions for out-of-band admin review.
	ModeReview LevelMode = "review"
)

// Question is one entry in a level's reference pool.
type Question struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Answer Answer `json:"answer"`
	Marks  int    `json:"marks"` // defaults to 10 if zero
}

// LevelDefinition is the admin-authored reference data for a level.
// Read-only to the progression engine.
type LevelDefinition struct {
	Level           int        `json:"level"`
	Mode            LevelMode  `json:"mode,omitempty"`
	Questions       []Question `json:"questions,omitempty"`
	AttemptsAllowed int        `json:"attemptsAllowed"`
	DurationSeconds int        `json:"durationSeconds"`
}

// EffectiveMode resolves the mode for a definition. An explicit mode wins;
// otherwise the answer sentinels and pool shape decide.
func (d LevelDefinition) EffectiveMode() LevelMode {
	if d.Mode != "" {
		return d.Mode
	}
	for _, q := range d.Questions {
		if q.Answer.Kind == AnswerManualReview {
			return ModeReview
		}
	}
	if len(d.Questions) == 0 {
		return ModeScored
	}
	return ModeGate
}
