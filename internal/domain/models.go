package domain

import (
	"strings"
	"time"
)

// MaxLevel is the number of playable levels. Per-level state lives in a
// fixed-size array indexed by level number, never behind dynamically
// built field names.
const MaxLevel = 5

// Outcome classifies the committed result of a submit or timeout.
type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomeEliminated Outcome = "eliminated"
	OutcomeReview     Outcome = "submitted_for_review"
)

// Violation reasons recorded in a team's audit log.
const (
	ReasonIncorrectAnswer = "incorrect_answer"
	ReasonMaxAttempts     = "max_attempts"
	ReasonEliminated      = "eliminated"
	ReasonTimeout         = "timeout"
	ReasonTabSwitch       = "tab_switch"
)

// Violation is one entry in the append-only audit log. Level is the level
// the team was on when the entry was recorded.
type Violation struct {
	Reason string    `json:"reason"`
	Level  int       `json:"level"`
	At     time.Time `json:"at"`
}

// LevelState holds a team's progress on a single level.
type LevelState struct {
	Score         int        `json:"score"`
	Submitted     bool       `json:"submitted"`
	SolvedAt      *time.Time `json:"solvedAt,omitempty"`
	AttemptsUsed  int        `json:"attemptsUsed"`
	PendingReview string     `json:"pendingReview,omitempty"`
}

// Team is the central progression entity. It is mutated only through the
// progression service and written back as a whole record.
type Team struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Members        []string             `json:"members,omitempty"`
	CurrentLevel   int                  `json:"currentLevel"`
	Eliminated     bool                 `json:"eliminated"`
	EliminatedAt   *time.Time           `json:"eliminatedAt,omitempty"`
	Winner         bool                 `json:"winner"`
	WinnerAt       *time.Time           `json:"winnerAt,omitempty"`
	Penalty        int                  `json:"penalty"`
	TabSwitchCount int                  `json:"tabSwitchCount"`
	Violations     []Violation          `json:"violations,omitempty"`
	Levels         [MaxLevel]LevelState `json:"levels"`
	RegisteredAt   time.Time            `json:"registeredAt"`
}

// NewTeam returns a freshly registered team at level 1 with zeroed level state.
func NewTeam(id, name string, members []string, now time.Time) Team {
	return Team{
		ID:           NormalizeTeamID(id),
		Name:         name,
		Members:      append([]string(nil), members...),
		CurrentLevel: 1,
		RegisteredAt: now,
	}
}

// Level returns the state for a 1-based level number. Callers must validate
// the range first.
func (t *Team) Level(n int) *LevelState {
	return &t.Levels[n-1]
}

// TotalScore is the scoreboard total: level scores minus penalties,
// floored at zero.
func (t *Team) TotalScore() int {
	sum := 0
	for i := range t.Levels {
		sum += t.Levels[i].Score
	}
	sum -= t.Penalty
	if sum < 0 {
		return 0
	}
	return sum
}

// LastSolvedAt returns the latest solve timestamp across levels, or nil if
// the team has not solved anything.
func (t *Team) LastSolvedAt() *time.Time {
	var last *time.Time
	for i := range t.Levels {
		if at := t.Levels[i].SolvedAt; at != nil {
			if last == nil || at.After(*last) {
				last = at
			}
		}
	}
	return last
}

// Clone returns a deep copy so stores can hand out records without aliasing.
func (t Team) Clone() Team {
	out := t
	out.Members = append([]string(nil), t.Members...)
	out.Violations = append([]Violation(nil), t.Violations...)
	return out
}

// NormalizeTeamID canonicalizes team identifiers so store lookups, ledger
// membership and lock keys never diverge on casing or whitespace.
func NormalizeTeamID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// TeamFilter narrows ListTeams results. Zero values mean "no constraint".
type TeamFilter struct {
	Level      int
	Eliminated *bool
	Winner     *bool
}

// Matches reports whether a team passes the filter.
func (f TeamFilter) Matches(t Team) bool {
	if f.Level != 0 && t.CurrentLevel != f.Level {
		return false
	}
	if f.Eliminated != nil && t.Eliminated != *f.Eliminated {
		return false
	}
	if f.Winner != nil && t.Winner != *f.Winner {
		return false
	}
	return true
}

// Submission is the payload a client sends for a level.
type Submission struct {
	// Answer carries the typed answer for gate and review levels.
	Answer Answer `json:"answer"`
	// Score is the client-computed score for client-scored levels.
	Score int `json:"score"`
}

// SubmitResult is the committed outcome of a submit or timeout.
type SubmitResult struct {
	Outcome      Outcome `json:"outcome"`
	Score        int     `json:"score"`
	NextLevel    int     `json:"nextLevel"`
	AttemptsUsed int     `json:"attemptsUsed"`
	Team         Team    `json:"team"`
}

// AdvanceResult reports an advance, including the level the team left.
type AdvanceResult struct {
	FromLevel int  `json:"fromLevel"`
	Team      Team `json:"team"`
}

// QualifyResult reports the ledger state after a qualification write.
type QualifyResult struct {
	Level     int      `json:"level"`
	Qualified []string `json:"qualifiedTeamIds"`
	Missing   []string `json:"missingTeamIds,omitempty"`
}

// LevelStartInfo anchors client countdowns to a server timestamp.
type LevelStartInfo struct {
	Level           int       `json:"level"`
	ServerNow       time.Time `json:"serverNow"`
	DurationSeconds int       `json:"durationSeconds"`
}

// StandingsEntry is one row of the overall scoreboard.
type StandingsEntry struct {
	TeamID       string `json:"teamId"`
	Name         string `json:"name"`
	Total        int    `json:"total"`
	Penalty      int    `json:"penalty"`
	CurrentLevel int    `json:"currentLevel"`
	Eliminated   bool   `json:"eliminated"`
	Winner       bool   `json:"winner"`
}

// Standings is the ordered scoreboard snapshot pushed to watchers.
type Standings struct {
	Entries   []StandingsEntry `json:"entries"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// LevelRankEntry is one row of the per-level qualification shortlist.
type LevelRankEntry struct {
	TeamID    string     `json:"teamId"`
	Name      string     `json:"name"`
	Score     int        `json:"score"`
	SolvedAt  *time.Time `json:"solvedAt,omitempty"`
	Qualified bool       `json:"qualified"`
}
