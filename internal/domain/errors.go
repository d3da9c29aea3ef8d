package domain

import "errors"

var (
	// ErrTeamNotFound is returned when a team identifier does not resolve.
	ErrTeamNotFound = errors.New("team not found")
	// ErrTeamExists is returned when registering an already-taken team id.
	ErrTeamExists = errors.New("team already exists")
	// ErrLevelNotFound indicates no definition is stored for a level.
	ErrLevelNotFound = errors.New("level definition not found")
	// ErrInvalidLevel indicates a level number outside the configured range.
	ErrInvalidLevel = errors.New("invalid level")
	// ErrLevelMismatch rejects submissions for a level the team is not on,
	// so a stale client replay cannot corrupt state.
	ErrLevelMismatch = errors.New("level mismatch")
	// ErrAlreadyEliminated is returned when advancing an eliminated team
	// without the override flag.
	ErrAlreadyEliminated = errors.New("team already eliminated")
	// ErrInvalidTeamID rejects empty or unusable team identifiers.
	ErrInvalidTeamID = errors.New("invalid team id")
	// ErrTeamFinished guards the winner state from further mutation.
	ErrTeamFinished = errors.New("team already finished")
)
