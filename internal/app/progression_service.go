package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"escape-progression-service/internal/domain"
)

// TeamStore abstracts how team records are stored (in-memory, Redis, etc).
// Put replaces the whole record, so each operation commits all-or-nothing.
type TeamStore interface {
	Get(ctx context.Context, id string) (domain.Team, error)
	Put(ctx context.Context, team domain.Team) error
	Create(ctx context.Context, team domain.Team) error
	List(ctx context.Context, filter domain.TeamFilter) ([]domain.Team, error)
}

// LevelRepository loads level reference data (from cache/backing store).
type LevelRepository interface {
	GetLevel(ctx context.Context, level int) (domain.LevelDefinition, error)
}

// QualifiedStore holds the per-level qualification ledger.
type QualifiedStore interface {
	Members(ctx context.Context, level int) ([]string, error)
	Add(ctx context.Context, level int, id string) error
	Replace(ctx context.Context, level int, ids []string) error
}

// GameRules are the config-time knobs of the progression engine.
type GameRules struct {
	MaxLevel         int
	Durations        map[int]int // default level duration in seconds
	TabSwitchPenalty int
	// ZeroAttemptsUnlimited flips the meaning of attemptsAllowed==0 on
	// survival gates from "zero tolerance" to "unlimited retries".
	ZeroAttemptsUnlimited bool
}

// DefaultRules mirrors the production event setup: five levels with the
// classic duration ladder and a 10-point tab-switch penalty.
func DefaultRules() GameRules {
	return GameRules{
		MaxLevel:         domain.MaxLevel,
		Durations:        map[int]int{1: 180, 2: 300, 3: 300, 4: 420, 5: 180},
		TabSwitchPenalty: 10,
	}
}

const fallbackDurationSeconds = 300

// ProgressionService owns the team level-state machine. All team mutations
// go through it, serialized per team, so a submit, a timeout and an admin
// override can race without ever committing two outcomes for one level.
type ProgressionService struct {
	teams     TeamStore
	levels    LevelRepository
	qualified QualifiedStore
	rules     GameRules
	locks     *teamLocks
	hub       *standingsHub
	now       func() time.Time
}

func NewProgressionService(teams TeamStore, levels LevelRepository, qualified QualifiedStore, rules GameRules) *ProgressionService {
	return NewProgressionServiceWithClock(teams, levels, qualified, rules, time.Now)
}

// NewProgressionServiceWithClock allows deterministic timestamps in tests.
func NewProgressionServiceWithClock(teams TeamStore, levels LevelRepository, qualified QualifiedStore, rules GameRules, now func() time.Time) *ProgressionService {
	if rules.MaxLevel <= 0 || rules.MaxLevel > domain.MaxLevel {
		rules.MaxLevel = domain.MaxLevel
	}
	return &ProgressionService{
		teams:     teams,
		levels:    levels,
		qualified: qualified,
		rules:     rules,
		locks:     newTeamLocks(),
		hub:       newStandingsHub(),
		now:       now,
	}
}

// Register creates a team record at level 1 with zeroed level state.
func (s *ProgressionService) Register(ctx context.Context, id, name string, members []string) (domain.Team, error) {
	norm := domain.NormalizeTeamID(id)
	if norm == "" {
		return domain.Team{}, domain.ErrInvalidTeamID
	}
	unlock := s.locks.acquire(norm)
	defer unlock()

	team := domain.NewTeam(norm, name, members, s.now())
	if err := s.teams.Create(ctx, team); err != nil {
		return domain.Team{}, err
	}
	s.publish(ctx)
	return team, nil
}

// Submit commits a level outcome for the team's current level. It is
// idempotent: once a level is resolved, a replayed submit may only raise the
// stored score and never flips the resolved outcome.
func (s *ProgressionService) Submit(ctx context.Context, teamID string, level int, sub domain.Submission) (domain.SubmitResult, error) {
	id := domain.NormalizeTeamID(teamID)
	unlock := s.locks.acquire(id)
	defer unlock()

	team, err := s.teams.Get(ctx, id)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if level < 1 || level > s.rules.MaxLevel {
		return domain.SubmitResult{}, domain.ErrInvalidLevel
	}
	if team.Eliminated {
		return s.resolvedResult(team, level), nil
	}
	if level != team.CurrentLevel {
		return domain.SubmitResult{}, domain.ErrLevelMismatch
	}

	def, mode, err := s.levelMode(ctx, level)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	now := s.now()
	ls := team.Level(level)
	var outcome domain.Outcome

	switch mode {
	case domain.ModeReview:
		if !ls.Submitted {
			ls.Submitted = true
			ls.PendingReview = reviewPayload(sub)
		}
		outcome = domain.OutcomeReview

	case domain.ModeGate:
		if ls.Submitted {
			return s.resolvedResult(team, level), nil
		}
		outcome = s.applyGate(&team, ls, def, sub, now)

	default: // client-scored
		if sub.Score > ls.Score {
			ls.Score = sub.Score
		}
		if !ls.Submitted {
			// First commit wins the timestamp; replays may only raise the
			// score above.
			ls.Submitted = true
			at := now
			ls.SolvedAt = &at
		}
		outcome = domain.OutcomeCorrect
	}

	if err := s.teams.Put(ctx, team); err != nil {
		return domain.SubmitResult{}, err
	}
	s.publish(ctx)
	return s.result(outcome, team, level), nil
}

// applyGate resolves a survival-gate submission. The caller holds the team
// lock and has verified the level is unresolved.
func (s *ProgressionService) applyGate(team *domain.Team, ls *domain.LevelState, def domain.LevelDefinition, sub domain.Submission, now time.Time) domain.Outcome {
	if !gateHasReference(def) {
		// Fail closed: an unconfigured gate must never stall the game in
		// an unsolvable pending state.
		s.eliminateLocked(team, domain.ReasonEliminated, now)
		ls.Submitted = true
		return domain.OutcomeEliminated
	}

	if q, ok := evaluateGate(def, sub.Answer); ok {
		ls.Submitted = true
		if ls.SolvedAt == nil {
			at := now
			ls.SolvedAt = &at
		}
		if marks := questionMarks(q); marks > ls.Score {
			ls.Score = marks
		}
		return domain.OutcomeCorrect
	}

	ls.AttemptsUsed++
	switch {
	case def.AttemptsAllowed == 0 && !s.rules.ZeroAttemptsUnlimited:
		s.eliminateLocked(team, domain.ReasonEliminated, now)
		ls.Submitted = true
		return domain.OutcomeEliminated
	case def.AttemptsAllowed > 0 && ls.AttemptsUsed >= def.AttemptsAllowed:
		s.eliminateLocked(team, domain.ReasonMaxAttempts, now)
		ls.Submitted = true
		return domain.OutcomeEliminated
	default:
		team.Violations = append(team.Violations, domain.Violation{
			Reason: domain.ReasonIncorrectAnswer,
			Level:  team.CurrentLevel,
			At:     now,
		})
		return domain.OutcomeIncorrect
	}
}

// Timeout force-closes the team's current level. It checks, under the same
// per-team lock the client path uses, whether the level was already resolved;
// a timeout that loses that race is a no-op, so a buzzer-beating submit can
// never be undone by a late deadline.
func (s *ProgressionService) Timeout(ctx context.Context, teamID string, level int) (domain.SubmitResult, error) {
	id := domain.NormalizeTeamID(teamID)
	unlock := s.locks.acquire(id)
	defer unlock()

	team, err := s.teams.Get(ctx, id)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if level < 1 || level > s.rules.MaxLevel {
		return domain.SubmitResult{}, domain.ErrInvalidLevel
	}
	if team.Eliminated {
		return s.resolvedResult(team, level), nil
	}
	if level != team.CurrentLevel {
		return domain.SubmitResult{}, domain.ErrLevelMismatch
	}
	ls := team.Level(level)
	if ls.Submitted {
		return s.resolvedResult(team, level), nil
	}

	_, mode, err := s.levelMode(ctx, level)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	now := s.now()
	var outcome domain.Outcome
	switch mode {
	case domain.ModeGate:
		// A strict survival gate with no committed answer: the deadline is
		// the elimination.
		s.eliminateLocked(&team, domain.ReasonTimeout, now)
		ls.Submitted = true
		outcome = domain.OutcomeEliminated
	case domain.ModeReview:
		ls.Submitted = true
		outcome = domain.OutcomeReview
	default:
		// Commit whatever partial score accumulated; no solve happened, so
		// the solve timestamp stays unset.
		ls.Submitted = true
		outcome = domain.OutcomeIncorrect
	}

	if err := s.teams.Put(ctx, team); err != nil {
		return domain.SubmitResult{}, err
	}
	s.publish(ctx)
	return s.result(outcome, team, level), nil
}

// Eliminate marks a team eliminated and freezes its submit path until an
// admin reinstates it.
func (s *ProgressionService) Eliminate(ctx context.Context, teamID, reason string) (domain.Team, error) {
	id := domain.NormalizeTeamID(teamID)
	unlock := s.locks.acquire(id)
	defer unlock()

	team, err := s.teams.Get(ctx, id)
	if err != nil {
		return domain.Team{}, err
	}
	if team.Winner {
		return domain.Team{}, domain.ErrTeamFinished
	}
	if team.Eliminated {
		return domain.Team{}, domain.ErrAlreadyEliminated
	}
	if reason == "" {
		reason = domain.ReasonEliminated
	}
	s.eliminateLocked(&team, reason, s.now())
	if err := s.teams.Put(ctx, team); err != nil {
		return domain.Team{}, err
	}
	s.publish(ctx)
	return team.Clone(), nil
}

// Advance qualifies the team for its current level and moves it up one
// level, or crowns it winner at the final level. With override it first
// reinstates an eliminated team, compensating the audit log by removing at
// most one incorrect_answer entry for the reinstated level.
//
// The ledger write and the team write are two separate atomic updates; a
// crash between them is an accepted inconsistency window. The ledger is
// authoritative for admin review, the team record for client gating.
func (s *ProgressionService) Advance(ctx context.Context, teamID string, override bool, reason string) (domain.AdvanceResult, error) {
	id := domain.NormalizeTeamID(teamID)
	unlock := s.locks.acquire(id)
	defer unlock()

	team, err := s.teams.Get(ctx, id)
	if err != nil {
		return domain.AdvanceResult{}, err
	}
	if team.Winner {
		// Absorbing state; a repeated advance changes nothing.
		return domain.AdvanceResult{FromLevel: team.CurrentLevel, Team: team.Clone()}, nil
	}
	if team.Eliminated {
		if !override {
			return domain.AdvanceResult{}, domain.ErrAlreadyEliminated
		}
		team.Eliminated = false
		team.EliminatedAt = nil
		removeLatestIncorrect(&team, team.CurrentLevel)
	}

	from := team.CurrentLevel
	if err := s.qualified.Add(ctx, from, team.ID); err != nil {
		return domain.AdvanceResult{}, err
	}

	now := s.now()
	if from >= s.rules.MaxLevel {
		team.Winner = true
		at := now
		team.WinnerAt = &at
	} else {
		team.CurrentLevel = from + 1
	}
	if err := s.teams.Put(ctx, team); err != nil {
		return domain.AdvanceResult{}, err
	}
	s.publish(ctx)
	return domain.AdvanceResult{FromLevel: from, Team: team.Clone()}, nil
}

// RecordViolation appends an audit entry for an external anti-cheat signal.
// Tab switches additionally cost the configured score penalty.
func (s *ProgressionService) RecordViolation(ctx context.Context, teamID, reason string) (domain.Team, error) {
	id := domain.NormalizeTeamID(teamID)
	unlock := s.locks.acquire(id)
	defer unlock()

	team, err := s.teams.Get(ctx, id)
	if err != nil {
		return domain.Team{}, err
	}
	now := s.now()
	team.Violations = append(team.Violations, domain.Violation{
		Reason: reason,
		Level:  team.CurrentLevel,
		At:     now,
	})
	if reason == domain.ReasonTabSwitch {
		team.Penalty += s.rules.TabSwitchPenalty
		team.TabSwitchCount++
	}
	if err := s.teams.Put(ctx, team); err != nil {
		return domain.Team{}, err
	}
	s.publish(ctx)
	return team.Clone(), nil
}

// GetTeam returns a snapshot of one team.
func (s *ProgressionService) GetTeam(ctx context.Context, teamID string) (domain.Team, error) {
	return s.teams.Get(ctx, domain.NormalizeTeamID(teamID))
}

// ListTeams returns snapshots of all teams passing the filter.
func (s *ProgressionService) ListTeams(ctx context.Context, filter domain.TeamFilter) ([]domain.Team, error) {
	return s.teams.List(ctx, filter)
}

// LevelStart issues the server-anchored start info clients derive their
// countdown deadline from. Purely advisory: the engine, not the timer, is
// the authority for level outcomes. Known limitation kept from the source
// behavior: no per-team start timestamp is persisted server-side, so a
// client that clears local storage can re-arm its deadline.
func (s *ProgressionService) LevelStart(ctx context.Context, level int) (domain.LevelStartInfo, error) {
	if level < 1 || level > s.rules.MaxLevel {
		return domain.LevelStartInfo{}, domain.ErrInvalidLevel
	}
	duration := s.rules.Durations[level]
	if def, err := s.levels.GetLevel(ctx, level); err == nil && def.DurationSeconds > 0 {
		duration = def.DurationSeconds
	}
	if duration <= 0 {
		duration = fallbackDurationSeconds
	}
	return domain.LevelStartInfo{
		Level:           level,
		ServerNow:       s.now(),
		DurationSeconds: duration,
	}, nil
}

// Standings builds the ordered scoreboard snapshot.
func (s *ProgressionService) Standings(ctx context.Context) (domain.Standings, error) {
	teams, err := s.teams.List(ctx, domain.TeamFilter{})
	if err != nil {
		return domain.Standings{}, err
	}
	entries := make([]domain.StandingsEntry, 0, len(teams))
	solved := make(map[string]*time.Time, len(teams))
	for i := range teams {
		t := &teams[i]
		entries = append(entries, domain.StandingsEntry{
			TeamID:       t.ID,
			Name:         t.Name,
			Total:        t.TotalScore(),
			Penalty:      t.Penalty,
			CurrentLevel: t.CurrentLevel,
			Eliminated:   t.Eliminated,
			Winner:       t.Winner,
		})
		solved[t.ID] = t.LastSolvedAt()
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Total != entries[j].Total {
			return entries[i].Total > entries[j].Total
		}
		// Tie-break by who locked in their total earlier; unsolved teams last.
		si, sj := solved[entries[i].TeamID], solved[entries[j].TeamID]
		switch {
		case si != nil && sj != nil && !si.Equal(*sj):
			return si.Before(*sj)
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}
		return entries[i].Name < entries[j].Name
	})
	return domain.Standings{Entries: entries, UpdatedAt: s.now()}, nil
}

// LevelRanking builds the qualification shortlist for one level: score
// descending, earlier solve wins ties, unsolved teams last.
func (s *ProgressionService) LevelRanking(ctx context.Context, level int) ([]domain.LevelRankEntry, error) {
	if level < 1 || level > s.rules.MaxLevel {
		return nil, domain.ErrInvalidLevel
	}
	teams, err := s.teams.List(ctx, domain.TeamFilter{})
	if err != nil {
		return nil, err
	}
	members, err := s.qualified.Members(ctx, level)
	if err != nil {
		return nil, err
	}
	qualified := make(map[string]struct{}, len(members))
	for _, id := range members {
		qualified[id] = struct{}{}
	}
	entries := make([]domain.LevelRankEntry, 0, len(teams))
	for i := range teams {
		t := &teams[i]
		ls := t.Level(level)
		_, ok := qualified[t.ID]
		entries = append(entries, domain.LevelRankEntry{
			TeamID:    t.ID,
			Name:      t.Name,
			Score:     ls.Score,
			SolvedAt:  ls.SolvedAt,
			Qualified: ok,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		si, sj := entries[i].SolvedAt, entries[j].SolvedAt
		switch {
		case si != nil && sj != nil && !si.Equal(*sj):
			return si.Before(*sj)
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}
		return entries[i].TeamID < entries[j].TeamID
	})
	return entries, nil
}

// Watch returns a channel receiving standings snapshots after each committed
// mutation. The caller must invoke the cancel function to avoid leaks.
func (s *ProgressionService) Watch() (<-chan domain.Standings, func()) {
	return s.hub.subscribe()
}

func (s *ProgressionService) eliminateLocked(team *domain.Team, reason string, now time.Time) {
	team.Eliminated = true
	at := now
	team.EliminatedAt = &at
	team.Violations = append(team.Violations, domain.Violation{
		Reason: reason,
		Level:  team.CurrentLevel,
		At:     now,
	})
}

// levelMode resolves the definition and mode for a level. A missing
// definition means a client-scored level; transient store failures surface
// to the caller as retryable errors.
func (s *ProgressionService) levelMode(ctx context.Context, level int) (domain.LevelDefinition, domain.LevelMode, error) {
	def, err := s.levels.GetLevel(ctx, level)
	if err != nil {
		if errors.Is(err, domain.ErrLevelNotFound) {
			return domain.LevelDefinition{}, domain.ModeScored, nil
		}
		return domain.LevelDefinition{}, "", err
	}
	return def, def.EffectiveMode(), nil
}

func (s *ProgressionService) result(outcome domain.Outcome, team domain.Team, level int) domain.SubmitResult {
	ls := team.Level(level)
	return domain.SubmitResult{
		Outcome:      outcome,
		Score:        ls.Score,
		NextLevel:    team.CurrentLevel,
		AttemptsUsed: ls.AttemptsUsed,
		Team:         team.Clone(),
	}
}

// resolvedResult reports the already-committed outcome of a resolved level
// without mutating anything.
func (s *ProgressionService) resolvedResult(team domain.Team, level int) domain.SubmitResult {
	ls := team.Level(level)
	outcome := domain.OutcomeCorrect
	switch {
	case team.Eliminated:
		outcome = domain.OutcomeEliminated
	case ls.PendingReview != "":
		outcome = domain.OutcomeReview
	case !ls.Submitted:
		outcome = domain.OutcomeIncorrect
	}
	return s.result(outcome, team, level)
}

// publish pushes a fresh standings snapshot to watchers, best effort.
func (s *ProgressionService) publish(ctx context.Context) {
	st, err := s.Standings(ctx)
	if err != nil {
		return
	}
	s.hub.broadcast(st)
}

func removeLatestIncorrect(team *domain.Team, level int) {
	for i := len(team.Violations) - 1; i >= 0; i-- {
		v := team.Violations[i]
		if v.Reason == domain.ReasonIncorrectAnswer && v.Level == level {
			team.Violations = append(team.Violations[:i], team.Violations[i+1:]...)
			return
		}
	}
}

func questionMarks(q domain.Question) int {
	if q.Marks == 0 {
		return 10
	}
	return q.Marks
}
