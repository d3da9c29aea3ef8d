package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"escape-progression-service/internal/app"
	"escape-progression-service/internal/domain"
	"escape-progression-service/internal/infra/memory"
)

func TestScoredSubmitKeepsMaxScore(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t2", "Bravo")

	res, err := service.Submit(ctx, "t2", 1, domain.Submission{Score: 40})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.Outcome != domain.OutcomeCorrect || res.Score != 40 {
		t.Fatalf("expected correct/40, got %s/%d", res.Outcome, res.Score)
	}
	firstSolved := res.Team.Level(1).SolvedAt
	if firstSolved == nil {
		t.Fatalf("expected solve timestamp on first submit")
	}

	// Delayed retry of the same payload must not double-apply.
	res, err = service.Submit(ctx, "t2", 1, domain.Submission{Score: 40})
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if res.Score != 40 {
		t.Fatalf("expected score 40 after duplicate, got %d", res.Score)
	}

	// Lower score never decreases the stored one.
	if res, _ = service.Submit(ctx, "t2", 1, domain.Submission{Score: 30}); res.Score != 40 {
		t.Fatalf("expected score to stay 40, got %d", res.Score)
	}
	// Higher score raises it, but the first-submission timestamp stays.
	res, _ = service.Submit(ctx, "t2", 1, domain.Submission{Score: 55})
	if res.Score != 55 {
		t.Fatalf("expected score 55, got %d", res.Score)
	}
	if got := res.Team.Level(1).SolvedAt; got == nil || !got.Equal(*firstSolved) {
		t.Fatalf("expected first solve timestamp to win, got %v want %v", got, firstSolved)
	}
}

func TestConcurrentDuplicateSubmit(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.Submit(ctx, "t1", 1, domain.Submission{Score: 40}); err != nil {
				t.Errorf("submit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	team, err := service.GetTeam(ctx, "t1")
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if team.Level(1).Score != 40 {
		t.Fatalf("expected single committed score 40, got %d", team.Level(1).Score)
	}
	if !team.Level(1).Submitted {
		t.Fatalf("expected level 1 submitted")
	}
}

func TestTimeoutLosesRaceAgainstSubmit(t *testing.T) {
	ctx := context.Background()

	// Ordering 1: submit commits first, timeout must be a no-op.
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")
	if _, err := service.Submit(ctx, "t1", 1, domain.Submission{Score: 70}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := service.Timeout(ctx, "t1", 1)
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if res.Outcome != domain.OutcomeCorrect || res.Score != 70 {
		t.Fatalf("expected timeout no-op keeping correct/70, got %s/%d", res.Outcome, res.Score)
	}
	if res.Team.Eliminated {
		t.Fatalf("timeout after submit must never eliminate")
	}

	// Ordering 2: timeout first, the late submit may only raise the score.
	service = newTestService()
	registerTeam(t, service, "t1", "Alpha")
	if _, err := service.Timeout(ctx, "t1", 1); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	res, err = service.Submit(ctx, "t1", 1, domain.Submission{Score: 70})
	if err != nil {
		t.Fatalf("late submit: %v", err)
	}
	if res.Score != 70 || res.Team.Eliminated || !res.Team.Level(1).Submitted {
		t.Fatalf("expected converged state submitted/70/not eliminated, got %+v", res)
	}
}

func TestZeroAttemptGateEliminatesAndOverrideAdvances(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")
	advanceTo(t, service, "t1", 2)

	res, err := service.Submit(ctx, "t1", 2, domain.Submission{
		Answer: domain.Answer{Kind: domain.AnswerText, Text: "wrong guess"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != domain.OutcomeEliminated {
		t.Fatalf("expected eliminated, got %s", res.Outcome)
	}
	team := res.Team
	if !team.Eliminated || team.EliminatedAt == nil {
		t.Fatalf("expected eliminated team, got %+v", team)
	}
	if len(team.Violations) != 1 || team.Violations[0].Reason != domain.ReasonEliminated {
		t.Fatalf("expected one violation with reason eliminated, got %+v", team.Violations)
	}

	adv, err := service.Advance(ctx, "t1", true, "judge reinstated")
	if err != nil {
		t.Fatalf("override advance: %v", err)
	}
	if adv.FromLevel != 2 {
		t.Fatalf("expected fromLevel 2, got %d", adv.FromLevel)
	}
	if adv.Team.Eliminated || adv.Team.CurrentLevel != 3 {
		t.Fatalf("expected reinstated team on level 3, got %+v", adv.Team)
	}
	// Reason was "eliminated", not "incorrect_answer": nothing to compensate.
	if len(adv.Team.Violations) != 1 {
		t.Fatalf("expected violation count unchanged, got %+v", adv.Team.Violations)
	}
}

func TestGateAttemptBudgetAndCompensation(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")
	advanceTo(t, service, "t1", 3)

	wrong := domain.Submission{Answer: domain.Answer{Kind: domain.AnswerSequence, Sequence: []string{"gamma", "beta", "alpha"}}}

	res, err := service.Submit(ctx, "t1", 3, wrong)
	if err != nil {
		t.Fatalf("first wrong submit: %v", err)
	}
	if res.Outcome != domain.OutcomeIncorrect || res.AttemptsUsed != 1 {
		t.Fatalf("expected incorrect with 1 attempt, got %s/%d", res.Outcome, res.AttemptsUsed)
	}
	if n := countViolations(res.Team, domain.ReasonIncorrectAnswer, 3); n != 1 {
		t.Fatalf("expected one incorrect_answer entry, got %d", n)
	}

	res, err = service.Submit(ctx, "t1", 3, wrong)
	if err != nil {
		t.Fatalf("second wrong submit: %v", err)
	}
	if res.Outcome != domain.OutcomeEliminated {
		t.Fatalf("expected elimination on spent budget, got %s", res.Outcome)
	}
	if n := countViolations(res.Team, domain.ReasonMaxAttempts, 3); n != 1 {
		t.Fatalf("expected max_attempts entry, got %+v", res.Team.Violations)
	}

	before := countViolations(res.Team, domain.ReasonIncorrectAnswer, 3)
	adv, err := service.Advance(ctx, "t1", true, "")
	if err != nil {
		t.Fatalf("override advance: %v", err)
	}
	after := countViolations(adv.Team, domain.ReasonIncorrectAnswer, 3)
	if after != before-1 {
		t.Fatalf("expected exactly one incorrect_answer removed, before=%d after=%d", before, after)
	}
	if adv.Team.Eliminated || adv.Team.CurrentLevel != 4 {
		t.Fatalf("expected team reinstated on level 4, got %+v", adv.Team)
	}
}

func TestGateCorrectAnswerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")
	advanceTo(t, service, "t1", 3)

	right := domain.Submission{Answer: domain.Answer{Kind: domain.AnswerSequence, Sequence: []string{"alpha", "beta", "gamma"}}}
	res, err := service.Submit(ctx, "t1", 3, right)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != domain.OutcomeCorrect || res.Score != 15 {
		t.Fatalf("expected correct with question marks 15, got %s/%d", res.Outcome, res.Score)
	}

	// A replay of the winning submit never double-applies.
	res, err = service.Submit(ctx, "t1", 3, right)
	if err != nil {
		t.Fatalf("replay submit: %v", err)
	}
	if res.Outcome != domain.OutcomeCorrect || res.Score != 15 || res.AttemptsUsed != 0 {
		t.Fatalf("expected unchanged resolved state, got %+v", res)
	}
}

func TestFailClosedGateWithoutReference(t *testing.T) {
	ctx := context.Background()
	service := newTestServiceWithLevels(map[int]domain.LevelDefinition{
		1: {Level: 1, Mode: domain.ModeGate, AttemptsAllowed: 3},
	})
	registerTeam(t, service, "t1", "Alpha")

	res, err := service.Submit(ctx, "t1", 1, domain.Submission{
		Answer: domain.Answer{Kind: domain.AnswerText, Text: "anything"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != domain.OutcomeEliminated || !res.Team.Eliminated {
		t.Fatalf("expected fail-closed elimination, got %+v", res)
	}
	if len(res.Team.Violations) == 0 {
		t.Fatalf("expected a recorded violation reason")
	}
}

func TestTimeoutOnGateEliminates(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")
	advanceTo(t, service, "t1", 2)

	res, err := service.Timeout(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if res.Outcome != domain.OutcomeEliminated {
		t.Fatalf("expected elimination on gate timeout, got %s", res.Outcome)
	}
	if n := countViolations(res.Team, domain.ReasonTimeout, 2); n != 1 {
		t.Fatalf("expected timeout violation, got %+v", res.Team.Violations)
	}
}

func TestManualReviewStoresSubmissionVerbatim(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")
	advanceTo(t, service, "t1", 4)

	res, err := service.Submit(ctx, "t1", 4, domain.Submission{
		Answer: domain.Answer{Kind: domain.AnswerText, Text: "our incident response writeup"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != domain.OutcomeReview {
		t.Fatalf("expected submitted_for_review, got %s", res.Outcome)
	}
	ls := res.Team.Level(4)
	if !ls.Submitted || ls.PendingReview != "our incident response writeup" {
		t.Fatalf("expected verbatim pending submission, got %+v", ls)
	}
	if ls.Score != 0 || res.Team.Eliminated {
		t.Fatalf("review levels must not auto-score or eliminate, got %+v", ls)
	}

	// The deadline firing afterwards changes nothing.
	res, err = service.Timeout(ctx, "t1", 4)
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if res.Outcome != domain.OutcomeReview || res.Team.Eliminated {
		t.Fatalf("expected review no-op on timeout, got %+v", res)
	}
}

func TestAdvanceAtFinalLevelCrownsWinner(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t3", "Charlie")
	advanceTo(t, service, "t3", 5)

	adv, err := service.Advance(ctx, "t3", false, "")
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if !adv.Team.Winner || adv.Team.WinnerAt == nil {
		t.Fatalf("expected winner, got %+v", adv.Team)
	}
	if adv.Team.CurrentLevel != 5 {
		t.Fatalf("current level must stay capped at 5, got %d", adv.Team.CurrentLevel)
	}

	// Winner is absorbing: a repeated advance changes nothing.
	again, err := service.Advance(ctx, "t3", false, "")
	if err != nil {
		t.Fatalf("repeat advance: %v", err)
	}
	if again.Team.CurrentLevel != 5 || !again.Team.Winner {
		t.Fatalf("expected unchanged winner state, got %+v", again.Team)
	}
}

func TestAdvanceRecordsQualification(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")

	if _, err := service.Advance(ctx, "t1", false, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	members, err := service.Qualified(ctx, 1)
	if err != nil {
		t.Fatalf("qualified: %v", err)
	}
	if len(members) != 1 || members[0] != "T1" {
		t.Fatalf("expected ledger to hold T1 for level 1, got %v", members)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")

	if _, err := service.Submit(ctx, "ghost", 1, domain.Submission{Score: 1}); !errors.Is(err, domain.ErrTeamNotFound) {
		t.Fatalf("expected team not found, got %v", err)
	}
	if _, err := service.Submit(ctx, "t1", 9, domain.Submission{Score: 1}); !errors.Is(err, domain.ErrInvalidLevel) {
		t.Fatalf("expected invalid level, got %v", err)
	}
	// Stale client replaying an old level must be rejected, not accepted.
	if _, err := service.Submit(ctx, "t1", 2, domain.Submission{Score: 1}); !errors.Is(err, domain.ErrLevelMismatch) {
		t.Fatalf("expected level mismatch, got %v", err)
	}
}

func TestEliminateFreezesSubmitPath(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")

	team, err := service.Eliminate(ctx, "t1", "rule violation")
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	if !team.Eliminated {
		t.Fatalf("expected eliminated team")
	}

	res, err := service.Submit(ctx, "t1", 1, domain.Submission{Score: 80})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != domain.OutcomeEliminated || res.Team.Level(1).Score != 0 {
		t.Fatalf("expected frozen submit path, got %+v", res)
	}

	if _, err := service.Eliminate(ctx, "t1", ""); !errors.Is(err, domain.ErrAlreadyEliminated) {
		t.Fatalf("expected already eliminated, got %v", err)
	}
	if _, err := service.Advance(ctx, "t1", false, ""); !errors.Is(err, domain.ErrAlreadyEliminated) {
		t.Fatalf("expected advance without override to fail, got %v", err)
	}
}

func TestTabSwitchViolationAppliesPenalty(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")

	if _, err := service.Submit(ctx, "t1", 1, domain.Submission{Score: 25}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	team, err := service.RecordViolation(ctx, "t1", domain.ReasonTabSwitch)
	if err != nil {
		t.Fatalf("violation: %v", err)
	}
	if team.Penalty != 10 || team.TabSwitchCount != 1 {
		t.Fatalf("expected penalty 10 and one tab switch, got %+v", team)
	}

	st, err := service.Standings(ctx)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if len(st.Entries) != 1 || st.Entries[0].Total != 15 {
		t.Fatalf("expected standings total 15, got %+v", st.Entries)
	}
}

func TestWatchReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")

	ch, cancel := service.Watch()
	defer cancel()

	if _, err := service.Submit(ctx, "t1", 1, domain.Submission{Score: 12}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case st := <-ch:
		if len(st.Entries) != 1 || st.Entries[0].Total != 12 {
			t.Fatalf("expected updated standings, got %+v", st.Entries)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a standings update")
	}
}

func TestLevelStartDurations(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	// Definition duration wins.
	info, err := service.LevelStart(ctx, 2)
	if err != nil {
		t.Fatalf("level start: %v", err)
	}
	if info.DurationSeconds != 300 || info.ServerNow.IsZero() {
		t.Fatalf("expected definition duration 300, got %+v", info)
	}

	// No definition: configured default applies.
	info, err = service.LevelStart(ctx, 1)
	if err != nil {
		t.Fatalf("level start: %v", err)
	}
	if info.DurationSeconds != 180 {
		t.Fatalf("expected default duration 180, got %d", info.DurationSeconds)
	}

	if _, err := service.LevelStart(ctx, 0); !errors.Is(err, domain.ErrInvalidLevel) {
		t.Fatalf("expected invalid level, got %v", err)
	}
}

func TestLevelRankingOrder(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	registerTeam(t, service, "t1", "Alpha")
	registerTeam(t, service, "t2", "Bravo")
	registerTeam(t, service, "t3", "Charlie")

	if _, err := service.Submit(ctx, "t2", 1, domain.Submission{Score: 50}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := service.Submit(ctx, "t1", 1, domain.Submission{Score: 50}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	entries, err := service.LevelRanking(ctx, 1)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Equal scores: earlier solve wins; the unsolved team sorts last.
	if entries[0].TeamID != "T2" || entries[1].TeamID != "T1" || entries[2].TeamID != "T3" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

func registerTeam(t *testing.T, service *app.ProgressionService, id, name string) {
	t.Helper()
	if _, err := service.Register(context.Background(), id, name, nil); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

// advanceTo moves a team up through admin advances until it sits on level n.
func advanceTo(t *testing.T, service *app.ProgressionService, id string, n int) {
	t.Helper()
	ctx := context.Background()
	for {
		team, err := service.GetTeam(ctx, id)
		if err != nil {
			t.Fatalf("get team: %v", err)
		}
		if team.CurrentLevel >= n {
			return
		}
		if _, err := service.Advance(ctx, id, false, ""); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
}

func countViolations(team domain.Team, reason string, level int) int {
	n := 0
	for _, v := range team.Violations {
		if v.Reason == reason && v.Level == level {
			n++
		}
	}
	return n
}

func newTestService() *app.ProgressionService {
	return newTestServiceWithLevels(testLevels())
}

func newTestServiceWithLevels(levels map[int]domain.LevelDefinition) *app.ProgressionService {
	teams := memory.NewTeamStore()
	repo := memory.NewLevelRepository(memory.NewStaticLevelLoader(levels), 5*time.Minute)
	qualified := memory.NewQualifiedStore()
	return app.NewProgressionService(teams, repo, qualified, app.DefaultRules())
}

func testLevels() map[int]domain.LevelDefinition {
	return map[int]domain.LevelDefinition{
		2: {
			Level:           2,
			AttemptsAllowed: 0, // zero tolerance
			DurationSeconds: 300,
			Questions: []domain.Question{
				{ID: "l2-q1", Prompt: "Say the magic words", Answer: domain.Answer{Kind: domain.AnswerText, Text: "open sesame"}, Marks: 20},
			},
		},
		3: {
			Level:           3,
			AttemptsAllowed: 2,
			Questions: []domain.Question{
				{ID: "l3-q1", Prompt: "Order the phases", Answer: domain.Answer{Kind: domain.AnswerSequence, Sequence: []string{"alpha", "beta", "gamma"}}, Marks: 15},
			},
		},
		4: {
			Level: 4,
			Questions: []domain.Question{
				{ID: "l4-q1", Prompt: "Upload your writeup", Answer: domain.Answer{Kind: domain.AnswerManualReview}},
			},
		},
	}
}
