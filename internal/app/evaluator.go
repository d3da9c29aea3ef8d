package app

import (
	"strings"

	"escape-progression-service/internal/domain"
)

// evaluateGate tries the submitted answer against every usable question in
// the level's reference pool and returns the matched question.
func evaluateGate(def domain.LevelDefinition, got domain.Answer) (domain.Question, bool) {
	for _, q := range def.Questions {
		if !usableReference(q.Answer) {
			continue
		}
		if matchAnswer(q.Answer, got) {
			return q, true
		}
	}
	return domain.Question{}, false
}

// gateHasReference reports whether a gate level has any reference data to
// evaluate against. A gate without reference data is a configuration error
// and is treated as an immediate-elimination gate.
func gateHasReference(def domain.LevelDefinition) bool {
	for _, q := range def.Questions {
		if usableReference(q.Answer) {
			return true
		}
	}
	return false
}

func usableReference(ref domain.Answer) bool {
	switch ref.Kind {
	case domain.AnswerAutoPass:
		return true
	case domain.AnswerText, domain.AnswerCode:
		return strings.TrimSpace(ref.Text) != ""
	case domain.AnswerSequence:
		return len(ref.Sequence) > 0
	case domain.AnswerIndexSequence:
		return len(ref.Indexes) > 0
	}
	return false
}

// matchAnswer dispatches on the reference answer's tag. Scalar answers
// compare after whitespace/case normalization, sequences element-wise by
// value, index sequences by position, code by token stream.
func matchAnswer(ref, got domain.Answer) bool {
	switch ref.Kind {
	case domain.AnswerAutoPass:
		return true
	case domain.AnswerText:
		return normalizeText(got.Text) == normalizeText(ref.Text)
	case domain.AnswerCode:
		return tokenize(got.Text) == tokenize(ref.Text)
	case domain.AnswerSequence:
		return sequencesEqual(ref.Sequence, submittedSequence(got))
	case domain.AnswerIndexSequence:
		return indexesEqual(ref.Indexes, got.Indexes)
	}
	return false
}

// submittedSequence accepts either a structured sequence or a
// comma-separated scalar, so older clients that flatten their ordering
// answers still match.
func submittedSequence(got domain.Answer) []string {
	if len(got.Sequence) > 0 {
		return got.Sequence
	}
	if got.Text == "" {
		return nil
	}
	return strings.Split(got.Text, ",")
}

func sequencesEqual(ref, got []string) bool {
	if len(ref) != len(got) {
		return false
	}
	for i := range ref {
		if normalizeText(ref[i]) != normalizeText(got[i]) {
			return false
		}
	}
	return true
}

func indexesEqual(ref, got []int) bool {
	if len(ref) != len(got) {
		return false
	}
	for i := range ref {
		if ref[i] != got[i] {
			return false
		}
	}
	return true
}

// normalizeText lowercases, trims and collapses internal whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokenize reduces code answers to a single-space token stream so
// formatting differences don't fail an otherwise exact answer.
func tokenize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// reviewPayload serializes a manual-review submission for verbatim storage.
func reviewPayload(sub domain.Submission) string {
	a := sub.Answer
	switch {
	case a.Text != "":
		return a.Text
	case len(a.Sequence) > 0:
		return strings.Join(a.Sequence, ",")
	}
	return "(empty submission)"
}
