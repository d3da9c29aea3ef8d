package app

import (
	"context"
	"errors"
	"sort"

	"escape-progression-service/internal/domain"
)

// QualifySet replaces the qualification ledger for a level with the given
// ids. Ids are normalized and de-duplicated; ids that do not resolve to a
// team are reported back as missing, not treated as a hard failure — the
// valid subset is still committed.
func (s *ProgressionService) QualifySet(ctx context.Context, level int, ids []string) (domain.QualifyResult, error) {
	if level < 1 || level > s.rules.MaxLevel {
		return domain.QualifyResult{}, domain.ErrInvalidLevel
	}

	seen := make(map[string]struct{}, len(ids))
	var valid, missing []string
	for _, raw := range ids {
		id := domain.NormalizeTeamID(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.teams.Get(ctx, id); err != nil {
			if errors.Is(err, domain.ErrTeamNotFound) {
				missing = append(missing, id)
				continue
			}
			return domain.QualifyResult{}, err
		}
		valid = append(valid, id)
	}
	sort.Strings(valid)

	if err := s.qualified.Replace(ctx, level, valid); err != nil {
		return domain.QualifyResult{}, err
	}
	return domain.QualifyResult{Level: level, Qualified: valid, Missing: missing}, nil
}

// QualifyAdd unions one team into the ledger for a level. Unlike QualifySet
// it fails hard when the id does not resolve.
func (s *ProgressionService) QualifyAdd(ctx context.Context, level int, teamID string) (domain.QualifyResult, error) {
	if level < 1 || level > s.rules.MaxLevel {
		return domain.QualifyResult{}, domain.ErrInvalidLevel
	}
	id := domain.NormalizeTeamID(teamID)
	if id == "" {
		return domain.QualifyResult{}, domain.ErrInvalidTeamID
	}
	if _, err := s.teams.Get(ctx, id); err != nil {
		return domain.QualifyResult{}, err
	}
	if err := s.qualified.Add(ctx, level, id); err != nil {
		return domain.QualifyResult{}, err
	}
	members, err := s.qualified.Members(ctx, level)
	if err != nil {
		return domain.QualifyResult{}, err
	}
	sort.Strings(members)
	return domain.QualifyResult{Level: level, Qualified: members}, nil
}

// Qualified lists the ledger members for a level.
func (s *ProgressionService) Qualified(ctx context.Context, level int) ([]string, error) {
	if level < 1 || level > s.rules.MaxLevel {
		return nil, domain.ErrInvalidLevel
	}
	members, err := s.qualified.Members(ctx, level)
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}
