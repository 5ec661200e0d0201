package core

import "context"

// DefaultHistoryLimit caps history listings when no limit is given.
const DefaultHistoryLimit = 50

// History returns the most recent import runs, optionally for one entity.
func (s *Service) History(ctx context.Context, entityKey string, limit int) ([]ImportRun, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.RecentRuns(ctx, entityKey, limit)
}

// LastRun returns the most recent import of an entity, or nil if it was never imported.
func (s *Service) LastRun(ctx context.Context, entityKey string) (*ImportRun, error) {
	runs, err := s.History(ctx, entityKey, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}
