package services

import (
	"context"
	"fmt"
	"slices"
)

// WatchlistService tracks user interest in listings as a deduplicated
// set per gem.
type WatchlistService struct {
	repo GemRepository
}

func NewWatchlistService(repo GemRepository) *WatchlistService {
	return &WatchlistService{repo: repo}
}

// Add records the user as a watcher of the gem. Watching a gem twice
// is a conflict.
func (s *WatchlistService) Add(ctx context.Context, userID, gemID int) error {
	if _, err := s.repo.Get(ctx, gemID); err != nil {
		return err
	}

	watchers, err := s.repo.Watchers(ctx, gemID)
	if err != nil {
		return err
	}
	if slices.Contains(watchers, userID) {
		return fmt.Errorf("gem already in watchlist: %w", ErrConflict)
	}

	return s.repo.AddWatcher(ctx, gemID, userID)
}

// Remove drops the user from the gem's watcher set. Removing a watcher
// that is not present is not an error.
func (s *WatchlistService) Remove(ctx context.Context, userID, gemID int) error {
	if _, err := s.repo.Get(ctx, gemID); err != nil {
		return err
	}
	return s.repo.RemoveWatcher(ctx, gemID, userID)
}
