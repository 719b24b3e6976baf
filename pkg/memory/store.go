package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/logging"
	"github.com/refinelabs/refinery/pkg/task"
)

// importanceCutoff and the access threshold gate retention cleanup:
// anything at or above the cutoff, or accessed more often than the
// threshold, survives regardless of age.
const importanceCutoff = 4

// StoreConfig tunes the memory store.
type StoreConfig struct {
	MaxCacheSize    int
	AccessThreshold int
}

// Store is the memory component: durable writes, bounded per-project
// caching, relevance-ranked retrieval, and retention cleanup.
type Store struct {
	repo            Repository
	cache           *Cache
	accessThreshold int
	log             *logging.ComponentLogger
}

// NewStore creates a memory store over the given repository.
func NewStore(repo Repository, logger *logging.Logger, cfg StoreConfig) *Store {
	if cfg.MaxCacheSize < 1 {
		cfg.MaxCacheSize = 1000
	}
	if cfg.AccessThreshold < 0 {
		cfg.AccessThreshold = 0
	}
	return &Store{
		repo:            repo,
		cache:           NewCache(cfg.MaxCacheSize),
		accessThreshold: cfg.AccessThreshold,
		log:             logger.WithComponent("memory"),
	}
}

// Cache exposes the bounded cache for inspection.
func (s *Store) Cache() *Cache { return s.cache }

// StoreMemory validates and persists a new memory, then inserts it at
// the front of the project cache. Out-of-range importance is clamped,
// not rejected.
func (s *Store) StoreMemory(ctx context.Context, projectID string, memType Type, content map[string]interface{}, importanceScore int) (*Memory, error) {
	if projectID == "" {
		return nil, errors.New(errors.ValidationFailed, "project id is required")
	}
	if !memType.Valid() {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unknown memory type"),
			errors.Fields{"memory_type": string(memType)})
	}
	if err := ValidateContent(memType, content); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &Memory{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		MemoryType:      memType,
		Content:         content,
		ImportanceScore: ClampImportance(importanceScore),
		CreatedAt:       now,
		LastAccessed:    now,
		AccessCount:     0,
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	s.cache.Put(m)

	s.log.Debug("stored %s memory %s for project %s (importance=%d)",
		m.MemoryType, m.ID, projectID, m.ImportanceScore)
	return m.clone(), nil
}

// RetrieveOptions filter a retrieval.
type RetrieveOptions struct {
	Type          *Type
	Limit         int // defaults to 50
	MinImportance int // defaults to MinImportance
}

func (o *RetrieveOptions) normalize() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.MinImportance < MinImportance {
		o.MinImportance = MinImportance
	}
}

// RetrieveMemories returns up to Limit memories sorted by importance
// descending, served from the cache when the project has one populated.
// Every returned record counts as an access: access_count increments
// and last_accessed refreshes.
func (s *Store) RetrieveMemories(ctx context.Context, projectID string, opts RetrieveOptions) ([]*Memory, error) {
	if projectID == "" {
		return nil, errors.New(errors.ValidationFailed, "project id is required")
	}
	opts.normalize()

	var hits []*Memory
	if s.cache.Populated(projectID) {
		hits = filterCached(s.cache.Snapshot(projectID), opts)
	} else {
		fetched, err := s.repo.List(ctx, Filter{
			ProjectID:     projectID,
			MemoryType:    opts.Type,
			MinImportance: opts.MinImportance,
			Limit:         opts.Limit,
		})
		if err != nil {
			return nil, err
		}
		// Populate newest-result-first so the cache snapshot preserves
		// the query order.
		for i := len(fetched) - 1; i >= 0; i-- {
			s.cache.Put(fetched[i])
		}
		hits = fetched
	}

	return s.markAccessed(ctx, hits)
}

// filterCached applies the retrieval filter to a cache snapshot and
// sorts by importance descending. The sort is stable, so equal scores
// keep insertion order: newest writes first.
func filterCached(snapshot []*Memory, opts RetrieveOptions) []*Memory {
	var hits []*Memory
	for _, m := range snapshot {
		if opts.Type != nil && m.MemoryType != *opts.Type {
			continue
		}
		if m.ImportanceScore < opts.MinImportance {
			continue
		}
		hits = append(hits, m)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].ImportanceScore > hits[j].ImportanceScore
	})
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits
}

// markAccessed bumps access bookkeeping in the store, mirrors it into
// the cache, and returns caller-safe clones. Cached instances are never
// mutated in place: concurrent retrievals may be reading them, so the
// bump lands on a clone that replaces the cached value under the
// cache's lock.
func (s *Store) markAccessed(ctx context.Context, hits []*Memory) ([]*Memory, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	ids := make([]string, len(hits))
	for i, m := range hits {
		ids[i] = m.ID
	}
	if err := s.repo.BumpAccess(ctx, ids, now); err != nil {
		return nil, err
	}

	out := make([]*Memory, len(hits))
	for i, m := range hits {
		bumped := m.clone()
		bumped.AccessCount++
		bumped.LastAccessed = now
		s.cache.Update(bumped)
		out[i] = bumped.clone()
	}
	return out, nil
}

// GetMemoryByID returns one memory, counting the read as an access.
func (s *Store) GetMemoryByID(ctx context.Context, id string) (*Memory, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := s.markAccessed(ctx, []*Memory{m})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SearchMemories looks for term in memory content. Durable full-text
// search is attempted first; any failure degrades to a case-insensitive
// substring match over the serialized content of the project's records.
func (s *Store) SearchMemories(ctx context.Context, projectID, term string, memType *Type, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 20
	}

	results, err := s.repo.Search(ctx, projectID, term, memType, limit)
	if err == nil {
		return cloneAll(results), nil
	}
	s.log.Warn("durable search failed, using substring fallback: %v", err)

	all, err := s.repo.List(ctx, Filter{ProjectID: projectID, MemoryType: memType})
	if err != nil {
		return nil, err
	}

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(term))
	var matched []*Memory
	for _, m := range all {
		serialized, err := json.Marshal(m.Content)
		if err != nil {
			continue
		}
		if needle == "" || strings.Contains(fold.String(string(serialized)), needle) {
			matched = append(matched, m)
			if len(matched) == limit {
				break
			}
		}
	}
	return cloneAll(matched), nil
}

// GetRelevantMemories combines content search with the task type's
// preferred memory types and re-ranks everything by relevance score.
func (s *Store) GetRelevantMemories(ctx context.Context, projectID, contextText string, taskType task.Type, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	candidateLimit := limit * 3

	searched, err := s.SearchMemories(ctx, projectID, contextText, nil, candidateLimit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]*Memory, len(searched))
	for _, m := range searched {
		seen[m.ID] = m
	}
	for _, pref := range PreferredTypes(taskType) {
		memType := pref
		preferred, err := s.repo.List(ctx, Filter{
			ProjectID:  projectID,
			MemoryType: &memType,
			Limit:      candidateLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range preferred {
			if _, ok := seen[m.ID]; !ok {
				seen[m.ID] = m.clone()
			}
		}
	}

	merged := make([]*Memory, 0, len(seen))
	for _, m := range seen {
		merged = append(merged, m)
	}
	sortByRelevance(merged, time.Now().UTC())
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// UpdateMemory applies an explicit edit to content and importance.
func (s *Store) UpdateMemory(ctx context.Context, id string, content map[string]interface{}, importanceScore int) (*Memory, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := ValidateContent(m.MemoryType, content); err != nil {
			return nil, err
		}
		m.Content = content
	}
	m.ImportanceScore = ClampImportance(importanceScore)
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	s.cache.Update(m)
	return m.clone(), nil
}

// DeleteMemory removes a single record explicitly.
func (s *Store) DeleteMemory(ctx context.Context, projectID, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Remove(projectID, id)
	return nil
}

// CleanupOldMemories deletes records that are simultaneously low
// importance, rarely accessed, and stale. Durable knowledge — anything
// important or frequently read — is never rotated out by age alone.
func (s *Store) CleanupOldMemories(ctx context.Context, projectID string, retentionDays int) (int64, error) {
	if projectID == "" {
		return 0, errors.New(errors.ValidationFailed, "project id is required")
	}
	if retentionDays < 1 {
		return 0, errors.New(errors.ValidationFailed, "retention days must be at least 1")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	deleted, err := s.repo.DeleteStale(ctx, projectID, importanceCutoff, s.accessThreshold, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.cache.Invalidate(projectID)
		s.log.Info("cleaned up %d stale memories for project %s", deleted, projectID)
	}
	return deleted, nil
}

func cloneAll(memories []*Memory) []*Memory {
	out := make([]*Memory, len(memories))
	for i, m := range memories {
		out[i] = m.clone()
	}
	return out
}
