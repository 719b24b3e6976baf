package memory

import (
	"sort"
	"time"

	"github.com/refinelabs/refinery/pkg/task"
)

// Relevance weighting: importance first, then creation freshness, then
// access freshness, then access frequency. Used for ranking only, never
// for filtering.
const (
	importanceWeight = 0.4
	createdWeight    = 0.3
	accessedWeight   = 0.2
	frequencyWeight  = 0.1

	createdWindowDays   = 30
	accessedWindowDays  = 7
	frequencySaturation = 10
)

// recency maps a timestamp to [0,1]: 1 at now, linearly down to 0 at
// the window boundary and beyond.
func recency(t time.Time, windowDays float64, now time.Time) float64 {
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		days = 0
	}
	score := 1 - days/windowDays
	if score < 0 {
		return 0
	}
	return score
}

// RelevanceScore computes the weighted ranking score for a memory.
func RelevanceScore(m *Memory, now time.Time) float64 {
	frequency := float64(m.AccessCount) / frequencySaturation
	if frequency > 1 {
		frequency = 1
	}
	return importanceWeight*float64(m.ImportanceScore)/float64(MaxImportance) +
		createdWeight*recency(m.CreatedAt, createdWindowDays, now) +
		accessedWeight*recency(m.LastAccessed, accessedWindowDays, now) +
		frequencyWeight*frequency
}

// sortByRelevance orders memories by descending relevance. Ties fall
// through the weight terms in priority order, never to randomness.
func sortByRelevance(memories []*Memory, now time.Time) {
	sort.SliceStable(memories, func(i, j int) bool {
		a, b := memories[i], memories[j]
		sa, sb := RelevanceScore(a, now), RelevanceScore(b, now)
		if sa != sb {
			return sa > sb
		}
		if a.ImportanceScore != b.ImportanceScore {
			return a.ImportanceScore > b.ImportanceScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.After(b.LastAccessed)
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.ID < b.ID
	})
}

// typePreferences maps an execution mode to the memory types most
// useful as context for its stages, in preference order.
var typePreferences = map[task.Type][]Type{
	task.TypeScan:       {TypePattern, TypeError, TypeContext},
	task.TypeEnhance:    {TypeInsight, TypeSuccess, TypePreference},
	task.TypeAddModules: {TypePattern, TypeSuccess, TypeContext},
	task.TypeFull:       {TypeInsight, TypePattern, TypeSuccess},
}

// PreferredTypes returns the memory types favored for a task type.
func PreferredTypes(taskType task.Type) []Type {
	if prefs, ok := typePreferences[taskType]; ok {
		return prefs
	}
	return []Type{TypeInsight, TypeContext}
}
