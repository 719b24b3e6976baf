package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/refinelabs/refinery/pkg/task"
)

func TestRelevanceScoreBounds(t *testing.T) {
	now := time.Now().UTC()

	best := &Memory{
		ImportanceScore: MaxImportance,
		CreatedAt:       now,
		LastAccessed:    now,
		AccessCount:     frequencySaturation,
	}
	assert.InDelta(t, 1.0, RelevanceScore(best, now), 1e-9)

	worst := &Memory{
		ImportanceScore: MinImportance,
		CreatedAt:       now.AddDate(0, 0, -createdWindowDays),
		LastAccessed:    now.AddDate(0, 0, -accessedWindowDays),
		AccessCount:     0,
	}
	// Only the importance term survives a fully stale, unread record.
	assert.InDelta(t, importanceWeight*0.1, RelevanceScore(worst, now), 1e-9)
}

func TestRelevanceScoreComponents(t *testing.T) {
	now := time.Now().UTC()

	t.Run("creation recency decays linearly", func(t *testing.T) {
		m := &Memory{
			ImportanceScore: MinImportance,
			CreatedAt:       now.AddDate(0, 0, -15), // half the window
			LastAccessed:    now.AddDate(0, 0, -accessedWindowDays),
		}
		want := importanceWeight*0.1 + createdWeight*0.5
		assert.InDelta(t, want, RelevanceScore(m, now), 1e-9)
	})

	t.Run("access frequency saturates", func(t *testing.T) {
		base := &Memory{
			ImportanceScore: MinImportance,
			CreatedAt:       now.AddDate(0, 0, -createdWindowDays),
			LastAccessed:    now.AddDate(0, 0, -accessedWindowDays),
		}
		saturated := *base
		saturated.AccessCount = frequencySaturation
		beyond := *base
		beyond.AccessCount = frequencySaturation * 5

		assert.Equal(t, RelevanceScore(&saturated, now), RelevanceScore(&beyond, now))
		assert.Greater(t, RelevanceScore(&saturated, now), RelevanceScore(base, now))
	})

	t.Run("future timestamps do not exceed the ceiling", func(t *testing.T) {
		m := &Memory{
			ImportanceScore: MaxImportance,
			CreatedAt:       now.Add(time.Hour),
			LastAccessed:    now.Add(time.Hour),
			AccessCount:     100,
		}
		assert.False(t, math.IsNaN(RelevanceScore(m, now)))
		assert.InDelta(t, 1.0, RelevanceScore(m, now), 1e-9)
	})
}

func TestSortByRelevanceTieBreaks(t *testing.T) {
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -createdWindowDays)

	a := &Memory{ID: "a", ImportanceScore: 5, CreatedAt: old, LastAccessed: old}
	b := &Memory{ID: "b", ImportanceScore: 5, CreatedAt: old, LastAccessed: old}
	higher := &Memory{ID: "c", ImportanceScore: 8, CreatedAt: old, LastAccessed: old}

	memories := []*Memory{b, a, higher}
	sortByRelevance(memories, now)

	assert.Equal(t, "c", memories[0].ID)
	// Identical in every term: the id breaks the tie deterministically.
	assert.Equal(t, "a", memories[1].ID)
	assert.Equal(t, "b", memories[2].ID)
}

func TestPreferredTypes(t *testing.T) {
	assert.Equal(t, []Type{TypePattern, TypeError, TypeContext}, PreferredTypes(task.TypeScan))
	assert.Equal(t, []Type{TypeInsight, TypeSuccess, TypePreference}, PreferredTypes(task.TypeEnhance))
	assert.Equal(t, []Type{TypePattern, TypeSuccess, TypeContext}, PreferredTypes(task.TypeAddModules))
	assert.Equal(t, []Type{TypeInsight, TypePattern, TypeSuccess}, PreferredTypes(task.TypeFull))
	assert.Equal(t, []Type{TypeInsight, TypeContext}, PreferredTypes(task.Type("unknown")))
}
