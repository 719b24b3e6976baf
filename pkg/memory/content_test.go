package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/refinelabs/refinery/pkg/errors"
)

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name     string
		memType  Type
		content  map[string]interface{}
		wantErr  bool
		wantCode errors.ErrorCode
	}{
		{
			name:    "insight with text",
			memType: TypeInsight,
			content: map[string]interface{}{"text": "handlers should accept interfaces"},
		},
		{
			name:     "insight missing text",
			memType:  TypeInsight,
			content:  map[string]interface{}{"source": "review"},
			wantErr:  true,
			wantCode: errors.ValidationFailed,
		},
		{
			name:    "pattern with occurrences",
			memType: TypePattern,
			content: map[string]interface{}{"name": "repository", "occurrences": 3},
		},
		{
			name:     "pattern negative occurrences",
			memType:  TypePattern,
			content:  map[string]interface{}{"name": "repository", "occurrences": -1},
			wantErr:  true,
			wantCode: errors.ValidationFailed,
		},
		{
			name:     "pattern wrong field type",
			memType:  TypePattern,
			content:  map[string]interface{}{"name": "repository", "occurrences": "three"},
			wantErr:  true,
			wantCode: errors.ValidationFailed,
		},
		{
			name:    "error with resolution",
			memType: TypeError,
			content: map[string]interface{}{"message": "nil deref", "resolution": "guard added"},
		},
		{
			name:    "success with metrics",
			memType: TypeSuccess,
			content: map[string]interface{}{"summary": "done", "metrics": map[string]interface{}{"files": 4}},
		},
		{
			name:     "preference missing value",
			memType:  TypePreference,
			content:  map[string]interface{}{"key": "indent"},
			wantErr:  true,
			wantCode: errors.ValidationFailed,
		},
		{
			name:    "context with scope",
			memType: TypeContext,
			content: map[string]interface{}{"text": "monorepo layout", "scope": "repo"},
		},
		{
			name:     "empty content",
			memType:  TypeInsight,
			content:  map[string]interface{}{},
			wantErr:  true,
			wantCode: errors.ValidationFailed,
		},
		{
			name:     "unknown type",
			memType:  Type("rumor"),
			content:  map[string]interface{}{"text": "x"},
			wantErr:  true,
			wantCode: errors.InvalidInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateContent(tc.memType, tc.content)
			if !tc.wantErr {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.HasCode(err, tc.wantCode), "got %v", err)
			}
		})
	}
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 10, ClampImportance(15))
	assert.Equal(t, 1, ClampImportance(-3))
	assert.Equal(t, 5, ClampImportance(5))
	assert.Equal(t, 1, ClampImportance(0))
	assert.Equal(t, 10, ClampImportance(10))
}
