package stage

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := New(Train, KindInsufficientQuality, "no model cleared the bar", "best", 0.42)
	assert.Equal(t, "train: insufficient quality: no model cleared the bar (best=0.42)", err.Error())
}

func TestError_IsMatchesKind(t *testing.T) {
	err := Wrap(Ingest, KindIO, os.ErrNotExist, "reading raw data", "path", "artifacts/data.csv")

	assert.True(t, errors.Is(err, ErrIO))
	assert.False(t, errors.Is(err, ErrProcessing))
	assert.True(t, errors.Is(err, os.ErrNotExist), "cause must stay reachable")
	assert.True(t, errors.Is(err, &Error{Stage: Ingest, Kind: KindIO}))
	assert.False(t, errors.Is(err, &Error{Stage: Train, Kind: KindIO}))
}

func TestError_IsThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("train command: %w", New(Train, KindInsufficientQuality, "rejected"))
	assert.True(t, errors.Is(err, ErrInsufficientQuality))
	assert.Equal(t, KindInsufficientQuality, KindOf(err))
	assert.Equal(t, Train, StageOf(err))
}

func TestWrap_KeepsOriginalClassification(t *testing.T) {
	inner := New(Transform, KindSchemaMismatch, "missing column", "column", "lunch")
	outer := Wrap(Train, KindProcessing, inner, "building encoder", "run", "abc")

	var se *Error
	require.True(t, errors.As(outer, &se))
	assert.Equal(t, Transform, se.Stage)
	assert.Equal(t, KindSchemaMismatch, se.Kind)
	assert.Equal(t, "lunch", se.Context["column"])
	assert.Equal(t, "abc", se.Context["run"])
	assert.Contains(t, outer.Error(), "building encoder")
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(Ingest, KindIO, nil, "nothing"))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, Name(""), StageOf(errors.New("plain")))
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindIO, "io"},
		{KindSchemaMismatch, "schema mismatch"},
		{KindArtifactNotFound, "artifact not found"},
		{Kind(99), "kind(99)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestToContext_OddArgs(t *testing.T) {
	err := New(Request, KindValidation, "bad field", "field")
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "(missing)", se.Context["field"])
}
