package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/mathscore/pkg/stage"
)

type testPayload struct {
	Name    string
	Weights []float64
	Labels  map[string]int
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts", "thing.gob")
	in := testPayload{Name: "ridge", Weights: []float64{1.5, -2, 0}, Labels: map[string]int{"a": 1}}

	require.NoError(t, Save(path, in))
	assert.True(t, Exists(path))

	var out testPayload
	require.NoError(t, Load(path, &out))
	assert.Equal(t, in, out)
}

func TestLoad_Missing(t *testing.T) {
	var out testPayload
	err := Load(filepath.Join(t.TempDir(), "model.gob"), &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrArtifactNotFound))
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0600))

	var out testPayload
	err := Load(path, &out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, stage.ErrArtifactNotFound))
}

func TestSave_EmptyPath(t *testing.T) {
	assert.Error(t, Save("", testPayload{}))
}

func TestStat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enc.gob")

	_, err := Stat(path)
	assert.True(t, errors.Is(err, stage.ErrArtifactNotFound))
	assert.False(t, Exists(path))

	require.NoError(t, Save(path, testPayload{Name: "a"}))
	first, err := Stat(path)
	require.NoError(t, err)
	assert.Greater(t, first.Size, int64(0))

	later := first.ModTime.Add(2 * time.Second)
	require.NoError(t, Save(path, testPayload{Name: "b", Weights: make([]float64, 64)}))
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := Stat(path)
	require.NoError(t, err)
	assert.NotEqual(t, first.Key(), second.Key())

	_, err = Stat(dir)
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	require.NoError(t, Remove(path))

	require.NoError(t, Save(path, testPayload{Name: "x"}))
	require.NoError(t, Remove(path))
	assert.False(t, Exists(path))
}

func TestStagingPath(t *testing.T) {
	p := filepath.Join("artifacts", "model.gob")
	assert.Equal(t, filepath.Join("artifacts", ".model.gob.staged"), StagingPath(p))
}

func TestPromote(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "model.gob")
	staged := StagingPath(final)

	require.NoError(t, Save(final, testPayload{Name: "old"}))
	require.NoError(t, Save(staged, testPayload{Name: "new"}))
	require.NoError(t, Promote(staged, final))

	var out testPayload
	require.NoError(t, Load(final, &out))
	assert.Equal(t, "new", out.Name)
	assert.False(t, Exists(staged))
}

func TestPromote_Missing(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "model.gob")
	require.NoError(t, Save(final, testPayload{Name: "old"}))

	err := Promote(StagingPath(final), final)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrArtifactNotFound))

	var out testPayload
	require.NoError(t, Load(final, &out))
	assert.Equal(t, "old", out.Name, "deployed artifact untouched")
}
