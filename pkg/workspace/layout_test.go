package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeforge/vibeforge/pkg/models"
)

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/data/ws")

	assert.Equal(t, filepath.Join("/data/ws", "sess-1"), l.SessionDir("sess-1"))
	assert.Equal(t, filepath.Join("/data/ws", "sess-1", "repo"), l.RepoDir("sess-1"))
	assert.Equal(t, filepath.Join("/data/ws", "sess-1", "artifacts"), l.ArtifactsDir("sess-1"))
	assert.Equal(t, filepath.Join("/data/ws", "sess-1", "events.jsonl"), l.EventLogPath("sess-1"))
}

func TestInitCreatesTree(t *testing.T) {
	l := NewLayout(t.TempDir())

	require.NoError(t, l.Init("sess-1"))

	for _, dir := range []string{l.SessionDir("sess-1"), l.RepoDir("sess-1"), l.ArtifactsDir("sess-1")} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Idempotent.
	require.NoError(t, l.Init("sess-1"))
}

func TestInitRejectsTraversal(t *testing.T) {
	l := NewLayout(t.TempDir())

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		err := l.Init(id)
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr, "id %q", id)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	l := NewLayout(t.TempDir())
	require.NoError(t, l.Init("sess-1"))

	blob := []byte(`{"concept":"build a game"}`)
	require.NoError(t, l.WriteArtifact("sess-1", "concept.json", blob))

	got, err := l.ReadArtifact("sess-1", "concept.json")
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestWriteArtifactWithoutInit(t *testing.T) {
	l := NewLayout(t.TempDir())

	require.NoError(t, l.WriteArtifact("sess-2", "plan.json", []byte("{}")))

	got, err := l.ReadArtifact("sess-2", "plan.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), got)
}

func TestReadArtifactMissing(t *testing.T) {
	l := NewLayout(t.TempDir())
	require.NoError(t, l.Init("sess-1"))

	_, err := l.ReadArtifact("sess-1", "absent.json")
	assert.Error(t, err)
}

func TestArtifactNameValidation(t *testing.T) {
	l := NewLayout(t.TempDir())

	err := l.WriteArtifact("sess-1", "../../evil", []byte("x"))
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}
