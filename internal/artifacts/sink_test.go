package artifacts

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFSSinkWritesArtifacts(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink := NewFSSink(fs, "out", zap.NewNop())

	shot := []byte{0x89, 'P', 'N', 'G'}
	require.NoError(t, sink.SaveStep("ep-1", 3, shot, "<html></html>"))

	got, err := afero.ReadFile(fs, "out/episodes/ep-1/step_0003/screenshot.png")
	require.NoError(t, err)
	assert.Equal(t, shot, got)

	html, err := afero.ReadFile(fs, "out/episodes/ep-1/step_0003/page.html")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(html))
}

func TestFSSinkSkipsEmptyPayloads(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink := NewFSSink(fs, "out", zap.NewNop())

	require.NoError(t, sink.SaveStep("ep-2", 0, nil, ""))

	exists, err := afero.Exists(fs, "out/episodes/ep-2/step_0000/screenshot.png")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fs, "out/episodes/ep-2/step_0000/page.html")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFSSinkRejectsEmptyEpisodeID(t *testing.T) {
	sink := NewFSSink(afero.NewMemMapFs(), "out", zap.NewNop())
	require.Error(t, sink.SaveStep("", 0, []byte{1}, "x"))
}
