package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{{"serve"}, {"sweep"}, {"user", "create"}, {"user", "token"}, {"meals"}, {"analyze"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	sweep, _, _ := root.Find([]string{"sweep"})
	assert.NotNil(t, sweep.Flags().Lookup("dry-run"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestAudioDetection(t *testing.T) {
	assert.True(t, isAudio("note.webm", "video/webm"))
	assert.Equal(t, "audio/webm", audioType("note.webm", "video/webm"))
	assert.True(t, isAudio("clip", "audio/mpeg"))
	assert.Equal(t, "audio/mpeg", audioType("clip", "audio/mpeg"))
	assert.False(t, isAudio("lunch.jpg", "image/jpeg"))
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Meal", "Calories"}, [][]string{{"Lunch", "620"}, {"Snack"}}, 2)
	assert.Contains(t, out, "Lunch")
	assert.Contains(t, out, "620")
	assert.Contains(t, out, "Snack")
	assert.Contains(t, out, "Calories")
}
