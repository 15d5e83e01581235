package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlcal/internal/ics"
	"nlcal/internal/model"
)

func TestWriteNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "out"))

	first, err := s.Write(ics.Payload{Filename: "Meet_2024-10-31.ics", Data: []byte("one")})
	require.NoError(t, err)
	second, err := s.Write(ics.Payload{Filename: "Meet_2024-10-31.ics", Data: []byte("two")})
	require.NoError(t, err)

	assert.Equal(t, "Meet_2024-10-31.ics", filepath.Base(first))
	assert.Equal(t, "Meet_2024-10-31-2.ics", filepath.Base(second))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	info, err := os.Stat(second)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteStaysInsideDirectory(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	path, err := s.Write(ics.Payload{Filename: "../../escape.ics", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, "escape.ics", filepath.Base(path))
}

func TestWriteDefaultsName(t *testing.T) {
	path, err := New(t.TempDir()).Write(ics.Payload{Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "event.ics", filepath.Base(path))
}

func TestWriteFailureIsFileSinkError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := New(filepath.Join(blocker, "sub")).Write(ics.Payload{Filename: "a.ics"})
	assert.ErrorIs(t, err, ErrFileSink)

	_, err = New("").Write(ics.Payload{Filename: "a.ics"})
	assert.ErrorIs(t, err, ErrFileSink)
}

func TestWriteLongMultiByteName(t *testing.T) {
	name := ics.Filename(model.Event{Name: strings.Repeat("🎉", 70), StartDate: "2024-10-31"})
	s := New(t.TempDir())

	first, err := s.Write(ics.Payload{Filename: name, Data: []byte("a")})
	require.NoError(t, err)
	second, err := s.Write(ics.Payload{Filename: name, Data: []byte("b")})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPathReportsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	assert.Equal(t, dir, New(dir).Path())
}
