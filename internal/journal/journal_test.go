package journal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempBacking(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "journal-*.bin")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestStartWriteEndDumpRoundTrip(t *testing.T) {
	j, err := New(tempBacking(t))
	require.NoError(t, err)

	require.NoError(t, j.Start("COMPILE"))
	_, err = j.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = j.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, j.End())

	got, err := j.Dump("COMPILE")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestStartRejectsDoubleActive(t *testing.T) {
	j, err := New(tempBacking(t))
	require.NoError(t, err)
	require.NoError(t, j.Start("a"))
	require.Error(t, j.Start("b"))
}

func TestStartRejectsReusedTag(t *testing.T) {
	j, err := New(tempBacking(t))
	require.NoError(t, err)
	require.NoError(t, j.Start("a"))
	require.NoError(t, j.End())
	require.Error(t, j.Start("a"))
}

func TestEndWithoutStartErrors(t *testing.T) {
	j, err := New(tempBacking(t))
	require.NoError(t, err)
	require.Error(t, j.End())
}

func TestDumpUndefinedTagErrors(t *testing.T) {
	j, err := New(tempBacking(t))
	require.NoError(t, err)
	_, err = j.Dump("nope")
	require.Error(t, err)
}

func TestMultipleTagsIndependentSpans(t *testing.T) {
	j, err := New(tempBacking(t))
	require.NoError(t, err)

	require.NoError(t, j.Start("one"))
	_, _ = j.Write([]byte("AAA"))
	require.NoError(t, j.End())

	require.NoError(t, j.Start("two"))
	_, _ = j.Write([]byte("BB"))
	require.NoError(t, j.End())

	one, err := j.Dump("one")
	require.NoError(t, err)
	require.Equal(t, "AAA", string(one))

	two, err := j.Dump("two")
	require.NoError(t, err)
	require.Equal(t, "BB", string(two))
}

func TestJournalsSessionEndsBothOnError(t *testing.T) {
	js, err := NewJournals(tempBacking(t), tempBacking(t))
	require.NoError(t, err)

	sessionErr := js.Session("COMPILE", func() error {
		_, _ = js.Stdout.Write([]byte("out"))
		_, _ = js.Stderr.Write([]byte("err"))
		return assert.AnError
	})
	require.ErrorIs(t, sessionErr, assert.AnError)
	require.False(t, js.Stdout.Active())
	require.False(t, js.Stderr.Active())

	out, err := js.Stdout.Dump("COMPILE")
	require.NoError(t, err)
	require.Equal(t, "out", string(out))
}
