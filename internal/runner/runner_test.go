package runner

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunCapturesStdoutUnderLimit(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), Options{
		Argv:   []string{"/bin/echo", "-n", "hello"},
		Stdout: &Sink{Writer: &out, Limit: 1024},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.StdoutOLE)
	require.Equal(t, "hello", out.String())
	require.EqualValues(t, 5, res.StdoutBytesWritten)
}

func TestRunDetectsStdoutOLE(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), Options{
		Argv:   []string{"/bin/sh", "-c", "printf '%0.sx' $(seq 1 2000)"},
		Stdout: &Sink{Writer: &out, Limit: 100},
	})
	require.NoError(t, err)
	require.True(t, res.StdoutOLE)
	require.EqualValues(t, 100, res.StdoutBytesWritten)
	require.Len(t, out.String(), 100)
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), Options{
		Argv: []string{"/bin/sh", "-c", "exit 7"},
	})
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestRunStdinPassthrough(t *testing.T) {
	var out bytes.Buffer
	res, err := Run(context.Background(), Options{
		Argv:   []string{"/bin/cat"},
		Stdin:  bytes.NewBufferString("feed me"),
		Stdout: &Sink{Writer: &out, Limit: 1024},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "feed me", out.String())
}

func TestRunSupervisorTimeoutKillsChild(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := Run(ctx, Options{
		Argv: []string{"/bin/sleep", "5"},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, res.TimedOut)
}

func TestRunDiscardsUncapturedStreams(t *testing.T) {
	res, err := Run(context.Background(), Options{
		Argv: []string{"/bin/sh", "-c", "echo to stdout; echo to stderr 1>&2"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
}
