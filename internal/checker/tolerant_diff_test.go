package checker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neohoj/iruka-worker/internal/verdict"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runTolerantDiff(t *testing.T, expected, produced string) Output {
	t.Helper()
	dir := t.TempDir()
	out, err := TolerantDiff(Input{
		ExpectedOutput:   writeFile(t, dir, "expected.out", expected),
		UserOutput:       writeFile(t, dir, "user.out", produced),
		PrecedingVerdict: verdict.PENDING,
	})
	require.NoError(t, err)
	return out
}

func TestTolerantDiffExactMatch(t *testing.T) {
	out := runTolerantDiff(t, "1 2 3\n", "1 2 3\n")
	require.Equal(t, verdict.AC, out.Verdict)
}

func TestTolerantDiffWhitespaceEquivalence(t *testing.T) {
	// Trailing \r\n and surrounding whitespace are tolerated.
	out := runTolerantDiff(t, "1 2 3\n", "  1 2 3   \r\n")
	require.Equal(t, verdict.AC, out.Verdict)
}

func TestTolerantDiffWrongAnswerRecordsFirstDiffLine(t *testing.T) {
	out := runTolerantDiff(t, "a\nb\nc\n", "a\nx\nc\n")
	require.Equal(t, verdict.WA, out.Verdict)
	require.Equal(t, "1", out.Metadata["first_diff_line"])
}

func TestTolerantDiffInnerWhitespaceStillDiffers(t *testing.T) {
	out := runTolerantDiff(t, "1 2 3\n", "1  2 3\n")
	require.Equal(t, verdict.WA, out.Verdict)
}

func TestTolerantDiffShorterUserOutputIsWA(t *testing.T) {
	out := runTolerantDiff(t, "a\nb\n", "a\n")
	require.Equal(t, verdict.WA, out.Verdict)
}

func TestTolerantDiffLongerUserOutputIsWA(t *testing.T) {
	out := runTolerantDiff(t, "a\n", "a\nb\n")
	require.Equal(t, verdict.WA, out.Verdict)
}

func TestTolerantDiffMissingFinalNewline(t *testing.T) {
	out := runTolerantDiff(t, "a\n", "a")
	require.Equal(t, verdict.AC, out.Verdict)
}

func TestTolerantDiffEmptyFiles(t *testing.T) {
	out := runTolerantDiff(t, "", "")
	require.Equal(t, verdict.AC, out.Verdict)
}

func TestTolerantDiffNeverUpgradesARealFailure(t *testing.T) {
	dir := t.TempDir()
	out, err := TolerantDiff(Input{
		ExpectedOutput:   writeFile(t, dir, "expected.out", "a\n"),
		UserOutput:       writeFile(t, dir, "user.out", "a\n"),
		PrecedingVerdict: verdict.TLE,
	})
	require.NoError(t, err)
	require.Equal(t, verdict.TLE, out.Verdict)
}
