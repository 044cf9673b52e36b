package checker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/neohoj/iruka-worker/internal/verdict"
)

// TolerantDiff is the reference checker: a line-by-line comparison that
// tolerates trailing end-of-line characters and leading/trailing
// whitespace on each line. It preserves the incoming verdict unless it is
// PENDING; a real sandbox-level failure is never upgraded by the checker.
func TolerantDiff(in Input) (Output, error) {
	if in.PrecedingVerdict != verdict.PENDING {
		return Output{Verdict: in.PrecedingVerdict}, nil
	}

	expected, err := os.Open(in.ExpectedOutput)
	if err != nil {
		return Output{}, fmt.Errorf("checker: open expected output: %w", err)
	}
	defer expected.Close()

	produced, err := os.Open(in.UserOutput)
	if err != nil {
		return Output{}, fmt.Errorf("checker: open produced output: %w", err)
	}
	defer produced.Close()

	line, err := tolerantDiffAt(produced, expected)
	if err != nil {
		return Output{}, err
	}

	if line >= 0 {
		return Output{
			Verdict:  verdict.WA,
			Metadata: map[string]string{"first_diff_line": strconv.Itoa(line)},
		}, nil
	}
	return Output{Verdict: verdict.AC}, nil
}

// tolerantDiffAt returns the 0-based index of the first differing line
// between a and b, or -1 if every line matches and both files end together.
func tolerantDiffAt(a, b io.Reader) (int, error) {
	sa := bufio.NewScanner(a)
	sb := bufio.NewScanner(b)
	sa.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sb.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for {
		aHas := sa.Scan()
		bHas := sb.Scan()

		if !aHas && !bHas {
			break
		}
		if aHas != bHas {
			return line, firstErr(sa.Err(), sb.Err())
		}
		if stripLine(sa.Text()) != stripLine(sb.Text()) {
			return line, firstErr(sa.Err(), sb.Err())
		}
		line++
	}
	if err := firstErr(sa.Err(), sb.Err()); err != nil {
		return 0, fmt.Errorf("checker: scan: %w", err)
	}
	return -1, nil
}

// stripLine trims trailing \r/\n (bufio.Scanner's default split already
// strips the \n, so this also trims any leftover \r) and then leading and
// trailing whitespace.
func stripLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	return strings.TrimSpace(s)
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
