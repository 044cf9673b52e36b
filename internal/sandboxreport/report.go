// Package sandboxreport parses the sandbox's statistics log and derives a
// verdict from it, the task's time limit, and the runner's OLE flag.
package sandboxreport

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/neohoj/iruka-worker/internal/verdict"
)

// statLine matches "[S][<pid>] __STAT__:0 [<n>:]<key> = <value>".
var statLine = regexp.MustCompile(`^\[S\]\[\d+\] __STAT__:0 (?:\d+:)?(\w+)\s*=\s*(.*)$`)

// Report is the key/value mapping scanned out of the sandbox's log.
type Report map[string]string

var mandatoryKeys = []string{"time", "cgroup_memory_max_usage", "cgroup_memory_failcnt", "exit_normally"}

// ErrCorrupt wraps a missing-mandatory-key failure, an internal error
// rather than a task-level verdict.
type ErrCorrupt struct {
	MissingKey string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("sandboxreport: mandatory key %q missing from sandbox log", e.MissingKey)
}

// Parse scans r line by line for stat records, ignoring anything else the
// sandbox may have written to the same stream. It fails with *ErrCorrupt if
// any mandatory key never appeared.
func Parse(r io.Reader) (Report, error) {
	report := make(Report)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := statLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		report[m[1]] = m[2]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sandboxreport: scan: %w", err)
	}

	for _, key := range mandatoryKeys {
		if _, ok := report[key]; !ok {
			return nil, &ErrCorrupt{MissingKey: key}
		}
	}
	return report, nil
}

// TimeUsedMs returns the report's "time" key as an integer.
func (r Report) TimeUsedMs() (int64, error) {
	return r.intKey("time")
}

// MemUsedBytes returns the report's "cgroup_memory_max_usage" key as an integer.
func (r Report) MemUsedBytes() (int64, error) {
	return r.intKey("cgroup_memory_max_usage")
}

func (r Report) intKey(key string) (int64, error) {
	v, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("sandboxreport: key %q absent", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sandboxreport: key %q = %q is not an integer: %w", key, v, err)
	}
	return n, nil
}

// Oracle derives a verdict from a parsed report, the task's time limit,
// whether the runner observed stdout OLE, and whether the sandbox process
// itself exited non-zero, in fixed priority order: seccomp violation,
// then stdout OLE, then MLE, then TLE, then RE, then PENDING ("no
// sandbox-level failure; run the checker").
func Oracle(report Report, timeLimitMs int64, stdoutOLE, processFailed bool) verdict.Verdict {
	if v, ok := report["seccomp_violation"]; ok && v != "false" {
		return verdict.RF
	}
	if stdoutOLE {
		return verdict.OLE
	}
	if report["cgroup_memory_failcnt"] != "0" {
		return verdict.MLE
	}
	timeUsed, err := report.TimeUsedMs()
	if err == nil && report["exit_normally"] == "false" && timeUsed >= timeLimitMs {
		return verdict.TLE
	}
	if processFailed {
		return verdict.RE
	}
	return verdict.PENDING
}
