package sandboxreport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neohoj/iruka-worker/internal/verdict"
)

const sampleLog = `[I] some nsjail info line
[S][123] __STAT__:0 time = 42
[S][123] __STAT__:0 1:cgroup_memory_max_usage = 1048576
[S][123] __STAT__:0 cgroup_memory_failcnt = 0
[S][123] __STAT__:0 exit_normally = true
garbage that does not match
`

func TestParseExtractsStatLines(t *testing.T) {
	report, err := Parse(strings.NewReader(sampleLog))
	require.NoError(t, err)
	require.Equal(t, "42", report["time"])
	require.Equal(t, "1048576", report["cgroup_memory_max_usage"])
	require.Equal(t, "0", report["cgroup_memory_failcnt"])
	require.Equal(t, "true", report["exit_normally"])
}

func TestParseFailsOnMissingMandatoryKey(t *testing.T) {
	_, err := Parse(strings.NewReader("[S][1] __STAT__:0 time = 5\n"))
	require.Error(t, err)
	var corrupt *ErrCorrupt
	require.ErrorAs(t, err, &corrupt)
}

func TestOracleSeccompViolation(t *testing.T) {
	report, err := Parse(strings.NewReader(sampleLog + "[S][123] __STAT__:0 seccomp_violation = true\n"))
	require.NoError(t, err)
	require.Equal(t, verdict.RF, Oracle(report, 1000, false, false))
}

func TestOracleStdoutOLETakesPriorityOverMLE(t *testing.T) {
	report := Report{
		"time": "10", "cgroup_memory_max_usage": "1", "cgroup_memory_failcnt": "1", "exit_normally": "true",
	}
	require.Equal(t, verdict.OLE, Oracle(report, 1000, true, false))
}

func TestOracleMLE(t *testing.T) {
	report := Report{
		"time": "10", "cgroup_memory_max_usage": "1", "cgroup_memory_failcnt": "1", "exit_normally": "true",
	}
	require.Equal(t, verdict.MLE, Oracle(report, 1000, false, false))
}

func TestOracleTLE(t *testing.T) {
	report := Report{
		"time": "2000", "cgroup_memory_max_usage": "1", "cgroup_memory_failcnt": "0", "exit_normally": "false",
	}
	require.Equal(t, verdict.TLE, Oracle(report, 1000, false, false))
}

func TestOracleRE(t *testing.T) {
	report := Report{
		"time": "10", "cgroup_memory_max_usage": "1", "cgroup_memory_failcnt": "0", "exit_normally": "true",
	}
	require.Equal(t, verdict.RE, Oracle(report, 1000, false, true))
}

func TestOraclePendingWhenClean(t *testing.T) {
	report := Report{
		"time": "10", "cgroup_memory_max_usage": "1", "cgroup_memory_failcnt": "0", "exit_normally": "true",
	}
	require.Equal(t, verdict.PENDING, Oracle(report, 1000, false, false))
}

func TestOracleSeccompKeyAbsentDoesNotTrigger(t *testing.T) {
	report := Report{
		"time": "10", "cgroup_memory_max_usage": "1", "cgroup_memory_failcnt": "0", "exit_normally": "true",
	}
	require.Equal(t, verdict.PENDING, Oracle(report, 1000, false, false))
}
