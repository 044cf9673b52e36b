// Package pipeline drives one submission's compile -> run-under-sandbox ->
// check -> grade lifecycle over a task tree, orchestrating
// internal/runner, internal/journal, internal/sandboxreport,
// internal/checker and internal/tasktree.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/neohoj/iruka-worker/internal/checker"
	"github.com/neohoj/iruka-worker/internal/journal"
	"github.com/neohoj/iruka-worker/internal/runner"
	"github.com/neohoj/iruka-worker/internal/sandboxreport"
	"github.com/neohoj/iruka-worker/internal/tasktree"
	"github.com/neohoj/iruka-worker/internal/verdict"
)

// Config parameterises a Pipeline with the sandbox, compile, and scratch
// settings (defaults live in internal/config).
type Config struct {
	NsjailPath             string
	NsjailConfigPath       string
	CompileCommandTemplate string
	BuildDir               string
	// RunOutputPath is the scratch directory the per-task user-output
	// files are created in (tmpfs recommended). Empty means the system
	// temp directory.
	RunOutputPath       string
	BuildOutputCapBytes int64
	BuildMemCapBytes    int64
	RunOutputCapBytes   int64
	Checker             checker.Checker
}

// TaskResult mirrors dispatch.TaskResult without importing the dispatch
// package, keeping pipeline a leaf of the dependency graph the way
// internal/runner and internal/checker are.
type TaskResult struct {
	GroupIndex   int
	SubtaskIndex int
	TimeUsedMs   int64
	MemUsedBytes int64
	Verdict      verdict.Verdict
}

// CompileLog is one captured compile stream plus its truncation flag.
type CompileLog struct {
	Content   []byte
	Truncated bool
}

// Pipeline runs one submission's full judge lifecycle.
type Pipeline struct {
	cfg      Config
	journals *journal.Journals
	logger   *zap.Logger

	buildOLEStdout bool
	buildOLEStderr bool
}

// New builds a Pipeline backed by two fresh journal files, one per stream.
func New(cfg Config, stdoutJournal, stderrJournal *os.File, logger *zap.Logger) (*Pipeline, error) {
	if cfg.Checker == nil {
		cfg.Checker = checker.TolerantDiff
	}
	journals, err := journal.NewJournals(stdoutJournal, stderrJournal)
	if err != nil {
		return nil, fmt.Errorf("pipeline: journals: %w", err)
	}
	return &Pipeline{cfg: cfg, journals: journals, logger: logger}, nil
}

// quoteIfNotEmpty shell-quotes v unless it is empty, in which case it is
// emitted unquoted so the tokenizer drops it instead of producing an
// empty argument.
func quoteIfNotEmpty(v string) string {
	if v == "" {
		return ""
	}
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// buildCompileArgv formats cfg.CompileCommandTemplate with src/output plus
// the caller-supplied context map and tokenizes the result.
func buildCompileArgv(tpl, src, output string, context map[string]string) ([]string, error) {
	quoted := make(map[string]string, len(context))
	for k, v := range context {
		quoted[k] = quoteIfNotEmpty(v)
	}
	quoted["src"] = quoteIfNotEmpty(src)
	quoted["output"] = quoteIfNotEmpty(output)

	line := tpl
	for k, v := range quoted {
		line = strings.ReplaceAll(line, "{"+k+"}", v)
	}
	argv, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("pipeline: tokenize compile command %q: %w", line, err)
	}
	return argv, nil
}

// Compile writes src to cfg.BuildDir, formats and runs the compile
// command, journals both streams under tag "COMPILE", and reports success.
// A non-zero exit is not an error; it's a normal compile-failure outcome
// the caller turns into a terminal result event.
func (p *Pipeline) Compile(ctx context.Context, sourceFilename, sourceCode, outputBinary string, compileContext map[string]string) (bool, error) {
	srcPath := filepath.Join(p.cfg.BuildDir, sourceFilename)
	if err := os.WriteFile(srcPath, []byte(sourceCode), 0o644); err != nil {
		return false, fmt.Errorf("pipeline: write source: %w", err)
	}

	argv, err := buildCompileArgv(p.cfg.CompileCommandTemplate, sourceFilename, outputBinary, compileContext)
	if err != nil {
		return false, err
	}
	if len(argv) == 0 {
		return false, fmt.Errorf("pipeline: empty compile command")
	}

	p.logger.Info("running compile command", zap.Strings("argv", argv))

	var completed *runner.Completed
	sessionErr := p.journals.Session("COMPILE", func() error {
		completed, err = runner.Run(ctx, runner.Options{
			Argv:                   argv,
			Dir:                    p.cfg.BuildDir,
			Stdout:                 &runner.Sink{Writer: p.journals.Stdout, Limit: p.cfg.BuildOutputCapBytes},
			Stderr:                 &runner.Sink{Writer: p.journals.Stderr, Limit: p.cfg.BuildOutputCapBytes},
			AddressSpaceLimitBytes: p.cfg.BuildMemCapBytes,
		})
		return err
	})
	if sessionErr != nil {
		return false, fmt.Errorf("pipeline: compile: %w", sessionErr)
	}

	p.buildOLEStdout = completed.StdoutOLE
	p.buildOLEStderr = completed.StderrOLE

	p.logger.Info("build finished", zap.Int("exit_code", completed.ExitCode))
	return completed.ExitCode == 0, nil
}

// CompileLogs returns the journaled compile-phase stdout/stderr, for the
// final result event's log map.
func (p *Pipeline) CompileLogs() (stdout, stderr CompileLog, err error) {
	out, err := p.journals.Stdout.Dump("COMPILE")
	if err != nil {
		return CompileLog{}, CompileLog{}, fmt.Errorf("pipeline: dump compile stdout: %w", err)
	}
	errBytes, err := p.journals.Stderr.Dump("COMPILE")
	if err != nil {
		return CompileLog{}, CompileLog{}, fmt.Errorf("pipeline: dump compile stderr: %w", err)
	}
	return CompileLog{Content: out, Truncated: p.buildOLEStdout},
		CompileLog{Content: errBytes, Truncated: p.buildOLEStderr}, nil
}

// sandboxArgv constructs the nsjail invocation: fixed flags, the caller's
// cwd/time/mem limits, the statistics-log fd (always 3, matching
// exec.Cmd.ExtraFiles' fixed numbering), then "--" and the supervised
// program's own argv.
func sandboxArgv(cfg Config, cwd string, timeLimitMs, memLimitKiB int64, execArgv []string) []string {
	seconds := int64(math.Ceil(float64(timeLimitMs) / 1000.0))
	memBytes := memLimitKiB * 1024
	argv := []string{
		cfg.NsjailPath,
		"-C", cfg.NsjailConfigPath,
		"-D", cwd,
		"-t", strconv.FormatInt(seconds, 10),
		"--cgroup_mem_max", strconv.FormatInt(memBytes, 10),
		"--log_fd", "3",
		"--",
	}
	return append(argv, execArgv...)
}

// RunTask executes one task under the sandbox, interprets its statistics
// log, and checks the output if the sandbox oracle left the verdict
// PENDING.
func (p *Pipeline) RunTask(ctx context.Context, groupIndex, subtaskIndex int, task tasktree.Task, binding Binding, cwd string, execArgv []string) (TaskResult, error) {
	scratchDir := p.cfg.RunOutputPath
	if scratchDir != "" {
		if err := os.MkdirAll(scratchDir, 0o755); err != nil {
			return TaskResult{}, fmt.Errorf("pipeline: prepare run scratch directory: %w", err)
		}
	}
	userOut, err := os.CreateTemp(scratchDir, "iruka-userout-*")
	if err != nil {
		return TaskResult{}, fmt.Errorf("pipeline: create user output scratch file: %w", err)
	}
	userOutPath := userOut.Name()
	defer os.Remove(userOutPath)

	logFile, err := os.CreateTemp("", "iruka-sandboxlog-*")
	if err != nil {
		userOut.Close()
		return TaskResult{}, fmt.Errorf("pipeline: create sandbox log scratch file: %w", err)
	}
	defer os.Remove(logFile.Name())
	defer logFile.Close()

	stdin, err := os.Open(binding.InputPath)
	if err != nil {
		userOut.Close()
		return TaskResult{}, fmt.Errorf("pipeline: open testdata input: %w", err)
	}
	defer stdin.Close()

	argv := sandboxArgv(p.cfg, cwd, task.TimeLimitMs, task.MemLimitKiB, execArgv)
	p.logger.Info("running sandbox command", zap.String("task", task.Label), zap.Strings("argv", argv))

	var completed *runner.Completed
	tag := "RUN-" + task.Label
	sessionErr := p.journals.Session(tag, func() error {
		completed, err = runner.Run(ctx, runner.Options{
			Argv:       argv,
			Stdin:      stdin,
			Stdout:     &runner.Sink{Writer: userOut, Limit: p.cfg.RunOutputCapBytes},
			ExtraFiles: []*os.File{logFile},
		})
		return err
	})
	if cerr := userOut.Close(); cerr != nil && sessionErr == nil {
		sessionErr = cerr
	}
	if sessionErr != nil {
		return TaskResult{}, fmt.Errorf("pipeline: run task %q: %w", task.Label, sessionErr)
	}

	if _, err := logFile.Seek(0, 0); err != nil {
		return TaskResult{}, fmt.Errorf("pipeline: rewind sandbox log: %w", err)
	}
	report, err := sandboxreport.Parse(logFile)
	if err != nil {
		return TaskResult{}, fmt.Errorf("pipeline: parse sandbox log for task %q: %w", task.Label, err)
	}

	processFailed := completed.ExitCode != 0
	v := sandboxreport.Oracle(report, task.TimeLimitMs, completed.StdoutOLE, processFailed)

	if v == verdict.PENDING {
		out, err := p.cfg.Checker(checker.Input{
			InfilePath:       binding.InputPath,
			ExpectedOutput:   binding.ExpectedOutputPath,
			UserOutput:       userOutPath,
			PrecedingVerdict: v,
		})
		if err != nil {
			return TaskResult{}, fmt.Errorf("pipeline: check task %q: %w", task.Label, err)
		}
		v = out.Verdict
	}

	timeUsed, _ := report.TimeUsedMs()
	memUsed, _ := report.MemUsedBytes()

	p.logger.Info("task graded",
		zap.String("task", task.Label),
		zap.String("verdict", string(v)),
		zap.Int64("time_ms", timeUsed),
		zap.Int64("mem_bytes", memUsed))

	return TaskResult{
		GroupIndex:   groupIndex,
		SubtaskIndex: subtaskIndex,
		TimeUsedMs:   timeUsed,
		MemUsedBytes: memUsed,
		Verdict:      v,
	}, nil
}

// GroupScore tracks one group's running score across its tasks. A non-AC
// verdict on a non-fallthrough task zeroes the group's score, but grading
// continues for the remaining tasks in the group so they still get
// reported.
type GroupScore struct {
	Max    int64
	score  int64
	zeroed bool
}

// NewGroupScore starts a group's score at scoreMax; failures subtract
// everything, never a fraction.
func NewGroupScore(scoreMax int64) *GroupScore {
	return &GroupScore{Max: scoreMax, score: scoreMax}
}

// Observe folds one task's verdict/fallthrough into the running score.
func (g *GroupScore) Observe(v verdict.Verdict, fallthroughTask bool) {
	if v != verdict.AC && !fallthroughTask {
		g.zeroed = true
	}
}

// Total returns the group's final score contribution.
func (g *GroupScore) Total() int64 {
	if g.zeroed {
		return 0
	}
	return g.score
}
