// Package submission translates one inbound SubmissionRequest into the
// ordered sequence of outbound events the dispatcher expects: one
// acknowledgement, then exactly one partial-stat bundle once every task has
// run, then one terminal result or exception event. A rejected submission
// gets only the acknowledgement; a compile failure or an error before the
// tasks finish gets no partial-stat bundle.
package submission

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neohoj/iruka-worker/internal/config"
	"github.com/neohoj/iruka-worker/internal/dispatch"
	"github.com/neohoj/iruka-worker/internal/pipeline"
	"github.com/neohoj/iruka-worker/internal/tasktree"
	"github.com/neohoj/iruka-worker/internal/verdict"
)

// Emit is called once per outbound event, in strict temporal order.
// Implementations may push straight to a dispatch.Stream or buffer into a
// slice for testing.
type Emit func(dispatch.SubmissionEvent) error

// Handler builds and drives a Pipeline for each accepted submission.
type Handler struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewHandler builds a Handler over cfg, logging through logger.
func NewHandler(cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{Config: cfg, Logger: logger}
}

// Handle runs the full submission lifecycle, calling emit for every
// outbound event, and never returning an error for a recoverable failure
// -- those surface as an Exception event instead. A non-nil return
// indicates emit itself failed (the caller's stream broke), which the
// worker loop treats as fatal to the connection, not the submission.
func (h *Handler) Handle(ctx context.Context, req dispatch.SubmissionRequest, emit Emit) (err error) {
	correlationID := uuid.NewString()
	logger := h.Logger.With(zap.String("submission_id", req.ID), zap.String("correlation_id", correlationID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("uncaught panic while judging", zap.Any("panic", r))
			emitErr := emit(dispatch.ExceptionEvent(dispatch.Exception{
				Message: fmt.Sprintf("uncaught exception occurred in client!\n%v\n%s", r, debug.Stack()),
			}))
			if emitErr != nil {
				err = emitErr
			}
		}
	}()

	if req.ProblemType != dispatch.ProblemRegular {
		logger.Warn("unsupported problem type, rejecting")
		return emit(dispatch.AckEvent(dispatch.Ack{ID: req.ID, RejectReason: dispatch.RejectUnsupportedProblem}))
	}

	if err := emit(dispatch.AckEvent(dispatch.Ack{ID: req.ID})); err != nil {
		return err
	}

	spec, err := tasktree.Build(req.TaskRecords)
	if err != nil {
		return emit(dispatch.ExceptionEvent(dispatch.Exception{
			Message: fmt.Sprintf("malformed task specification: %v", err),
		}))
	}

	bindings, missing, err := pipeline.BindTestdata(h.Config.TestdataPath, req.ProblemID, spec)
	if err != nil {
		logger.Error("testdata missing", zap.Strings("missing", missing))
		return emit(dispatch.ExceptionEvent(dispatch.Exception{
			Message: fmt.Sprintf("testdata for problem %q is not ready, missing: %v", req.ProblemID, missing),
		}))
	}

	buildDir := h.Config.Pipeline.BuildDir
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return emit(dispatch.ExceptionEvent(dispatch.Exception{Message: fmt.Sprintf("cannot prepare build directory: %v", err)}))
	}

	stdoutJournal, err := os.CreateTemp("", "iruka-judge-stdout-*")
	if err != nil {
		return emit(dispatch.ExceptionEvent(dispatch.Exception{Message: fmt.Sprintf("cannot open stdout journal: %v", err)}))
	}
	defer os.Remove(stdoutJournal.Name())
	defer stdoutJournal.Close()

	stderrJournal, err := os.CreateTemp("", "iruka-judge-stderr-*")
	if err != nil {
		return emit(dispatch.ExceptionEvent(dispatch.Exception{Message: fmt.Sprintf("cannot open stderr journal: %v", err)}))
	}
	defer os.Remove(stderrJournal.Name())
	defer stderrJournal.Close()

	pcfg := pipeline.Config{
		NsjailPath:             h.Config.NsjailPath,
		NsjailConfigPath:       h.Config.NsjailConfig,
		CompileCommandTemplate: h.Config.Pipeline.CompileCommandTemplate,
		BuildDir:               buildDir,
		RunOutputPath:          h.Config.Pipeline.RunOutputPath,
		BuildOutputCapBytes:    h.Config.Pipeline.BuildOutputCapBytes,
		BuildMemCapBytes:       h.Config.Pipeline.BuildMemCapBytes,
		RunOutputCapBytes:      h.Config.Pipeline.RunOutputCapBytes,
	}
	pl, err := pipeline.New(pcfg, stdoutJournal, stderrJournal, logger)
	if err != nil {
		return emit(dispatch.ExceptionEvent(dispatch.Exception{Message: fmt.Sprintf("cannot build pipeline: %v", err)}))
	}

	codeLength := len(req.Code)
	sourceFilename := "program.cpp"
	outputBinary := "program"

	buildSuccess, err := pl.Compile(ctx, sourceFilename, req.Code, outputBinary, map[string]string{"CFLAGS": "-DONLINE_JUDGE"})
	if err != nil {
		return emit(dispatch.ExceptionEvent(dispatch.Exception{Message: fmt.Sprintf("compile phase failed: %v", err)}))
	}

	if !buildSuccess {
		stdout, stderr, err := pl.CompileLogs()
		if err != nil {
			return emit(dispatch.ExceptionEvent(dispatch.Exception{Message: fmt.Sprintf("cannot read compile logs: %v", err)}))
		}
		return emit(dispatch.ResultEvent(dispatch.Result{
			PipelineSuccess: true,
			FinalVerdict:    verdict.CE,
			CodeLength:      codeLength,
			Logs: map[string]dispatch.Log{
				"COMPILE_STDOUT": {Content: stdout.Content, Truncated: stdout.Truncated},
				"COMPILE_STDERR": {Content: stderr.Content, Truncated: stderr.Truncated},
			},
		}))
	}

	var results []dispatch.TaskResult
	finalVerdict := verdict.AC
	var scoreTotal int64

	for _, g := range spec.Groups {
		var groupScore *pipeline.GroupScore
		if g.Index != 0 {
			groupScore = pipeline.NewGroupScore(g.ScoreMax)
		}

		for subtaskIndex, task := range g.Tasks {
			binding, ok := bindings[task.Label]
			if !ok {
				return emit(dispatch.ExceptionEvent(dispatch.Exception{
					Message: fmt.Sprintf("internal error: no testdata binding for task %q", task.Label),
				}))
			}

			result, err := pl.RunTask(ctx, g.Index, subtaskIndex, task, binding, buildDir, []string{"./" + outputBinary})
			if err != nil {
				return emit(dispatch.ExceptionEvent(dispatch.Exception{
					Message: fmt.Sprintf("internal error while judging task %q: %v", task.Label, err),
				}))
			}

			if verdict.MoreSevere(result.Verdict, finalVerdict) {
				finalVerdict = result.Verdict
			}
			if groupScore != nil {
				groupScore.Observe(result.Verdict, task.Fallthrough)
			}

			results = append(results, dispatch.TaskResult{
				GroupIndex:   result.GroupIndex,
				SubtaskIndex: result.SubtaskIndex,
				TimeUsedMs:   result.TimeUsedMs,
				MemUsedBytes: result.MemUsedBytes,
				Verdict:      result.Verdict,
			})
		}

		if groupScore != nil {
			scoreTotal += groupScore.Total()
		}
	}

	if err := emit(dispatch.PartialStatEvent(dispatch.PartialStat{Results: results})); err != nil {
		return err
	}

	stdout, stderr, err := pl.CompileLogs()
	if err != nil {
		return emit(dispatch.ExceptionEvent(dispatch.Exception{Message: fmt.Sprintf("cannot read compile logs: %v", err)}))
	}

	return emit(dispatch.ResultEvent(dispatch.Result{
		PipelineSuccess: true,
		ScoreTotal:      scoreTotal,
		FinalVerdict:    finalVerdict,
		CodeLength:      codeLength,
		Logs: map[string]dispatch.Log{
			"COMPILE_STDOUT": {Content: stdout.Content, Truncated: stdout.Truncated},
			"COMPILE_STDERR": {Content: stderr.Content, Truncated: stderr.Truncated},
		},
	}))
}
