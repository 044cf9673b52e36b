// Command iruka-worker is the judge worker's entry point. It loads the
// YAML configuration, builds the structured logger, and drives the
// submission handler's Serve loop over a dispatch.Stream.
//
// The dispatcher RPC transport is a collaborator satisfied by a generated
// gRPC stub at deployment time; this binary ships with a local one-shot
// stream instead, so a submission can be judged end to end from the
// command line (-submit) without a dispatcher: the same Serve loop, fed
// by files instead of a subscription.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/neohoj/iruka-worker/internal/config"
	"github.com/neohoj/iruka-worker/internal/dispatch"
	"github.com/neohoj/iruka-worker/internal/logging"
	"github.com/neohoj/iruka-worker/internal/submission"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the worker's YAML configuration file")
		submitPath = flag.String("submit", "", "judge a single local source file and exit")
		problemID  = flag.String("problem", "", "problem id for -submit (testdata is looked up under testdata_path/<problem>)")
		taskSpec   = flag.String("task-spec", "", "YAML file holding the flat task-description records for -submit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iruka-worker: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iruka-worker: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("iruka-worker starting",
		zap.String("server", cfg.Server),
		zap.String("testdata_path", cfg.TestdataPath))

	if *submitPath == "" {
		fmt.Fprintln(os.Stderr, "iruka-worker: no submission given; use -submit <src> -problem <id> -task-spec <yaml>")
		flag.Usage()
		os.Exit(2)
	}

	req, err := requestFromFiles(*submitPath, *problemID, *taskSpec)
	if err != nil {
		logger.Fatal("cannot build submission request", zap.Error(err))
	}

	stream := &localStream{req: req, logger: logging.Component(logger, "events")}
	handler := submission.NewHandler(cfg, logging.Component(logger, "submission"))

	if err := submission.Serve(context.Background(), stream, handler); err != nil {
		logger.Fatal("worker loop failed", zap.Error(err))
	}
	if stream.failed {
		os.Exit(1)
	}
}

// taskSpecFile is the on-disk YAML shape of -task-spec: the same flat rows
// the dispatcher would carry in a SubmissionRequest.
type taskSpecFile struct {
	Records [][]int64 `yaml:"records"`
}

func requestFromFiles(srcPath, problemID, taskSpecPath string) (*dispatch.SubmissionRequest, error) {
	if problemID == "" {
		return nil, fmt.Errorf("-problem is required with -submit")
	}
	if taskSpecPath == "" {
		return nil, fmt.Errorf("-task-spec is required with -submit")
	}

	code, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	specData, err := os.ReadFile(taskSpecPath)
	if err != nil {
		return nil, fmt.Errorf("read task spec: %w", err)
	}
	var spec taskSpecFile
	if err := yaml.Unmarshal(specData, &spec); err != nil {
		return nil, fmt.Errorf("parse task spec: %w", err)
	}
	if len(spec.Records) == 0 {
		return nil, fmt.Errorf("task spec %q holds no records", taskSpecPath)
	}

	return &dispatch.SubmissionRequest{
		ID:          uuid.NewString(),
		ProblemID:   problemID,
		Code:        string(code),
		ProblemType: dispatch.ProblemRegular,
		TaskRecords: spec.Records,
	}, nil
}

// localStream satisfies dispatch.Stream for single-shot local judging: it
// hands Serve exactly one REQUEST_JUDGE event, then EOF, and logs every
// outbound event instead of sending it to a dispatcher.
type localStream struct {
	req    *dispatch.SubmissionRequest
	logger *zap.Logger
	served bool
	failed bool
}

func (s *localStream) Recv(ctx context.Context) (*dispatch.ServerEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.served {
		return nil, io.EOF
	}
	s.served = true
	return &dispatch.ServerEvent{Type: dispatch.ServerEventRequestJudge, Submission: s.req}, nil
}

func (s *localStream) Send(ctx context.Context, evt dispatch.SubmissionEvent) error {
	switch evt.Type {
	case dispatch.SubmissionEventAck:
		if evt.Ack.RejectReason != dispatch.RejectNone {
			s.failed = true
			s.logger.Warn("submission rejected", zap.String("id", evt.Ack.ID))
			return nil
		}
		s.logger.Info("submission acknowledged", zap.String("id", evt.Ack.ID))
	case dispatch.SubmissionEventPartialStat:
		for _, r := range evt.PartialStat.Results {
			s.logger.Info("task result",
				zap.Int("group", r.GroupIndex),
				zap.Int("subtask", r.SubtaskIndex),
				zap.String("verdict", string(r.Verdict)),
				zap.Int64("time_ms", r.TimeUsedMs),
				zap.Int64("mem_bytes", r.MemUsedBytes))
		}
	case dispatch.SubmissionEventResult:
		r := evt.Result
		s.logger.Info("final result",
			zap.String("verdict", string(r.FinalVerdict)),
			zap.Int64("score", r.ScoreTotal),
			zap.Int("code_length", r.CodeLength))
		if stderr, ok := r.Logs["COMPILE_STDERR"]; ok && len(stderr.Content) > 0 {
			fmt.Fprintf(os.Stderr, "%s", stderr.Content)
		}
	case dispatch.SubmissionEventException:
		s.failed = true
		s.logger.Error("submission failed", zap.String("message", evt.Exception.Message))
	}
	return nil
}
