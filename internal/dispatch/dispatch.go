// Package dispatch defines the Go shapes of the inbound/outbound RPC
// messages exchanged with the dispatcher, and the minimal streaming
// interface a real gRPC-generated stub would satisfy. No .proto files or
// gRPC service code are generated here; this package is the full extent
// of the contract.
package dispatch

import (
	"context"

	"github.com/neohoj/iruka-worker/internal/verdict"
)

// ProblemType enumerates the problem kinds a SubmissionRequest can carry.
// Only REGULAR is supported.
type ProblemType int

const (
	ProblemRegular ProblemType = iota
	ProblemOther
)

// RejectReason enumerates why an ack may decline a submission.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectUnsupportedProblem
)

// SubmissionRequest is the inbound judging request.
type SubmissionRequest struct {
	ID          string
	ProblemID   string
	Code        string
	ProblemType ProblemType
	// TaskRecords is the flat tabular task description consumed by
	// internal/tasktree.Build: one row per record, []int64 per row
	// matching the dispatcher's repeated-int64 wire shape.
	TaskRecords [][]int64
}

// ServerEventType tags the inbound ServerEvent union.
type ServerEventType int

const (
	ServerEventRequestJudge ServerEventType = iota
	ServerEventAbortTask
	ServerEventQueryStatus
)

// ServerEvent is a tagged message from the dispatcher. Exactly one of the
// type-specific fields is populated, selected by Type.
type ServerEvent struct {
	Type       ServerEventType
	Submission *SubmissionRequest // set iff Type == ServerEventRequestJudge
	TaskID     string             // set iff Type == ServerEventAbortTask
}

// SubmissionEventType tags the outbound SubmissionEvent union.
type SubmissionEventType int

const (
	SubmissionEventAck SubmissionEventType = iota
	SubmissionEventPartialStat
	SubmissionEventResult
	SubmissionEventException
)

// Ack acknowledges receipt of a submission, optionally declining it.
type Ack struct {
	ID           string
	RejectReason RejectReason
}

// TaskResult is one task's graded outcome.
type TaskResult struct {
	GroupIndex   int
	SubtaskIndex int
	TimeUsedMs   int64
	MemUsedBytes int64
	Verdict      verdict.Verdict
}

// PartialStat carries every TaskResult produced so far, in tree order.
type PartialStat struct {
	Results []TaskResult
}

// Log is one captured stream's content plus its truncation flag.
type Log struct {
	Content   []byte
	Truncated bool
}

// Result is the terminal, successful-pipeline outcome.
type Result struct {
	PipelineSuccess bool
	ScoreTotal      int64
	FinalVerdict    verdict.Verdict
	CodeLength      int
	Logs            map[string]Log
}

// Exception is the terminal, unsuccessful-pipeline outcome: the submission
// could not produce a meaningful verdict at all.
type Exception struct {
	Message string
}

// SubmissionEvent is a tagged outbound message. Exactly one of the
// type-specific fields is populated, selected by Type.
type SubmissionEvent struct {
	Type        SubmissionEventType
	Ack         *Ack
	PartialStat *PartialStat
	Result      *Result
	Exception   *Exception
}

// AckEvent, PartialStatEvent, ResultEvent and ExceptionEvent are small
// constructors so callers never have to hand-set Type alongside the
// payload field and risk the two disagreeing.
func AckEvent(a Ack) SubmissionEvent {
	return SubmissionEvent{Type: SubmissionEventAck, Ack: &a}
}

func PartialStatEvent(p PartialStat) SubmissionEvent {
	return SubmissionEvent{Type: SubmissionEventPartialStat, PartialStat: &p}
}

func ResultEvent(r Result) SubmissionEvent {
	return SubmissionEvent{Type: SubmissionEventResult, Result: &r}
}

func ExceptionEvent(e Exception) SubmissionEvent {
	return SubmissionEvent{Type: SubmissionEventException, Exception: &e}
}

// Stream is the collaborator boundary a real gRPC-generated client stub
// satisfies: receive ServerEvents from the dispatcher, send
// SubmissionEvents back. A worker loop (cmd/iruka-worker) drives this;
// tests can substitute an in-memory fake.
type Stream interface {
	Recv(ctx context.Context) (*ServerEvent, error)
	Send(ctx context.Context, evt SubmissionEvent) error
}
