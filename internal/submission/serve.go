package submission

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/neohoj/iruka-worker/internal/dispatch"
)

// Serve drives one dispatcher subscription to completion: it receives
// ServerEvents from stream until the stream ends, judging each REQUEST_JUDGE
// through h and sending the resulting events back over the same stream.
// ABORT_TASK and QUERY_STATUS are acknowledged in the log only; neither is
// implemented yet.
//
// A nil return means the server closed the subscription cleanly. A non-nil
// return means the stream itself broke, which the caller should treat as
// fatal to the connection.
func Serve(ctx context.Context, stream dispatch.Stream, h *Handler) error {
	logger := h.Logger.Named("serve")
	for {
		evt, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("subscription channel closed by the server")
				return nil
			}
			return fmt.Errorf("submission: recv: %w", err)
		}

		switch evt.Type {
		case dispatch.ServerEventRequestJudge:
			if evt.Submission == nil {
				logger.Error("REQUEST_JUDGE event carries no submission")
				continue
			}
			logger.Info("request judge", zap.String("submission_id", evt.Submission.ID))
			err := h.Handle(ctx, *evt.Submission, func(e dispatch.SubmissionEvent) error {
				return stream.Send(ctx, e)
			})
			if err != nil {
				return fmt.Errorf("submission: report: %w", err)
			}
		case dispatch.ServerEventAbortTask:
			logger.Warn("abort task requested but not implemented", zap.String("task_id", evt.TaskID))
		case dispatch.ServerEventQueryStatus:
			logger.Warn("query status requested but not implemented")
		default:
			logger.Error("unknown server event", zap.Int("type", int(evt.Type)))
		}
	}
}
