package ingest

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/souuzaa/performance-api/errs"
	"github.com/souuzaa/performance-api/internal/domain/eventstore"
)

const (
	// ReasonQueueOverflow marks records rejected because the record queue was full.
	ReasonQueueOverflow = "queue_overflow"
	// ReasonBodyReadFailed prefixes records rejected because the body could not be read.
	ReasonBodyReadFailed = "body_read_failed"
)

// Outcome classifies an admission attempt.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeQueueOverflow Outcome = ReasonQueueOverflow
	OutcomeBadBody       Outcome = ReasonBodyReadFailed
)

// Request is a single inbound event submission.
type Request struct {
	TraceID string
	Method  string
	Path    string
	Body    io.Reader
}

// Result reports the admission decision. Err is nil only for accepted requests
// and otherwise carries an *errs.E with the HTTP status to answer with.
type Result struct {
	TraceID string
	Outcome Outcome
	Err     error
}

// StatusCode maps the outcome onto the HTTP status returned to the caller.
func (r Result) StatusCode() int {
	if r.Err == nil {
		return http.StatusAccepted
	}
	return errs.HTTPStatus(r.Err)
}

// Admit reads the request body and places the resulting record in exactly one
// place: the record queue when it has room, the dead-letter queue otherwise.
// The admission latency is recorded for every attempt.
func (c *Core) Admit(ctx context.Context, req Request) Result {
	started := c.now()
	defer func() {
		c.latency.RecordDuration(c.now().Sub(started))
	}()

	c.stats.received.Add(1)

	traceID := eventstore.Text(strings.TrimSpace(req.TraceID))
	if traceID == "" {
		traceID = c.newTraceID()
	}
	record := eventstore.Record{
		TraceID:    traceID,
		ReceivedAt: started,
		Method:     eventstore.Text(req.Method),
		Path:       eventstore.Text(req.Path),
		Payload:    nil,
	}

	payload, err := readBody(ctx, req.Body)
	if err != nil {
		c.stats.rejected.Add(1)
		reason := ReasonBodyReadFailed + ": " + err.Error()
		c.routeDeadLetter(eventstore.NewDeadLetter(record, reason))
		return Result{
			TraceID: traceID,
			Outcome: OutcomeBadBody,
			Err: errs.New("ingest", errs.CodeInvalid,
				errs.WithHTTP(http.StatusBadRequest),
				errs.WithReason(ReasonBodyReadFailed),
				errs.WithMessage("request body could not be read"),
				errs.WithCause(err),
			),
		}
	}
	record.Payload = payload

	if !c.records.Push(record) {
		c.stats.rejected.Add(1)
		c.routeDeadLetter(eventstore.NewDeadLetter(record, ReasonQueueOverflow))
		return Result{
			TraceID: traceID,
			Outcome: OutcomeQueueOverflow,
			Err: errs.New("ingest", errs.CodeUnavailable,
				errs.WithHTTP(http.StatusServiceUnavailable),
				errs.WithReason(ReasonQueueOverflow),
				errs.WithMessage("ingest queue is full"),
			),
		}
	}
	c.stats.accepted.Add(1)
	return Result{TraceID: traceID, Outcome: OutcomeAccepted, Err: nil}
}

// readBody returns the body as storable text; an absent or empty body yields a
// nil payload.
func readBody(ctx context.Context, body io.Reader) (*string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	text := eventstore.Text(string(raw))
	return &text, nil
}
