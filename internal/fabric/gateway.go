// Package fabric is the ledger-invocation gateway: it turns named chaincode
// operations into endorsed, commit-confirmed transactions over an opaque
// transport, and recovers structured payloads out of the transport's
// human-oriented output.
package fabric

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Chaincode function vocabulary exposed by the VPSA contract.
const (
	FnRegisterClient          = "RegisterClient"
	FnGetClient               = "GetClient"
	FnGetAllClients           = "GetAllClients"
	FnSubmitLocalModel        = "SubmitLocalModel"
	FnGetLocalModel           = "GetLocalModel"
	FnGetLocalModelsByRound   = "GetLocalModelsByRound"
	FnAggregateModels         = "AggregateModels"
	FnGetGlobalModel          = "GetGlobalModel"
	FnGetAggregationConfig    = "GetAggregationConfig"
	FnUpdateAggregationConfig = "UpdateAggregationConfig"
	FnGetTrainingMetrics      = "GetTrainingMetrics"
	FnGetAllTrainingMetrics   = "GetAllTrainingMetrics"
	FnGetModelHistory         = "GetModelHistory"
)

// Default operation deadlines. Invokes wait for ordering and commit
// confirmation; queries hit a single peer.
const (
	DefaultInvokeTimeout = 30 * time.Second
	DefaultQueryTimeout  = 15 * time.Second
)

// CallRecorder observes completed ledger calls. Implementations must be safe
// for concurrent use.
type CallRecorder interface {
	RecordLedgerCall(op, fn, outcome string, seconds float64)
}

// Options tune a Gateway. Zero values pick the defaults above.
type Options struct {
	InvokeTimeout time.Duration
	QueryTimeout  time.Duration
	Recorder      CallRecorder
}

// Gateway presents the two ledger operations over a Transport. It never
// retries internally; callers own retry policy.
type Gateway struct {
	transport     Transport
	invokeTimeout time.Duration
	queryTimeout  time.Duration
	recorder      CallRecorder
	log           zerolog.Logger
}

// NewGateway wraps the given transport.
func NewGateway(t Transport, opts Options, log zerolog.Logger) *Gateway {
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = DefaultInvokeTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	return &Gateway{
		transport:     t,
		invokeTimeout: opts.InvokeTimeout,
		queryTimeout:  opts.QueryTimeout,
		recorder:      opts.Recorder,
		log:           log.With().Str("component", "gateway").Logger(),
	}
}

// Invoke submits a write requiring multi-organization endorsement and blocks
// until commit confirmation or the invoke deadline elapses. On success the
// raw transport output is returned; on failure nothing was committed.
func (g *Gateway) Invoke(ctx context.Context, fn string, args []string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, g.invokeTimeout)
	defer cancel()

	start := time.Now()
	out, err := g.transport.Invoke(cctx, fn, args)
	if err != nil {
		gerr := g.classify("invoke", fn, err)
		g.record("invoke", fn, string(gerr.Kind), start)
		g.log.Error().Str("fn", fn).Str("kind", string(gerr.Kind)).Err(err).Msg("invoke failed")
		return "", gerr
	}
	g.record("invoke", fn, "ok", start)
	return out, nil
}

// Query submits a read-only evaluation to a single peer, bounded by the
// query deadline, and feeds the raw text through the output parser.
func (g *Gateway) Query(ctx context.Context, fn string, args []string) (Payload, error) {
	cctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	start := time.Now()
	out, err := g.transport.Query(cctx, fn, args)
	if err != nil {
		gerr := g.classify("query", fn, err)
		g.record("query", fn, string(gerr.Kind), start)
		g.log.Error().Str("fn", fn).Str("kind", string(gerr.Kind)).Err(err).Msg("query failed")
		return Payload{}, gerr
	}

	payload, ok := Parse(out)
	if !ok {
		g.record("query", fn, string(ParseFailure), start)
		return Payload{}, &Error{Kind: ParseFailure, Op: "query", Fn: fn, Output: out}
	}
	g.record("query", fn, "ok", start)
	return payload, nil
}

// classify maps transport faults onto the gateway error taxonomy.
func (g *Gateway) classify(op, fn string, err error) *Error {
	kind := TransportFailure
	output := ""

	var exit *ExitError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = TransportTimeout
	case errors.As(err, &exit):
		output = exit.Stderr
	}
	return &Error{Kind: kind, Op: op, Fn: fn, Output: output, Err: err}
}

func (g *Gateway) record(op, fn, outcome string, start time.Time) {
	if g.recorder != nil {
		g.recorder.RecordLedgerCall(op, fn, outcome, time.Since(start).Seconds())
	}
}
