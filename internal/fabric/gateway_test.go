package fabric

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport scripts transport behavior per call.
type fakeTransport struct {
	invokeOut string
	invokeErr error
	queryOut  string
	queryErr  error

	lastOp   string
	lastFn   string
	lastArgs []string
	block    time.Duration
}

func (f *fakeTransport) Invoke(ctx context.Context, fn string, args []string) (string, error) {
	f.lastOp, f.lastFn, f.lastArgs = "invoke", fn, args
	if f.block > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.block):
		}
	}
	return f.invokeOut, f.invokeErr
}

func (f *fakeTransport) Query(ctx context.Context, fn string, args []string) (string, error) {
	f.lastOp, f.lastFn, f.lastArgs = "query", fn, args
	if f.block > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.block):
		}
	}
	return f.queryOut, f.queryErr
}

func newTestGateway(t *testing.T, tr Transport, opts Options) *Gateway {
	t.Helper()
	return NewGateway(tr, opts, zerolog.Nop())
}

func TestInvokeReturnsRawOutput(t *testing.T) {
	tr := &fakeTransport{invokeOut: "txid: abc status: VALID\n"}
	g := newTestGateway(t, tr, Options{})

	out, err := g.Invoke(context.Background(), FnRegisterClient, []string{"client1", "source", "100"})
	require.NoError(t, err)
	assert.Equal(t, "txid: abc status: VALID\n", out)
	assert.Equal(t, "invoke", tr.lastOp)
	assert.Equal(t, []string{"client1", "source", "100"}, tr.lastArgs)
}

func TestInvokeNonzeroExitIsTransportFailure(t *testing.T) {
	tr := &fakeTransport{invokeErr: &ExitError{Code: 1, Stderr: "endorsement failure"}}
	g := newTestGateway(t, tr, Options{})

	_, err := g.Invoke(context.Background(), FnRegisterClient, nil)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, TransportFailure, gerr.Kind)
	assert.Equal(t, "endorsement failure", gerr.Output)
	assert.Equal(t, FnRegisterClient, gerr.Fn)
}

func TestInvokeDeadlineIsTransportTimeout(t *testing.T) {
	tr := &fakeTransport{block: time.Second}
	g := newTestGateway(t, tr, Options{InvokeTimeout: 10 * time.Millisecond})

	_, err := g.Invoke(context.Background(), FnAggregateModels, nil)
	require.True(t, IsTimeout(err), "got %v", err)
}

func TestInvokeTransportExceptionIsTransportFailure(t *testing.T) {
	tr := &fakeTransport{invokeErr: errors.New("exec: \"peer\": executable file not found")}
	g := newTestGateway(t, tr, Options{})

	_, err := g.Invoke(context.Background(), FnSubmitLocalModel, nil)
	assert.Equal(t, TransportFailure, KindOf(err))
}

func TestQueryParsesPayload(t *testing.T) {
	tr := &fakeTransport{queryOut: "some peer log\n" + `{"clientID":"c1","domain":"source"}` + "\n"}
	g := newTestGateway(t, tr, Options{})

	p, err := g.Query(context.Background(), FnGetClient, []string{"c1"})
	require.NoError(t, err)
	require.True(t, p.IsJSON())

	var got struct {
		ClientID string `json:"clientID"`
		Domain   string `json:"domain"`
	}
	require.NoError(t, p.Decode(&got))
	assert.Equal(t, "c1", got.ClientID)
	assert.Equal(t, "source", got.Domain)
}

func TestQueryEmptyOutputIsParseFailure(t *testing.T) {
	tr := &fakeTransport{queryOut: ""}
	g := newTestGateway(t, tr, Options{})

	_, err := g.Query(context.Background(), FnGetAllClients, nil)
	assert.Equal(t, ParseFailure, KindOf(err))
}

func TestQueryDeadlineIsTransportTimeout(t *testing.T) {
	tr := &fakeTransport{block: time.Second}
	g := newTestGateway(t, tr, Options{QueryTimeout: 10 * time.Millisecond})

	_, err := g.Query(context.Background(), FnGetGlobalModel, nil)
	assert.Equal(t, TransportTimeout, KindOf(err))
}

func TestQueryRespectsCallerContext(t *testing.T) {
	tr := &fakeTransport{block: time.Second}
	g := newTestGateway(t, tr, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Query(ctx, FnGetGlobalModel, nil)
	assert.Equal(t, TransportTimeout, KindOf(err))
}

type countingRecorder struct {
	calls []string
}

func (c *countingRecorder) RecordLedgerCall(op, fn, outcome string, seconds float64) {
	c.calls = append(c.calls, op+"/"+fn+"/"+outcome)
}

func TestGatewayRecordsOutcomes(t *testing.T) {
	rec := &countingRecorder{}
	tr := &fakeTransport{queryOut: "{}", invokeErr: &ExitError{Code: 1, Stderr: "boom"}}
	g := newTestGateway(t, tr, Options{Recorder: rec})

	_, _ = g.Query(context.Background(), FnGetClient, nil)
	_, _ = g.Invoke(context.Background(), FnRegisterClient, nil)

	assert.Equal(t, []string{
		"query/" + FnGetClient + "/ok",
		"invoke/" + FnRegisterClient + "/transport_failure",
	}, rec.calls)
}
