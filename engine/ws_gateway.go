package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"gridsim/logging"
	"gridsim/models"
	"gridsim/websock"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
	defaultDialTimeout = 5 * time.Second
	pingResolution     = 5 * time.Second
	// Number of pings to tolerate losing before concluding the engine is gone.
	pongWait = pingResolution * 4
)

// errConnClosed fails calls pending on a connection that went away.
var errConnClosed = errors.New("engine connection closed")

// WSOptions configures a WSGateway. Zero values select defaults.
type WSOptions struct {
	// CallTimeout bounds every call but run_full_experiment, unless ctx has an earlier deadline.
	CallTimeout time.Duration
	// RunTimeout bounds run_full_experiment.
	RunTimeout  time.Duration
	DialTimeout time.Duration
	Header      http.Header
}

// WSGateway implements Gateway over a single websocket connection to the engine, multiplexing
// concurrent calls from any number of sessions by request id. The connection is dialed lazily
// and re-dialed on the call following a disconnect; failed calls are never retried.
// A call that times out or is cancelled after its request was written closes the connection,
// failing the other calls pending on it, so that no request outlives its caller.
type WSGateway struct {
	url    string
	opts   WSOptions
	dialer *websocket.Dialer
	nextID atomic.Uint64

	mu     sync.Mutex
	conn   *engineConn
	closed bool
}

// NewWSGateway returns a gateway for the engine at url (ws:// or wss://).
func NewWSGateway(url string, opts WSOptions) *WSGateway {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &WSGateway{
		url:  url,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		},
	}
}

func (gw *WSGateway) CreateSimulation(
	ctx context.Context,
	id string,
	grid models.GridConfig,
	agent models.AgentConfig,
	experiment models.ExperimentConfig,
) error {
	params := CreateParams{
		Grid:       grid,
		Agent:      agent,
		Experiment: experiment,
	}
	return gw.call(ctx, OpCreateSimulation, id, params, nil)
}

func (gw *WSGateway) GetCurrentPosition(ctx context.Context, id string) (pos models.Position, err error) {
	err = gw.call(ctx, OpGetCurrentPosition, id, nil, &pos)
	return
}

func (gw *WSGateway) StepExperiment(ctx context.Context, id string) (res models.StepResult, err error) {
	err = gw.call(ctx, OpStepExperiment, id, nil, &res)
	return
}

func (gw *WSGateway) RunFullExperiment(ctx context.Context, id string) error {
	return gw.call(ctx, OpRunFullExperiment, id, nil, nil)
}

func (gw *WSGateway) AnalyzeExperimentLogs(ctx context.Context, id string) (res models.AnalysisResult, err error) {
	err = gw.call(ctx, OpAnalyzeExperimentLogs, id, nil, &res)
	return
}

func (gw *WSGateway) ResetSimulation(ctx context.Context, id string) error {
	return gw.call(ctx, OpResetSimulation, id, nil, nil)
}

// Close tears down the connection. Pending calls fail with ErrEngineUnavailable, as do
// subsequent calls.
func (gw *WSGateway) Close() {
	gw.mu.Lock()
	conn := gw.conn
	gw.conn = nil
	gw.closed = true
	gw.mu.Unlock()

	if conn != nil {
		conn.close(errConnClosed)
	}
}

// call performs a single request/response exchange. Any failure is returned as an *Error.
func (gw *WSGateway) call(
	ctx context.Context,
	op string,
	id string,
	params interface{},
	out interface{},
) (err error) {
	timeout := gw.opts.CallTimeout
	if op == OpRunFullExperiment {
		timeout = gw.opts.RunTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := Request{
		ID:      gw.nextID.Add(1),
		Op:      op,
		Session: id,
	}
	if params != nil {
		if req.Params, err = json.Marshal(params); err != nil {
			return NewError(KindConfigInvalid, op, id, err.Error())
		}
	}

	conn, err := gw.connect(callCtx)
	if err != nil {
		return &Error{Kind: KindEngineUnavailable, Op: op, SessionID: id, Err: err}
	}

	logging.FromContext(ctx).Log(ctx, logging.LevelTrace, "engine call", "op", op, "session", id, "request", req.ID)
	var resp Response
	if resp, err = conn.roundTrip(callCtx, req); err != nil {
		return &Error{Kind: KindEngineUnavailable, Op: op, SessionID: id, Err: err}
	}

	if resp.Error != nil {
		kind := ParseKind(resp.Error.Kind)
		if kind == KindNone {
			kind = KindEngineRuntime
		}
		return NewError(kind, op, id, resp.Error.Message)
	}
	if out != nil && len(resp.Result) > 0 {
		if err = json.Unmarshal(resp.Result, out); err != nil {
			return &Error{
				Kind:      KindEngineRuntime,
				Op:        op,
				SessionID: id,
				Err:       fmt.Errorf("malformed result: %w", err),
			}
		}
	}
	return nil
}

// connect returns the live connection, dialing if there is none.
func (gw *WSGateway) connect(ctx context.Context) (*engineConn, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.closed {
		return nil, errConnClosed
	}
	if gw.conn != nil && !gw.conn.isClosed() {
		return gw.conn, nil
	}

	ws, _, err := gw.dialer.DialContext(ctx, gw.url, gw.opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", gw.url, err)
	}
	gw.conn = newEngineConn(logging.FromContext(ctx), websock.New(ws))
	return gw.conn, nil
}

// engineConn is a single websocket to the engine plus its table of pending calls.
type engineConn struct {
	sock *websock.Sock

	mu      sync.Mutex
	pending map[uint64]chan Response
	done    chan struct{}
	err     error
}

func newEngineConn(logger *slog.Logger, sock *websock.Sock) *engineConn {
	conn := &engineConn{
		sock:    sock,
		pending: make(map[uint64]chan Response),
		done:    make(chan struct{}),
	}

	// Supervise the read pump and liveness checks; whichever fails first tears down the conn.
	group, groupCtx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		return conn.readResponses(groupCtx)
	})
	group.Go(func() error {
		return conn.pingPong(groupCtx)
	})
	go func() {
		err := group.Wait()
		if err == nil {
			err = errConnClosed
		}
		if websock.IsError(err) {
			logger.Warn("engine connection lost", "error", err)
		}
		conn.close(err)
	}()

	return conn
}

// roundTrip sends req and waits for its response. A request abandoned after it may have
// reached the engine tears down the connection, since the engine drops the requests of a
// closed connection; otherwise it could still be running when the caller's next call arrives.
func (conn *engineConn) roundTrip(ctx context.Context, req Request) (resp Response, err error) {
	replies := make(chan Response, 1)
	if err = conn.register(req.ID, replies); err != nil {
		return
	}
	defer conn.unregister(req.ID)

	var sent bool
	err = conn.sock.Write(
		ctx,
		func(ws *websocket.Conn) (writeErr error) {
			sent = true
			deadline, _ := ctx.Deadline()
			if writeErr = ws.SetWriteDeadline(deadline); writeErr != nil {
				return
			}
			return ws.WriteJSON(req)
		})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if sent {
			conn.abandon(req, err)
		}
		return
	}

	select {
	case resp = <-replies:
	case <-conn.done:
		err = conn.err
	case <-ctx.Done():
		err = ctx.Err()
		conn.abandon(req, err)
	}
	return
}

// abandon closes the connection on behalf of a request given up on, failing all other calls
// pending on it.
func (conn *engineConn) abandon(req Request, cause error) {
	conn.close(fmt.Errorf("%w: abandoned %s request %d for %s: %v", errConnClosed, req.Op, req.ID, req.Session, cause))
}

func (conn *engineConn) register(id uint64, replies chan Response) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.err != nil {
		return conn.err
	}
	conn.pending[id] = replies
	return nil
}

func (conn *engineConn) unregister(id uint64) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	delete(conn.pending, id)
}

// readResponses dispatches responses to their callers. Replies to abandoned calls are dropped.
// Errors returned by websocket Read methods are permanent, hence any error tears down the conn.
func (conn *engineConn) readResponses(ctx context.Context) error {
	for {
		var resp Response
		err := conn.sock.Read(
			ctx,
			func(ws *websocket.Conn) error {
				return ws.ReadJSON(&resp)
			})
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		conn.mu.Lock()
		replies, ok := conn.pending[resp.ID]
		conn.mu.Unlock()
		if ok {
			// A duplicate reply must not stall the pump.
			select {
			case replies <- resp:
			default:
			}
		}
	}
}

// pingPong checks engine liveness. It relies on readResponses running so the pong handler is called.
func (conn *engineConn) pingPong(ctx context.Context) error {
	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())
	conn.sock.Conn().SetPongHandler(func(_ string) error {
		lastPong.Store(time.Now().UnixNano())
		return nil
	})

	for range channerics.NewTicker(ctx.Done(), pingResolution) {
		if time.Since(time.Unix(0, lastPong.Load())) > pongWait {
			return fmt.Errorf("%w: pong deadline exceeded", errConnClosed)
		}
		if err := conn.sock.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (conn *engineConn) isClosed() bool {
	select {
	case <-conn.done:
		return true
	default:
		return false
	}
}

// close fails all pending calls with err and closes the socket. Idempotent.
func (conn *engineConn) close(err error) {
	conn.mu.Lock()
	if conn.err != nil {
		conn.mu.Unlock()
		return
	}
	conn.err = err
	close(conn.done)
	conn.mu.Unlock()

	conn.sock.Close()
}
