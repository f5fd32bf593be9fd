// websock serializes reads and writes on a gorilla websocket, whose requirements are that
// there may be only one concurrent reader and one concurrent writer at a time.
package websock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const (
	// Time allowed to write a control message to the peer.
	writeWait = 1 * time.Second
	// How long a caller may wait for its turn at the socket.
	defaultAcquireTimeout = time.Second
)

// Sock wraps a websocket connection, serializing read and write operations.
type Sock struct {
	// These are merely mutexes, but channel semantics are cleaner.
	readSem  chan struct{}
	writeSem chan struct{}
	ws       *websocket.Conn

	acquireTimeout time.Duration
	closeOnce      sync.Once
}

// New wraps ws.
func New(ws *websocket.Conn) *Sock {
	return &Sock{
		readSem:        make(chan struct{}, 1),
		writeSem:       make(chan struct{}, 1),
		ws:             ws,
		acquireTimeout: defaultAcquireTimeout,
	}
}

// Conn returns the underlying websocket.
// This should only be used non-concurrently for setup, e.g. adding handlers.
func (sock *Sock) Conn() *websocket.Conn {
	return sock.ws
}

// Close sends a normal-closure message if the write side is free, then closes the
// connection, which unblocks any pending reader. Close is idempotent.
func (sock *Sock) Close() {
	sock.closeOnce.Do(func() {
		select {
		case sock.writeSem <- struct{}{}:
			_ = sock.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			<-sock.writeSem
		case <-time.After(sock.acquireTimeout):
		}
		sock.ws.Close()
	})
}

// Read serializes read operations on the internal web socket.
// A cancelled context yields nil, as does the socket for an orderly teardown.
func (sock *Sock) Read(
	ctx context.Context,
	readFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.readSem <- struct{}{}:
		defer func() { <-sock.readSem }()
		return readFn(sock.ws)
	case <-time.After(sock.acquireTimeout):
		return ErrSockCongestion
	}
}

// Write serializes write operations to the websocket.
func (sock *Sock) Write(
	ctx context.Context,
	writeFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.writeSem <- struct{}{}:
		defer func() { <-sock.writeSem }()
		return writeFn(sock.ws)
	case <-time.After(sock.acquireTimeout):
		return ErrSockCongestion
	}
}

// Ping writes a ping control message.
func (sock *Sock) Ping(ctx context.Context) error {
	return sock.Write(
		ctx,
		func(ws *websocket.Conn) error {
			return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		})
}

// IsError reports whether err is an unexpected close, as opposed to an orderly one.
func IsError(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

// IsClosure reports whether err is an orderly close by the peer.
func IsClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}
