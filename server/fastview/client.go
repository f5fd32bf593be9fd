// fastview publishes a stream of idempotent updates, such as session snapshots, to a web
// client over a websocket.
package fastview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"gridsim/websock"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	defaultPubResolution = time.Millisecond * 50
	pingResolution       = time.Millisecond * 500
	// The number of pings to tolerate losing before concluding the peer is gone.
	pongWait = pingResolution * 4
)

var upgrader = websocket.Upgrader{}

// ErrPongDeadlineExceeded means the client stopped answering pings.
var ErrPongDeadlineExceeded = errors.New("client disconnect, pong deadline exceeded")

// Client publishes updates unidirectionally to a web client. Messages from the client are read
// only to service control frames.
type Client[T any] struct {
	updates       <-chan T
	ws            *websock.Sock
	rootCtx       context.Context
	pubResolution time.Duration
	closing       atomic.Bool
}

// NewClient upgrades the request to a websocket publishing the passed updates. Updates must
// be idempotent: when they arrive faster than pubResolution only the latest is sent, and it is
// always sent eventually. A non-positive pubResolution selects the default.
func NewClient[T any](
	updates <-chan T,
	w http.ResponseWriter,
	r *http.Request,
	pubResolution time.Duration,
) (*Client[T], error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied to the client.
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)

	if pubResolution <= 0 {
		pubResolution = defaultPubResolution
	}
	return &Client[T]{
		updates:       updates,
		ws:            websock.New(ws),
		rootCtx:       r.Context(),
		pubResolution: pubResolution,
	}, nil
}

// Sync publishes updates until the client disconnects, the request context is done or the
// updates channel is closed, then closes the websocket.
// Sync returns nil on orderly teardown, or the error that caused it.
func (cli *Client[T]) Sync() error {
	defer cli.close()

	group, groupCtx := errgroup.WithContext(cli.rootCtx)
	group.Go(func() error {
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		defer cli.close()
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		// Closing the socket is the only way to unblock the reader.
		defer cli.close()
		err := cli.publish(groupCtx)
		if err == nil {
			err = errPublishDone
		}
		return err
	})

	err := group.Wait()
	if errors.Is(err, errPublishDone) || websock.IsClosure(err) {
		return nil
	}
	return err
}

var errPublishDone = errors.New("publication complete")

func (cli *Client[T]) close() {
	cli.closing.Store(true)
	cli.ws.Close()
}

// pingPong runs the liveness check. It requires readMessages to be running so that the pong
// handler is called.
func (cli *Client[T]) pingPong(ctx context.Context) error {
	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())
	cli.ws.Conn().SetPongHandler(func(_ string) error {
		lastPong.Store(time.Now().UnixNano())
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(time.Unix(0, lastPong.Load())) > pongWait {
				return ErrPongDeadlineExceeded
			}
			if err := cli.ws.Ping(ctx); err != nil {
				if websock.IsError(err) {
					err = fmt.Errorf("ping failed: %w", err)
				}
				return err
			}
		}
	}
}

// readMessages discards client messages. Errors returned by websocket Read methods are
// permanent, hence any error must trigger full teardown.
func (cli *Client[T]) readMessages(ctx context.Context) error {
	for {
		err := cli.ws.Read(
			ctx,
			func(ws *websocket.Conn) (readErr error) {
				_, _, readErr = ws.ReadMessage()
				return
			})
		if err != nil {
			if cli.closing.Load() {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// publish sends the latest pending update at most once per resolution.
func (cli *Client[T]) publish(ctx context.Context) error {
	var (
		pending    T
		hasPending bool
		lastSync   time.Time
	)
	flush := channerics.NewTicker(ctx.Done(), cli.pubResolution)

	send := func() error {
		hasPending = false
		lastSync = time.Now()
		return cli.ws.Write(
			ctx,
			func(ws *websocket.Conn) (writeErr error) {
				if writeErr = ws.SetWriteDeadline(time.Now().Add(writeWait)); writeErr != nil {
					return fmt.Errorf("failed to set deadline: %w", writeErr)
				}
				if writeErr = ws.WriteJSON(pending); writeErr != nil && websock.IsError(writeErr) {
					writeErr = fmt.Errorf("publish failed: %w", writeErr)
				}
				return
			})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-cli.updates:
			if !ok {
				if hasPending {
					return send()
				}
				return nil
			}
			pending, hasPending = update, true
			if time.Since(lastSync) < cli.pubResolution {
				break
			}
			if err := send(); err != nil {
				return err
			}
		case <-flush:
			if !hasPending {
				break
			}
			if err := send(); err != nil {
				return err
			}
		}
	}
}
