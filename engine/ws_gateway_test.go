package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gridsim/models"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeEngine answers each request with handle; returning nil drops the request unanswered
// and returning errHangUp closes the connection.
type fakeEngine struct {
	handle func(req Request) *Response
	conns  atomic.Int32
	// duplicate sends every response twice.
	duplicate bool
}

var errHangUp = errors.New("hang up")

func (fe *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	fe.conns.Add(1)

	var writeMu sync.Mutex
	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		resp := fe.handle(req)
		if resp == nil {
			continue
		}
		if resp.Error != nil && resp.Error.Kind == errHangUp.Error() {
			return
		}
		writeMu.Lock()
		err := ws.WriteJSON(resp)
		if err == nil && fe.duplicate {
			err = ws.WriteJSON(resp)
		}
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func result(req Request, v interface{}) *Response {
	data, _ := json.Marshal(v)
	return &Response{ID: req.ID, Result: data}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSGateway(t *testing.T) {
	grid, _ := models.GridFromCodes([][]int{{1, 0}, {0, 2}})
	agent := models.DefaultAgentConfig()
	experiment := models.DefaultExperimentConfig()

	Convey("Given an engine serving a session", t, func() {
		var created CreateParams
		fe := &fakeEngine{
			handle: func(req Request) *Response {
				switch req.Op {
				case OpCreateSimulation:
					_ = json.Unmarshal(req.Params, &created)
					return result(req, nil)
				case OpGetCurrentPosition:
					return result(req, models.Position{Row: 0, Col: 0})
				case OpStepExperiment:
					return result(req, models.StepResult{
						Position: models.Position{Row: 0, Col: 1},
						Values:   []float64{0, 1, 2, 3},
						Log:      models.StepLog{Step: 1, State: 1, Reward: -1},
					})
				case OpAnalyzeExperimentLogs:
					return result(req, models.AnalysisResult{
						CumulativeReward: []models.RewardPoint{{X: 0, Reward: -1}},
					})
				case OpResetSimulation, OpRunFullExperiment:
					return result(req, nil)
				}
				return &Response{ID: req.ID, Error: &WireError{Kind: "bad_op", Message: req.Op}}
			},
		}
		srv := httptest.NewServer(fe)
		defer srv.Close()
		gw := NewWSGateway(wsURL(srv), WSOptions{CallTimeout: time.Second})
		defer gw.Close()
		ctx := context.Background()

		Convey("Create forwards the configs verbatim", func() {
			So(gw.CreateSimulation(ctx, "s1", grid, agent, experiment), ShouldBeNil)
			So(created.Grid.Equal(grid), ShouldBeTrue)
			So(created.Agent, ShouldResemble, agent)
			So(created.Experiment, ShouldResemble, experiment)
		})

		Convey("Results are decoded", func() {
			pos, err := gw.GetCurrentPosition(ctx, "s1")
			So(err, ShouldBeNil)
			So(pos, ShouldResemble, models.Position{})

			res, err := gw.StepExperiment(ctx, "s1")
			So(err, ShouldBeNil)
			So(res.Position, ShouldResemble, models.Position{Row: 0, Col: 1})
			So(res.Values, ShouldResemble, []float64{0, 1, 2, 3})
			So(res.Log.Reward, ShouldEqual, -1)

			analysis, err := gw.AnalyzeExperimentLogs(ctx, "s1")
			So(err, ShouldBeNil)
			So(len(analysis.CumulativeReward), ShouldEqual, 1)

			So(gw.RunFullExperiment(ctx, "s1"), ShouldBeNil)
			So(gw.ResetSimulation(ctx, "s1"), ShouldBeNil)
		})

		Convey("Concurrent calls share one connection", func() {
			var wg sync.WaitGroup
			errs := make(chan error, 8)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := gw.StepExperiment(ctx, "s1")
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}
			So(fe.conns.Load(), ShouldEqual, 1)
		})

		Convey("Calls after Close fail as unavailable", func() {
			gw.Close()
			err := gw.ResetSimulation(ctx, "s1")
			So(errors.Is(err, ErrEngineUnavailable), ShouldBeTrue)
		})
	})

	Convey("Engine errors are classified", t, func() {
		fe := &fakeEngine{
			handle: func(req Request) *Response {
				switch req.Op {
				case OpGetCurrentPosition:
					return &Response{ID: req.ID, Error: &WireError{Kind: "session_not_found", Message: "no session s9"}}
				case OpCreateSimulation:
					return &Response{ID: req.ID, Error: &WireError{Kind: "config_invalid", Message: "no start cell"}}
				}
				return &Response{ID: req.ID, Error: &WireError{Message: "ZeroDivisionError"}}
			},
		}
		srv := httptest.NewServer(fe)
		defer srv.Close()
		gw := NewWSGateway(wsURL(srv), WSOptions{CallTimeout: time.Second})
		defer gw.Close()
		ctx := context.Background()

		_, err := gw.GetCurrentPosition(ctx, "s9")
		So(errors.Is(err, ErrSessionNotFound), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "no session s9")

		err = gw.CreateSimulation(ctx, "s9", grid, agent, experiment)
		So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)

		_, err = gw.StepExperiment(ctx, "s9")
		So(errors.Is(err, ErrEngineRuntime), ShouldBeTrue)
	})

	Convey("Given an engine that stops answering", t, func() {
		fe := &fakeEngine{
			handle: func(req Request) *Response { return nil },
		}
		srv := httptest.NewServer(fe)
		defer srv.Close()
		gw := NewWSGateway(wsURL(srv), WSOptions{CallTimeout: 50 * time.Millisecond})
		defer gw.Close()

		Convey("Calls time out as unavailable", func() {
			_, err := gw.StepExperiment(context.Background(), "s1")
			So(Classify(err), ShouldEqual, KindEngineUnavailable)
		})
	})

	Convey("Given an engine that drops the connection once", t, func() {
		var calls atomic.Int32
		fe := &fakeEngine{
			handle: func(req Request) *Response {
				if calls.Add(1) == 1 {
					return &Response{ID: req.ID, Error: &WireError{Kind: errHangUp.Error()}}
				}
				return result(req, models.Position{Row: 3, Col: 4})
			},
		}
		srv := httptest.NewServer(fe)
		defer srv.Close()
		gw := NewWSGateway(wsURL(srv), WSOptions{CallTimeout: time.Second})
		defer gw.Close()
		ctx := context.Background()

		Convey("The pending call fails and the next call re-dials", func() {
			_, err := gw.GetCurrentPosition(ctx, "s1")
			So(errors.Is(err, ErrEngineUnavailable), ShouldBeTrue)

			// The read pump may not have observed the close yet.
			var pos models.Position
			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				if pos, err = gw.GetCurrentPosition(ctx, "s1"); err == nil {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			So(err, ShouldBeNil)
			So(pos, ShouldResemble, models.Position{Row: 3, Col: 4})
			So(fe.conns.Load(), ShouldEqual, 2)
		})
	})

	Convey("Given an engine slower than the call timeout", t, func() {
		fe := &fakeEngine{
			handle: func(req Request) *Response {
				if req.Op == OpStepExperiment {
					time.Sleep(300 * time.Millisecond)
				}
				return result(req, models.Position{Row: 1, Col: 1})
			},
		}
		srv := httptest.NewServer(fe)
		defer srv.Close()
		gw := NewWSGateway(wsURL(srv), WSOptions{CallTimeout: 50 * time.Millisecond})
		defer gw.Close()
		ctx := context.Background()

		Convey("The abandoned request takes its connection down with it", func() {
			_, err := gw.StepExperiment(ctx, "s1")
			So(Classify(err), ShouldEqual, KindEngineUnavailable)

			// Reusing the first connection would queue behind the slow step and time out.
			pos, err := gw.GetCurrentPosition(ctx, "s1")
			So(err, ShouldBeNil)
			So(pos, ShouldResemble, models.Position{Row: 1, Col: 1})
			So(fe.conns.Load(), ShouldEqual, 2)
		})

		Convey("So does a request whose caller gives up", func() {
			callCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := gw.StepExperiment(callCtx, "s1")
			So(Classify(err), ShouldEqual, KindEngineUnavailable)

			_, err = gw.GetCurrentPosition(ctx, "s1")
			So(err, ShouldBeNil)
			So(fe.conns.Load(), ShouldEqual, 2)
		})
	})

	Convey("Duplicate responses do not stall the connection", t, func() {
		fe := &fakeEngine{
			duplicate: true,
			handle: func(req Request) *Response {
				return result(req, models.Position{Row: 2, Col: 0})
			},
		}
		srv := httptest.NewServer(fe)
		defer srv.Close()
		gw := NewWSGateway(wsURL(srv), WSOptions{CallTimeout: time.Second})
		defer gw.Close()

		for i := 0; i < 5; i++ {
			pos, err := gw.GetCurrentPosition(context.Background(), "s1")
			So(err, ShouldBeNil)
			So(pos, ShouldResemble, models.Position{Row: 2, Col: 0})
		}
		So(fe.conns.Load(), ShouldEqual, 1)
	})

	Convey("Dial failures are unavailable", t, func() {
		gw := NewWSGateway("ws://127.0.0.1:1/engine", WSOptions{DialTimeout: 100 * time.Millisecond})
		err := gw.ResetSimulation(context.Background(), "s1")
		So(errors.Is(err, ErrEngineUnavailable), ShouldBeTrue)
	})
}
