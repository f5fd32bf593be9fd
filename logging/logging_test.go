package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseLevel(t *testing.T) {
	Convey("Level names", t, func() {
		So(ParseLevel("trace"), ShouldEqual, LevelTrace)
		So(ParseLevel("DEBUG"), ShouldEqual, slog.LevelDebug)
		So(ParseLevel(" warn "), ShouldEqual, slog.LevelWarn)
		So(ParseLevel("error"), ShouldEqual, slog.LevelError)
		So(ParseLevel("info"), ShouldEqual, slog.LevelInfo)
		So(ParseLevel("bogus"), ShouldEqual, slog.LevelInfo)
	})
}

func TestNewLogger(t *testing.T) {
	Convey("Given a debug logger", t, func() {
		var buf bytes.Buffer
		logger := NewLogger("debug", &buf)

		Convey("Trace is filtered", func() {
			logger.Log(context.Background(), LevelTrace, "hidden")
			So(buf.String(), ShouldBeEmpty)
		})

		Convey("Debug is emitted", func() {
			logger.Debug("shown", "k", 1)
			So(buf.String(), ShouldContainSubstring, "shown")
			So(buf.String(), ShouldContainSubstring, "k=1")
		})
	})

	Convey("Trace records are labelled TRACE", t, func() {
		var buf bytes.Buffer
		logger := NewLogger("trace", &buf)
		logger.Log(context.Background(), LevelTrace, "verbose")
		So(buf.String(), ShouldContainSubstring, "level=TRACE")
	})
}

func TestContext(t *testing.T) {
	Convey("Loggers travel through contexts", t, func() {
		So(FromContext(context.Background()), ShouldEqual, slog.Default())

		logger := Discard()
		ctx := WithLogger(context.Background(), logger)
		So(FromContext(ctx), ShouldEqual, logger)
	})
}
