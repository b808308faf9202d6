package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestSubloggerNaming(t *testing.T) {
	var buf bytes.Buffer
	logger := NewBlankLogger("robot")
	logger.AddAppender(NewWriterAppender(&buf))

	sub := logger.Sublogger("estimator")
	sub.Infow("correction", "outcome", "accepted")

	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, "robot.estimator")
	test.That(t, out, test.ShouldContainSubstring, "correction")
	test.That(t, out, test.ShouldContainSubstring, "outcome")
	test.That(t, out, test.ShouldContainSubstring, "accepted")
	test.That(t, out, test.ShouldContainSubstring, "logging_test.go")
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swerve.log")
	appender := NewFileAppender(path, 1, 2)
	logger := NewBlankLogger("sim")
	logger.AddAppender(appender)

	logger.Infow("cycle", "count", 3)
	test.That(t, appender.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "cycle")
	test.That(t, string(contents), test.ShouldContainSubstring, "INFO")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewBlankLogger("lvl")
	logger.AddAppender(NewWriterAppender(&buf))
	logger.SetLevel(WARN)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warnf("shown %d", 1)
	logger.Error("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, len(lines), test.ShouldEqual, 2)
	test.That(t, lines[0], test.ShouldContainSubstring, "WARN")
	test.That(t, lines[1], test.ShouldContainSubstring, "ERROR")
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Warnw("unknown marker", "marker", 42)
	logger.Sublogger("cam").Debugf("frame %d", 7)

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("unknown marker").Len(), test.ShouldEqual, 1)
	test.That(t, logs.All()[0].ContextMap()["marker"], test.ShouldEqual, int64(42))
	test.That(t, logs.All()[1].LoggerName, test.ShouldEqual, "cam")
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
	} {
		lvl, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, lvl, test.ShouldEqual, tc.expected)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}
