package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/nar3128/swervepose/estimator"
)

// The robot starts facing markers 7 and 8 of the offseason layout.
const testConfig = `{
	"start": {"x": 2, "y": 5.2, "theta_degs": 180},
	"log_level": "warn"
}`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "robot.json")
	test.That(t, os.WriteFile(path, []byte(testConfig), 0o600), test.ShouldBeNil)
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.RunContext(context.Background(), append([]string{"swervesim"}, args...))
	return out.String(), err
}

func TestRun(t *testing.T) {
	out, err := runApp(t,
		"--config", writeConfig(t),
		"--duration", "300ms",
		"--report-every", "100ms",
		"--vx", "-0.2",
		"--events", "3",
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "estimate")
	test.That(t, out, test.ShouldContainSubstring, "cycles")
	test.That(t, strings.ToLower(out), test.ShouldContainSubstring, "accepted")
}

func TestRunFlagErrors(t *testing.T) {
	_, err := runApp(t, "--events=-1", "--duration", "10ms")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "events")

	_, err = runApp(t, "--watch", "--duration", "10ms")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--config")

	_, err = runApp(t, "--config", filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEventsTable(t *testing.T) {
	events := []estimator.CorrectionEvent{
		{Camera: "front", Outcome: estimator.OutcomeAccepted},
		{Camera: "rear", Outcome: estimator.OutcomeRejectedOutlier},
	}
	last := eventsTable(events, 1)
	test.That(t, last, test.ShouldContainSubstring, "rear")
	test.That(t, last, test.ShouldNotContainSubstring, "front")

	none := eventsTable(events, -1)
	test.That(t, none, test.ShouldNotContainSubstring, "front")
	test.That(t, none, test.ShouldNotContainSubstring, "rear")

	all := eventsTable(events, 10)
	test.That(t, all, test.ShouldContainSubstring, "front")
	test.That(t, all, test.ShouldContainSubstring, "rear")
}
