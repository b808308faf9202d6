package camera

import (
	"errors"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/nar3128/swervepose/vision/fiducial"
)

func TestFrameBuffer(t *testing.T) {
	var buf FrameBuffer

	_, ok, err := buf.Latest()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	frame := fiducial.Frame{Timestamp: time.Unix(10, 0), Detections: []fiducial.Detection{{MarkerID: 3}}}
	buf.Store(frame)
	got, ok, err := buf.Latest()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, frame)

	// each frame is handed out once
	_, ok, err = buf.Latest()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	buf.StoreError(errors.New("disconnected"))
	_, ok, err = buf.Latest()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, ok, test.ShouldBeFalse)
	_, _, err = buf.Latest()
	test.That(t, err, test.ShouldBeNil)
}
