// Package heading turns a wrapped yaw sensor into the robot heading used by odometry.
package heading

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"swerve/hardware"
)

// Reference decodes a yaw sensor relative to the yaw captured at calibration.
// The decoded heading is recomputed on every read and never stored.
type Reference struct {
	sensor        hardware.YawSensor
	initialOffset float64
}

// NewReference returns a Reference that treats initialOffset degrees of raw yaw as heading zero.
func NewReference(sensor hardware.YawSensor, initialOffset float64) (*Reference, error) {
	if sensor == nil {
		return nil, errors.New("heading reference needs a yaw sensor")
	}
	if math.IsNaN(initialOffset) || math.IsInf(initialOffset, 0) {
		return nil, errors.Errorf("invalid heading offset %v", initialOffset)
	}
	return &Reference{sensor: sensor, initialOffset: math.Mod(initialOffset, 360)}, nil
}

// Calibrate builds a Reference whose zero is the sensor's current yaw.
func Calibrate(ctx context.Context, sensor hardware.YawSensor) (*Reference, error) {
	if sensor == nil {
		return nil, errors.New("heading reference needs a yaw sensor")
	}
	yaw, err := sensor.YawDegrees(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading initial yaw")
	}
	return NewReference(sensor, yaw)
}

// Offset is the raw yaw, in degrees, that reads as heading zero.
func (r *Reference) Offset() float64 {
	return r.initialOffset
}

// ContinuousHeadingRadians reads the sensor and returns the heading in [0, 2π), counter-clockwise.
func (r *Reference) ContinuousHeadingRadians(ctx context.Context) (float64, error) {
	yaw, err := r.sensor.YawDegrees(ctx)
	if err != nil {
		return 0, err
	}
	return DecodeHeading(yaw, r.initialOffset), nil
}

// DecodeHeading converts a raw clockwise yaw in degrees into counter-clockwise radians in [0, 2π)
// relative to offset. Exactly 360 reads as 0.
func DecodeHeading(yaw, offset float64) float64 {
	angle := math.Mod(yaw, 360)
	angle -= offset
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	angle = 360 - angle
	if angle >= 360 {
		angle = 0
	}
	return angle * math.Pi / 180
}
