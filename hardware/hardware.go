// Package hardware defines the capabilities the drivetrain needs from physical devices
// and adapts viam components and a CAN bus transport to them.
package hardware

import "context"

// Actuator drives a motor at a percent output in [-1, 1].
type Actuator interface {
	SetPower(ctx context.Context, powerPct float64) error
}

// AngleSensor reads an absolute rotation wrapped to [0, 1).
type AngleSensor interface {
	Rotation(ctx context.Context) (float64, error)
}

// TickSensor reads a relative displacement in encoder ticks. Ticks are monotonic within a power cycle.
type TickSensor interface {
	Ticks(ctx context.Context) (float64, error)
}

// TickRateSensor is implemented by tick sensors that also report velocity.
type TickRateSensor interface {
	TicksPerSecond(ctx context.Context) (float64, error)
}

// YawSensor reads the robot yaw in degrees, wrapped to some fixed modulus.
type YawSensor interface {
	YawDegrees(ctx context.Context) (float64, error)
}
