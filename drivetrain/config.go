package drivetrain

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"swerve/control"
	"swerve/kinematics"
	"swerve/wheel"
)

// Config holds every constant of the drivetrain. It is fixed once New returns.
type Config struct {
	// HalfLength and HalfWidth are the distances in meters from the robot center to the wheels.
	HalfLength float64
	HalfWidth  float64

	WheelCircumference float64
	DriveGearRatio     float64
	SteerGearRatio     float64
	TicksPerRevolution float64

	// MaxLinearSpeed (m/s) and MaxAngularSpeed (rad/s) map physical commands to percent.
	MaxLinearSpeed  float64
	MaxAngularSpeed float64

	SteerKp     float64
	X, Y, Theta control.Gains
	Translation control.Constraints
	Rotation    control.Constraints

	// EncoderOffsets are the absolute steer readings at which each wheel faces forward,
	// in front-left, front-right, back-left, back-right order.
	EncoderOffsets [4]float64

	// HeadingOffset is the raw yaw in degrees that reads as heading zero. It is ignored when
	// CalibrateHeading is set, in which case the yaw at construction is used.
	HeadingOffset    float64
	CalibrateHeading bool
	// StartingHeading is the field heading in radians odometry starts from.
	StartingHeading float64

	LoopPeriod time.Duration
}

// DefaultConfig returns the constants of the competition robot.
func DefaultConfig() Config {
	return Config{
		HalfLength:         0.29845,
		HalfWidth:          0.2953,
		WheelCircumference: 0.10322 * math.Pi,
		DriveGearRatio:     6.54,
		SteerGearRatio:     150.0 / 7,
		TicksPerRevolution: 2048,
		MaxLinearSpeed:     4,
		MaxAngularSpeed:    3 * math.Pi,
		SteerKp:            0.8,
		X:                  control.Gains{Kp: 1.2},
		Y:                  control.Gains{Kp: 1.2},
		Theta:              control.Gains{Kp: 2, Kd: 0.05},
		Translation:        control.Constraints{MaxVelocity: 2, MaxAcceleration: 2},
		Rotation:           control.Constraints{MaxVelocity: math.Pi, MaxAcceleration: math.Pi},
		CalibrateHeading:   true,
		LoopPeriod:         20 * time.Millisecond,
	}
}

// Geometry returns the wheel layout.
func (cfg Config) Geometry() kinematics.Geometry {
	return kinematics.Geometry{HalfLength: cfg.HalfLength, HalfWidth: cfg.HalfWidth}
}

// Validate rejects constants that would divide by zero or otherwise poison the control cycle.
func (cfg Config) Validate() error {
	if err := cfg.Geometry().Validate(); err != nil {
		return err
	}
	if !(cfg.MaxAngularSpeed > 0) || math.IsInf(cfg.MaxAngularSpeed, 0) {
		return errors.Errorf("max angular speed must be positive, got %v", cfg.MaxAngularSpeed)
	}
	for _, loc := range []wheel.Location{wheel.FrontLeft, wheel.FrontRight, wheel.BackLeft, wheel.BackRight} {
		if err := cfg.wheel(loc).Validate(); err != nil {
			return err
		}
	}
	if math.IsNaN(cfg.StartingHeading) || math.IsInf(cfg.StartingHeading, 0) {
		return errors.Errorf("starting heading must be finite, got %v", cfg.StartingHeading)
	}
	return cfg.pose().Validate()
}

func (cfg Config) wheel(loc wheel.Location) wheel.Config {
	return wheel.Config{
		Location:           loc,
		EncoderOffset:      cfg.EncoderOffsets[loc],
		TicksPerRevolution: cfg.TicksPerRevolution,
		DriveGearRatio:     cfg.DriveGearRatio,
		SteerGearRatio:     cfg.SteerGearRatio,
		WheelCircumference: cfg.WheelCircumference,
		MaxLinearSpeed:     cfg.MaxLinearSpeed,
		SteerKp:            cfg.SteerKp,
	}
}

func (cfg Config) pose() control.PoseConfig {
	return control.PoseConfig{
		X:           cfg.X,
		Y:           cfg.Y,
		Theta:       cfg.Theta,
		Translation: cfg.Translation,
		Rotation:    cfg.Rotation,
		Period:      cfg.LoopPeriod,
	}
}
