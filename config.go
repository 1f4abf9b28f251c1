package main

import (
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/resource"

	"swerve/control"
	"swerve/drivetrain"
	"swerve/hardware"
)

// ModuleConfig names the devices of one swerve module. With a CAN transport the *_can_id
// fields are used, otherwise the component names.
type ModuleConfig struct {
	DriveMotor    string  `json:"drive_motor,omitempty"`
	SteerMotor    string  `json:"steer_motor,omitempty"`
	SteerEncoder  string  `json:"steer_encoder,omitempty"`
	EncoderOffset float64 `json:"encoder_offset"`

	// DriveEncoder optionally replaces the drive motor's own position as the odometry source.
	DriveEncoder string `json:"drive_encoder,omitempty"`

	// Command frames go out on the *_can_id; status frames come back on the *_status_can_id.
	DriveCANID       uint32 `json:"drive_can_id,omitempty"`
	DriveStatusCANID uint32 `json:"drive_status_can_id,omitempty"`
	SteerCANID       uint32 `json:"steer_can_id,omitempty"`
	SteerStatusCANID uint32 `json:"steer_status_can_id,omitempty"`
	EncoderCANID     uint32 `json:"encoder_can_id,omitempty"`
}

// CANConfig selects the CAN transport instead of viam motor, encoder and movement sensor components.
type CANConfig struct {
	Channel        string `json:"channel,omitempty"`
	IMUCANID       uint32 `json:"imu_can_id"`
	CommsTimeoutMs int    `json:"comms_timeout_ms,omitempty"`
	StaleAfterMs   int    `json:"stale_after_ms,omitempty"`
	StartupMs      int    `json:"startup_timeout_ms,omitempty"`
}

// Config is the attribute block of the swerve base.
type Config struct {
	FrontLeft  ModuleConfig `json:"front_left"`
	FrontRight ModuleConfig `json:"front_right"`
	BackLeft   ModuleConfig `json:"back_left"`
	BackRight  ModuleConfig `json:"back_right"`

	MovementSensor string     `json:"movement_sensor,omitempty"`
	CAN            *CANConfig `json:"can,omitempty"`

	// Optional overrides of the default geometry and tuning.
	HalfLengthM          float64              `json:"half_length_m,omitempty"`
	HalfWidthM           float64              `json:"half_width_m,omitempty"`
	WheelCircumferenceM  float64              `json:"wheel_circumference_m,omitempty"`
	DriveGearRatio       float64              `json:"drive_gear_ratio,omitempty"`
	SteerGearRatio       float64              `json:"steer_gear_ratio,omitempty"`
	TicksPerRevolution   float64              `json:"ticks_per_revolution,omitempty"`
	MaxLinearSpeedMPS    float64              `json:"max_linear_speed_mps,omitempty"`
	MaxAngularSpeedRadPS float64              `json:"max_angular_speed_rad_per_sec,omitempty"`
	SteerKp              *float64             `json:"steer_kp,omitempty"`
	XGains               *control.Gains       `json:"x_gains,omitempty"`
	YGains               *control.Gains       `json:"y_gains,omitempty"`
	ThetaGains           *control.Gains       `json:"theta_gains,omitempty"`
	Translation          *control.Constraints `json:"translation_constraints,omitempty"`
	Rotation             *control.Constraints `json:"rotation_constraints,omitempty"`

	HeadingOffsetDeg   *float64 `json:"heading_offset_deg,omitempty"`
	StartingHeadingRad float64  `json:"starting_heading_rad,omitempty"`

	FieldOriented   bool `json:"field_oriented,omitempty"`
	LoopPeriodMs    int  `json:"loop_period_ms,omitempty"`
	CommsTimeoutMs  int  `json:"comms_timeout_ms,omitempty"`
	VisionRefreshMs int  `json:"vision_refresh_ms,omitempty"`
}

// Validate ensures all parts of the config are valid and returns the implicit dependencies.
func (cfg *Config) Validate(path string) ([]string, error) {
	var deps []string
	modules := map[string]ModuleConfig{
		"front_left":  cfg.FrontLeft,
		"front_right": cfg.FrontRight,
		"back_left":   cfg.BackLeft,
		"back_right":  cfg.BackRight,
	}
	for _, name := range []string{"front_left", "front_right", "back_left", "back_right"} {
		m := modules[name]
		if cfg.CAN != nil {
			for field, id := range map[string]uint32{
				"drive_can_id":        m.DriveCANID,
				"drive_status_can_id": m.DriveStatusCANID,
				"steer_can_id":        m.SteerCANID,
				"steer_status_can_id": m.SteerStatusCANID,
				"encoder_can_id":      m.EncoderCANID,
			} {
				if id == 0 {
					return nil, resource.NewConfigValidationFieldRequiredError(path, name+"."+field)
				}
			}
			continue
		}
		if m.DriveMotor == "" {
			return nil, resource.NewConfigValidationFieldRequiredError(path, name+".drive_motor")
		}
		if m.SteerMotor == "" {
			return nil, resource.NewConfigValidationFieldRequiredError(path, name+".steer_motor")
		}
		if m.SteerEncoder == "" {
			return nil, resource.NewConfigValidationFieldRequiredError(path, name+".steer_encoder")
		}
		deps = append(deps, m.DriveMotor, m.SteerMotor, m.SteerEncoder)
		if m.DriveEncoder != "" {
			deps = append(deps, m.DriveEncoder)
		}
	}

	if cfg.CAN != nil {
		if cfg.CAN.IMUCANID == 0 {
			return nil, resource.NewConfigValidationFieldRequiredError(path, "can.imu_can_id")
		}
	} else {
		if cfg.MovementSensor == "" {
			return nil, resource.NewConfigValidationFieldRequiredError(path, "movement_sensor")
		}
		deps = append(deps, cfg.MovementSensor)
	}

	for name, v := range map[string]int{
		"loop_period_ms":    cfg.LoopPeriodMs,
		"comms_timeout_ms":  cfg.CommsTimeoutMs,
		"vision_refresh_ms": cfg.VisionRefreshMs,
	} {
		if v < 0 {
			return nil, resource.NewConfigValidationError(path, errors.Errorf("%s must not be negative", name))
		}
	}

	if err := cfg.drivetrainConfig().Validate(); err != nil {
		return nil, resource.NewConfigValidationError(path, err)
	}
	return deps, nil
}

func (cfg *Config) modules() [4]ModuleConfig {
	return [4]ModuleConfig{cfg.FrontLeft, cfg.FrontRight, cfg.BackLeft, cfg.BackRight}
}

// drivetrainConfig merges the overrides onto the default constants.
func (cfg *Config) drivetrainConfig() drivetrain.Config {
	out := drivetrain.DefaultConfig()
	setIfPositive := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}
	setIfPositive(&out.HalfLength, cfg.HalfLengthM)
	setIfPositive(&out.HalfWidth, cfg.HalfWidthM)
	setIfPositive(&out.WheelCircumference, cfg.WheelCircumferenceM)
	setIfPositive(&out.DriveGearRatio, cfg.DriveGearRatio)
	setIfPositive(&out.SteerGearRatio, cfg.SteerGearRatio)
	setIfPositive(&out.TicksPerRevolution, cfg.TicksPerRevolution)
	setIfPositive(&out.MaxLinearSpeed, cfg.MaxLinearSpeedMPS)
	setIfPositive(&out.MaxAngularSpeed, cfg.MaxAngularSpeedRadPS)

	if cfg.SteerKp != nil {
		out.SteerKp = *cfg.SteerKp
	}
	if cfg.XGains != nil {
		out.X = *cfg.XGains
	}
	if cfg.YGains != nil {
		out.Y = *cfg.YGains
	}
	if cfg.ThetaGains != nil {
		out.Theta = *cfg.ThetaGains
	}
	if cfg.Translation != nil {
		out.Translation = *cfg.Translation
	}
	if cfg.Rotation != nil {
		out.Rotation = *cfg.Rotation
	}

	for i, m := range cfg.modules() {
		out.EncoderOffsets[i] = m.EncoderOffset
	}
	if cfg.HeadingOffsetDeg != nil {
		out.HeadingOffset = *cfg.HeadingOffsetDeg
		out.CalibrateHeading = false
	}
	out.StartingHeading = cfg.StartingHeadingRad
	out.LoopPeriod = cfg.loopPeriod()
	return out
}

func (cfg *Config) loopPeriod() time.Duration {
	if cfg.LoopPeriodMs > 0 {
		return time.Duration(cfg.LoopPeriodMs) * time.Millisecond
	}
	return drivetrain.DefaultConfig().LoopPeriod
}

// commsTimeout stops the wheels when no command arrives for this long.
func (cfg *Config) commsTimeout() time.Duration {
	if cfg.CommsTimeoutMs > 0 {
		return time.Duration(cfg.CommsTimeoutMs) * time.Millisecond
	}
	return time.Second
}

func (cfg *Config) visionRefresh() time.Duration {
	if cfg.VisionRefreshMs > 0 {
		return time.Duration(cfg.VisionRefreshMs) * time.Millisecond
	}
	return time.Second
}

// telemetryIDs lists every status frame the bus must listen for.
func (cfg *Config) telemetryIDs() []uint32 {
	var ids []uint32
	for _, m := range cfg.modules() {
		ids = append(ids, m.DriveStatusCANID, m.SteerStatusCANID, m.EncoderCANID)
	}
	return append(ids, cfg.CAN.IMUCANID)
}

func (c *CANConfig) busConfig() hardware.BusConfig {
	out := hardware.DefaultBusConfig()
	if c.Channel != "" {
		out.Channel = c.Channel
	}
	if c.CommsTimeoutMs > 0 {
		out.CommsTimeout = time.Duration(c.CommsTimeoutMs) * time.Millisecond
	}
	if c.StaleAfterMs > 0 {
		out.StaleAfter = time.Duration(c.StaleAfterMs) * time.Millisecond
	}
	return out
}

func (c *CANConfig) startupTimeout() time.Duration {
	if c.StartupMs > 0 {
		return time.Duration(c.StartupMs) * time.Millisecond
	}
	return 2 * time.Second
}
