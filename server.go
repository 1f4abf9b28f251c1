// Package main is a viam module serving a four-wheel swerve drive as a base.

package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"swerve/drivetrain"
	"swerve/hardware"
	"swerve/kinematics"
	"swerve/odometry"
	"swerve/telemetry"
	"swerve/wheel"
)

var model = resource.NewModel("viam-labs", "base", "swerve")

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swerveBaseModule"))
}

// Version number
var version = "1.0.0"

const (
	// Pose tolerances for MoveStraight and Spin.
	arrivalDistanceM  = 0.01
	arrivalHeadingRad = math.Pi / 180
)

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	registerBase()
	swerveModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	swerveModule.AddModelFromRegistry(ctx, base.API, model)

	err = swerveModule.Start(ctx)
	defer swerveModule.Close(ctx)

	if err != nil {
		return err
	}
	logger.Infow("swerve base module started", "version", version)
	<-ctx.Done()
	return nil
}

// helper function to add the base's constructor and metadata to the component registry, so that we can later construct it.
func registerBase() {
	resource.RegisterComponent(
		base.API,
		model,
		resource.Registration[base.Base, *Config]{Constructor: newBase})
}

// newBase builds the drivetrain from its dependencies (or a CAN bus) and starts the control loop.
func newBase(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (base.Base, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	var geometries []spatialmath.Geometry
	if conf.Frame != nil {
		frame, err := conf.Frame.ParseConfig()
		if err != nil {
			return nil, err
		}
		geometries = append(geometries, frame.Geometry())
	}

	store := telemetry.NewStore()
	hw, bus, err := buildHardware(ctx, deps, cfg, store, logger)
	if err != nil {
		return nil, err
	}

	sb, err := newSwerveBase(ctx, conf.ResourceName(), cfg, hw, store, clock.New(), logger)
	if err != nil {
		if bus != nil {
			err = multierr.Combine(err, bus.Close())
		}
		return nil, err
	}
	sb.bus = bus
	sb.geometries = geometries
	return sb, nil
}

type swerveBase struct {
	resource.Named
	resource.AlwaysRebuild

	cfg        *Config
	dt         *drivetrain.Drivetrain
	store      *telemetry.Store
	bus        *hardware.Bus
	clock      clock.Clock
	geometries []spatialmath.Geometry
	logger     logging.Logger

	fieldOriented           atomic.Bool
	isMoving                atomic.Bool
	nextCommandCh           chan loopCommand
	closed                  <-chan struct{}
	activeBackgroundWorkers sync.WaitGroup
	cancel                  func()
}

var errClosed = errors.New("swerve base is closed")

func newSwerveBase(
	ctx context.Context,
	name resource.Name,
	cfg *Config,
	hw drivetrain.Hardware,
	store *telemetry.Store,
	clk clock.Clock,
	logger logging.Logger,
) (*swerveBase, error) {
	dt, err := drivetrain.New(ctx, cfg.drivetrainConfig(), hw, logger,
		drivetrain.WithTelemetry(store), drivetrain.WithClock(clk))
	if err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	sb := &swerveBase{
		Named:         name.AsNamed(),
		cfg:           cfg,
		dt:            dt,
		store:         store,
		clock:         clk,
		logger:        logger,
		nextCommandCh: make(chan loopCommand),
		closed:        cancelCtx.Done(),
		cancel:        cancel,
	}
	sb.fieldOriented.Store(cfg.FieldOriented)

	sb.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		sb.controlThread(cancelCtx)
	}, sb.activeBackgroundWorkers.Done)
	return sb, nil
}

// MoveStraight drives distanceMm along the current heading, holding the heading.
func (sb *swerveBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	distance := float64(distanceMm) / 1000
	if mmPerSec < 0 {
		distance = -distance
	}
	start := sb.dt.Pose()
	s, c := math.Sincos(start.Heading)
	target := odometry.Pose2D{X: start.X + distance*c, Y: start.Y + distance*s, Heading: start.Heading}
	return sb.driveTo(ctx, target)
}

// Spin turns in place by angleDeg, counter-clockwise positive.
func (sb *swerveBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	angle := angleDeg * math.Pi / 180
	if degsPerSec < 0 {
		angle = -angle
	}
	start := sb.dt.Pose()
	target := start
	target.Heading = odometry.WrapAngle(start.Heading + angle)
	return sb.driveTo(ctx, target)
}

// driveTo runs the odometry pose loop until the robot is within tolerance of target.
func (sb *swerveBase) driveTo(ctx context.Context, target odometry.Pose2D) error {
	if err := sb.setNextCommand(ctx, loopCommand{mode: modeDriveToPoseOdometry, target: target}); err != nil {
		return err
	}
	defer func() {
		if err := sb.setNextCommand(context.Background(), loopCommand{mode: modeStop}); err != nil {
			sb.logger.Debugw("stop after move not delivered", "error", err)
		}
	}()

	for !arrived(sb.dt.Pose(), target) {
		if !viamutils.SelectContextOrWait(ctx, sb.cfg.loopPeriod()) {
			return ctx.Err()
		}
	}
	return nil
}

func arrived(pose, target odometry.Pose2D) bool {
	return math.Hypot(target.X-pose.X, target.Y-pose.Y) < arrivalDistanceM &&
		math.Abs(odometry.WrapAngle(target.Heading-pose.Heading)) < arrivalHeadingRad
}

// SetPower sets the linear and angular [-1, 1] drive power. linear.Y is forward, linear.X is to
// the right and angular.Z is counter-clockwise.
func (sb *swerveBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	if linear.Z != 0 || angular.X != 0 || angular.Y != 0 {
		sb.logger.Warnw("SetPower components other than linear X/Y and angular Z have no effect",
			"linear", linear, "angular", angular)
	}
	if sb.fieldOriented.Load() {
		limits := sb.dt.Config()
		return sb.setNextCommand(ctx, loopCommand{
			mode: modeFieldSpeeds,
			speeds: kinematics.ChassisSpeeds{
				VX:    linear.Y * limits.MaxLinearSpeed,
				VY:    -linear.X * limits.MaxLinearSpeed,
				Omega: angular.Z * limits.MaxAngularSpeed,
			},
		})
	}
	return sb.setNextCommand(ctx, loopCommand{
		mode:    modePercent,
		percent: kinematics.Percent{Forward: linear.Y, Strafe: linear.X, Rotation: -angular.Z},
	})
}

// SetVelocity sets the linear (mmPerSec) and angular (degsPerSec) velocity.
func (sb *swerveBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	speeds := kinematics.ChassisSpeeds{
		VX:    linear.Y / 1000,
		VY:    -linear.X / 1000,
		Omega: angular.Z * math.Pi / 180,
	}
	mode := modeRobotSpeeds
	if sb.fieldOriented.Load() {
		mode = modeFieldSpeeds
	}
	return sb.setNextCommand(ctx, loopCommand{mode: mode, speeds: speeds})
}

// Stop stops the base. It is assumed the base stops immediately.
func (sb *swerveBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	sb.isMoving.Store(false)
	return sb.setNextCommand(ctx, loopCommand{mode: modeStop})
}

// DoCommand executes commands beyond the Base interface: pose control, odometry and telemetry.
func (sb *swerveBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	switch name {
	case "reset_odometry":
		pose, err := poseArgs(cmd, "x", "y", "theta", true)
		if err != nil {
			return nil, err
		}
		done := make(chan error, 1)
		if err := sb.setNextCommand(ctx, loopCommand{mode: modeReset, target: pose, done: done}); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sb.closed:
			return nil, errClosed
		case err := <-done:
			if err != nil {
				return nil, err
			}
		}
		return map[string]interface{}{"return": "reset_odometry command processed"}, nil

	case "drive_to_pose":
		target, err := poseArgs(cmd, "x", "y", "theta", false)
		if err != nil {
			return nil, err
		}
		if err := sb.setNextCommand(ctx, loopCommand{mode: modeDriveToPoseOdometry, target: target}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "drive_to_pose command processed"}, nil

	case "drive_to_pose_vision":
		target, err := poseArgs(cmd, "x", "y", "theta", false)
		if err != nil {
			return nil, err
		}
		if err := sb.setNextCommand(ctx, loopCommand{mode: modeDriveToPoseVision, target: target}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "drive_to_pose_vision command processed"}, nil

	case "drive_to_pose_combo":
		target, err := poseArgs(cmd, "x", "y", "theta", false)
		if err != nil {
			return nil, err
		}
		vision, err := poseArgs(cmd, "vision_x", "vision_y", "vision_theta", false)
		if err != nil {
			return nil, err
		}
		refresh := sb.cfg.visionRefresh()
		if raw, ok := cmd["refresh_ms"]; ok {
			ms, ok := raw.(float64)
			if !ok || ms < 0 {
				return nil, errors.New("refresh_ms value must be a non-negative number")
			}
			refresh = time.Duration(ms * float64(time.Millisecond))
		}
		if err := sb.setNextCommand(ctx, loopCommand{
			mode: modeDriveToPoseCombo, target: target, vision: vision, refresh: refresh,
		}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "drive_to_pose_combo command processed"}, nil

	case "turn_to_point":
		x, err := floatArg(cmd, "x", false)
		if err != nil {
			return nil, err
		}
		y, err := floatArg(cmd, "y", false)
		if err != nil {
			return nil, err
		}
		forward, err := floatArg(cmd, "forward", true)
		if err != nil {
			return nil, err
		}
		strafe, err := floatArg(cmd, "strafe", true)
		if err != nil {
			return nil, err
		}
		if err := sb.setNextCommand(ctx, loopCommand{
			mode:    modeTurnToPoint,
			point:   odometry.Translation2D{X: x, Y: y},
			percent: kinematics.Percent{Forward: forward, Strafe: strafe},
		}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "turn_to_point command processed"}, nil

	case "set_module_states":
		states, err := moduleStatesArg(cmd)
		if err != nil {
			return nil, err
		}
		if err := sb.setNextCommand(ctx, loopCommand{mode: modeModuleStates, states: states}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "set_module_states command processed"}, nil

	case "set_field_oriented":
		onRaw, ok := cmd["on"]
		if !ok {
			return nil, errors.New("on must be set and a boolean value")
		}
		on, ok := onRaw.(bool)
		if !ok {
			return nil, errors.New("on value must be a boolean")
		}
		sb.fieldOriented.Store(on)
		return map[string]interface{}{"return": "set_field_oriented command processed"}, nil

	case "get_pose":
		pose := sb.dt.Pose()
		spatial := pose.SpatialPose()
		point := spatial.Point()
		return map[string]interface{}{
			"x":         pose.X,
			"y":         pose.Y,
			"theta":     pose.Heading,
			"x_mm":      point.X,
			"y_mm":      point.Y,
			"theta_deg": spatial.Orientation().OrientationVectorDegrees().Theta,
		}, nil

	case "get_module_states":
		return sb.moduleStates(ctx)

	case "get_telemetry":
		return sb.store.All(), nil

	default:
		return nil, fmt.Errorf("no such command: %s", name)
	}
}

// moduleStates reports, per wheel, the measured steer angle in degrees clockwise, the last
// commanded speed and angle and, when the drive sensor reports a rate, the speed in m/s.
func (sb *swerveBase) moduleStates(ctx context.Context) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, loc := range locations {
		m := sb.dt.Module(loc)
		state := map[string]interface{}{}
		heading, err := m.SteerHeading(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "%s steer heading", loc)
		}
		state["angle_deg"] = heading * 180 / math.Pi
		// tick-counted steering since the last odometry reset, for checking against the absolute encoder
		rotation, err := m.SteerRotation(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "%s steer rotation", loc)
		}
		continuous, err := m.ContinuousSteerHeading(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "%s continuous steer heading", loc)
		}
		state["steer_rotation_deg"] = rotation * 180 / math.Pi
		state["continuous_angle_deg"] = continuous * 180 / math.Pi
		state["commanded_speed"], state["commanded_angle_deg"] = m.Commanded()
		switch st, err := m.State(ctx); {
		case err == nil:
			state["speed_mps"] = st.Speed
		case !errors.Is(err, wheel.ErrNoVelocity):
			return nil, errors.Wrapf(err, "%s state", loc)
		}
		out[loc.String()] = state
	}
	return out, nil
}

func (sb *swerveBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return sb.geometries, nil
}

func (sb *swerveBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	cfg := sb.dt.Config()
	return base.Properties{
		WidthMeters:              2 * cfg.HalfWidth,
		WheelCircumferenceMeters: cfg.WheelCircumference,
	}, nil
}

func (sb *swerveBase) IsMoving(ctx context.Context) (bool, error) {
	return sb.isMoving.Load(), nil
}

// Close stops the wheels, the control loop and the bus.
func (sb *swerveBase) Close(ctx context.Context) error {
	sb.cancel()
	sb.activeBackgroundWorkers.Wait()
	if sb.bus != nil {
		return sb.bus.Close()
	}
	return nil
}

func (sb *swerveBase) setNextCommand(ctx context.Context, cmd loopCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sb.closed:
		return errClosed
	case sb.nextCommandCh <- cmd:
	}
	return nil
}

func floatArg(cmd map[string]interface{}, key string, optional bool) (float64, error) {
	raw, ok := cmd[key]
	if !ok {
		if optional {
			return 0, nil
		}
		return 0, errors.Errorf("%s must be set to a number", key)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, errors.Errorf("%s value must be a number but is type %T", key, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("%s value must be finite", key)
	}
	return v, nil
}

func poseArgs(cmd map[string]interface{}, xKey, yKey, thetaKey string, optional bool) (odometry.Pose2D, error) {
	var pose odometry.Pose2D
	var err error
	if pose.X, err = floatArg(cmd, xKey, optional); err != nil {
		return pose, err
	}
	if pose.Y, err = floatArg(cmd, yKey, optional); err != nil {
		return pose, err
	}
	if pose.Heading, err = floatArg(cmd, thetaKey, true); err != nil {
		return pose, err
	}
	return pose, nil
}

// moduleStatesArg parses "states": [[speed, angle] x4] in front-right, front-left, back-right,
// back-left order.
func moduleStatesArg(cmd map[string]interface{}) ([4]drivetrain.ModuleState, error) {
	var states [4]drivetrain.ModuleState
	raw, ok := cmd["states"].([]interface{})
	if !ok || len(raw) != len(states) {
		return states, errors.New("states must be a list of four [speed, angle] pairs")
	}
	for i, r := range raw {
		pair, ok := r.([]interface{})
		if !ok || len(pair) != 2 {
			return states, errors.Errorf("state %d must be a [speed, angle] pair", i)
		}
		speed, ok1 := pair[0].(float64)
		angle, ok2 := pair[1].(float64)
		if !ok1 || !ok2 {
			return states, errors.Errorf("state %d must hold numbers", i)
		}
		states[i] = drivetrain.ModuleState{Speed: speed, Angle: angle}
	}
	return states, nil
}
