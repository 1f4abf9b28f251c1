package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"swerve/drivetrain"
	"swerve/kinematics"
	"swerve/odometry"
)

type loopMode int

const (
	modeStop loopMode = iota
	modePercent
	modeRobotSpeeds
	modeFieldSpeeds
	modeDriveToPoseOdometry
	modeDriveToPoseVision
	modeDriveToPoseCombo
	modeTurnToPoint
	modeModuleStates
	modeReset
)

func (m loopMode) String() string {
	switch m {
	case modeStop:
		return "stop"
	case modePercent:
		return "percent"
	case modeRobotSpeeds:
		return "robot_speeds"
	case modeFieldSpeeds:
		return "field_speeds"
	case modeDriveToPoseOdometry:
		return "drive_to_pose"
	case modeDriveToPoseVision:
		return "drive_to_pose_vision"
	case modeDriveToPoseCombo:
		return "drive_to_pose_combo"
	case modeTurnToPoint:
		return "turn_to_point"
	case modeModuleStates:
		return "set_module_states"
	case modeReset:
		return "reset_odometry"
	default:
		return "unknown"
	}
}

// streaming modes must be refreshed within the comms timeout; pose modes hold until replaced.
func (m loopMode) streaming() bool {
	switch m {
	case modePercent, modeRobotSpeeds, modeFieldSpeeds, modeTurnToPoint, modeModuleStates:
		return true
	default:
		return false
	}
}

// posed modes run the pose loops.
func (m loopMode) posed() bool {
	switch m {
	case modeDriveToPoseOdometry, modeDriveToPoseVision, modeDriveToPoseCombo, modeTurnToPoint:
		return true
	default:
		return false
	}
}

// loopCommand is the latest request handed to the control thread.
type loopCommand struct {
	mode    loopMode
	percent kinematics.Percent
	speeds  kinematics.ChassisSpeeds
	target  odometry.Pose2D
	vision  odometry.Pose2D
	refresh time.Duration
	point   odometry.Translation2D
	states  [4]drivetrain.ModuleState
	// done receives the outcome of a reset once it has been applied.
	done chan error
}

// controlThread owns the drivetrain. Each period it integrates odometry and then re-issues the
// current command. A streaming command that is not refreshed within the comms timeout stops
// the wheels.
func (sb *swerveBase) controlThread(ctx context.Context) {
	ticker := sb.clock.Ticker(sb.cfg.loopPeriod())
	defer ticker.Stop()

	current := loopCommand{mode: modeStop}
	commsTimeout := sb.clock.Now().Add(sb.cfg.commsTimeout())
	var lastErr string

	for {
		if ctx.Err() != nil {
			if err := sb.dt.Stop(context.Background()); err != nil {
				sb.logger.Errorw("stop on shutdown failed", "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			continue
		case cmd := <-sb.nextCommandCh:
			if cmd.mode == modeReset {
				err := sb.dt.ResetOdometryTo(ctx, cmd.target)
				if cmd.done != nil {
					cmd.done <- err
				}
				continue
			}
			if cmd.mode.posed() && cmd.mode != current.mode {
				sb.dt.RestartPoseLoops(cmd.mode == modeDriveToPoseVision)
			}
			current = cmd
			commsTimeout = sb.clock.Now().Add(sb.cfg.commsTimeout())
			sb.isMoving.Store(cmd.mode != modeStop)
			sb.logger.Debugw("control mode", "mode", current.mode.String())
		case <-ticker.C:
		}

		if current.mode.streaming() && sb.clock.Now().After(commsTimeout) {
			sb.logger.Warnw("no command within comms timeout, stopping", "mode", current.mode.String())
			current = loopCommand{mode: modeStop}
			sb.isMoving.Store(false)
		}

		err := sb.step(ctx, current)
		switch {
		case err != nil && err.Error() != lastErr:
			sb.logger.Errorw("control step failed", "mode", current.mode.String(), "error", err)
			lastErr = err.Error()
		case err == nil && lastErr != "":
			sb.logger.Infow("control step recovered", "mode", current.mode.String())
			lastErr = ""
		}
	}
}

// step integrates odometry and issues one cycle of cmd. Modes that steer from the odometry
// pose stop instead when odometry cannot be updated.
func (sb *swerveBase) step(ctx context.Context, cmd loopCommand) error {
	_, odoErr := sb.dt.UpdateOdometry(ctx)
	if odoErr != nil {
		odoErr = errors.Wrap(odoErr, "updating odometry")
		switch cmd.mode {
		case modeDriveToPoseOdometry, modeDriveToPoseCombo, modeTurnToPoint:
			return multierr.Combine(odoErr, sb.dt.Stop(ctx))
		default:
		}
	}
	return multierr.Combine(odoErr, sb.drive(ctx, cmd))
}

func (sb *swerveBase) drive(ctx context.Context, cmd loopCommand) error {
	switch cmd.mode {
	case modePercent:
		return sb.dt.DrivePercent(ctx, cmd.percent)
	case modeRobotSpeeds:
		return sb.dt.DriveRobotOriented(ctx, cmd.speeds)
	case modeFieldSpeeds:
		return sb.dt.DriveFieldOriented(ctx, cmd.speeds)
	case modeDriveToPoseOdometry:
		return sb.dt.DriveToPoseOdometry(ctx, cmd.target)
	case modeDriveToPoseVision:
		return sb.dt.DriveToPoseVision(ctx, cmd.target)
	case modeDriveToPoseCombo:
		return sb.dt.DriveToPoseCombo(ctx, cmd.vision, cmd.target, cmd.refresh)
	case modeTurnToPoint:
		return sb.dt.TurnToPointWhileDriving(ctx, cmd.percent.Forward, cmd.percent.Strafe, cmd.point)
	case modeModuleStates:
		return sb.dt.SetModuleStates(ctx, cmd.states)
	default:
		return sb.dt.Stop(ctx)
	}
}
