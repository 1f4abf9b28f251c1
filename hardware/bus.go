package hardware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"
	"golang.org/x/sys/unix"
)

// ErrNoTelemetry is returned when no frame has been received for a device yet.
var ErrNoTelemetry = errors.New("no telemetry received")

// ErrStaleTelemetry is returned when the last frame for a device is older than BusConfig.StaleAfter.
var ErrStaleTelemetry = errors.New("telemetry is stale")

// BusConfig configures a CAN bus transport.
type BusConfig struct {
	Channel string
	// Period is how often every actuator command is re-sent.
	Period time.Duration
	// CommsTimeout zeros every actuator when no command arrives for this long. Zero disables it.
	CommsTimeout time.Duration
	// StaleAfter rejects telemetry older than this. Zero accepts any age.
	StaleAfter time.Duration
}

// DefaultBusConfig returns the settings the swerve controllers expect.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Channel:      "can0",
		Period:       10 * time.Millisecond,
		CommsTimeout: time.Second,
		StaleAfter:   250 * time.Millisecond,
	}
}

type socket interface {
	Send(canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

type received struct {
	frame canbus.Frame
	at    time.Time
}

// Bus sends actuator commands and collects device telemetry over SocketCAN. Commands are
// heartbeated every period by a publish goroutine; frames are decoded on demand from the latest
// frame per ID.
type Bus struct {
	cfg    BusConfig
	clock  clock.Clock
	logger logging.Logger

	tx, rx        socket
	nextCommandCh chan canbus.Frame

	telemetryLock sync.RWMutex
	telemetry     map[uint32]received

	activeBackgroundWorkers sync.WaitGroup
	cancel                  func()
	closeOnce               sync.Once
}

// OpenBus binds send and receive sockets on cfg.Channel, listening only to telemetryIDs, and
// starts the publish and receive goroutines.
func OpenBus(cfg BusConfig, telemetryIDs []uint32, logger logging.Logger) (*Bus, error) {
	tx, err := canbus.New()
	if err != nil {
		return nil, err
	}
	if err := tx.Bind(cfg.Channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", cfg.Channel), tx.Close())
	}

	rx, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(err, tx.Close())
	}
	filters := make([]unix.CanFilter, 0, len(telemetryIDs))
	for _, id := range telemetryIDs {
		filters = append(filters, unix.CanFilter{Id: id, Mask: unix.CAN_SFF_MASK})
	}
	if err := rx.SetFilters(filters); err != nil {
		return nil, multierr.Combine(err, tx.Close(), rx.Close())
	}
	if err := rx.Bind(cfg.Channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", cfg.Channel), tx.Close(), rx.Close())
	}

	return newBus(cfg, tx, rx, clock.New(), logger), nil
}

func newBus(cfg BusConfig, tx, rx socket, clk clock.Clock, logger logging.Logger) *Bus {
	if cfg.Period <= 0 {
		cfg.Period = DefaultBusConfig().Period
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:           cfg,
		clock:         clk,
		logger:        logger,
		tx:            tx,
		rx:            rx,
		nextCommandCh: make(chan canbus.Frame),
		telemetry:     map[uint32]received{},
		cancel:        cancel,
	}
	b.activeBackgroundWorkers.Add(2)
	viamutils.ManagedGo(func() {
		b.publishThread(cancelCtx)
	}, b.activeBackgroundWorkers.Done)
	viamutils.ManagedGo(func() {
		b.receiveThread(cancelCtx)
	}, b.activeBackgroundWorkers.Done)
	return b
}

// publishThread re-sends the latest command for every actuator each period.
func (b *Bus) publishThread(ctx context.Context) {
	ticker := b.clock.Ticker(b.cfg.Period)
	defer ticker.Stop()

	commands := map[uint32]canbus.Frame{}
	lastCommand := b.clock.Now()
	timedOut := false

	for {
		select {
		case <-ctx.Done():
			b.sendAll(zeroed(commands))
			return
		case frame := <-b.nextCommandCh:
			commands[frame.ID] = frame
			lastCommand = b.clock.Now()
			if timedOut {
				b.logger.Infow("actuator commands resumed")
				timedOut = false
			}
			continue
		case <-ticker.C:
		}

		if b.cfg.CommsTimeout > 0 && b.clock.Since(lastCommand) > b.cfg.CommsTimeout {
			if !timedOut {
				b.logger.Warnw("no actuator command received, stopping all actuators", "timeout", b.cfg.CommsTimeout)
				timedOut = true
			}
			commands = zeroed(commands)
		}
		b.sendAll(commands)
	}
}

func (b *Bus) sendAll(commands map[uint32]canbus.Frame) {
	for id, frame := range commands {
		if _, err := b.tx.Send(frame); err != nil {
			b.logger.Errorw("command send error", "id", id, "error", err)
		}
	}
}

func zeroed(commands map[uint32]canbus.Frame) map[uint32]canbus.Frame {
	out := make(map[uint32]canbus.Frame, len(commands))
	for id := range commands {
		out[id] = commandFrame(id, 0)
	}
	return out
}

func commandFrame(id uint32, powerPct float64) canbus.Frame {
	frame := canbus.Frame{ID: id, Data: make([]byte, 8), Kind: canbus.SFF}
	// the payload is sized for the signal and the value is not NaN
	_ = SignalDutyCycle.Insert(frame.Data, powerPct)
	return frame
}

// receiveThread stores the latest frame for every ID.
func (b *Bus) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := b.rx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Errorw("CAN Rx error", "error", err)
			viamutils.SelectContextOrWait(ctx, b.cfg.Period)
			continue
		}
		b.telemetryLock.Lock()
		b.telemetry[frame.ID] = received{frame: frame, at: b.clock.Now()}
		b.telemetryLock.Unlock()
	}
}

func (b *Bus) setNextCommand(ctx context.Context, frame canbus.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.nextCommandCh <- frame:
	}
	return nil
}

// Read decodes sig from the latest frame received with id.
func (b *Bus) Read(id uint32, sig Signal) (float64, error) {
	b.telemetryLock.RLock()
	r, ok := b.telemetry[id]
	b.telemetryLock.RUnlock()
	if !ok {
		return 0, errors.Wrapf(ErrNoTelemetry, "id 0x%x", id)
	}
	if b.cfg.StaleAfter > 0 && b.clock.Since(r.at) > b.cfg.StaleAfter {
		return 0, errors.Wrapf(ErrStaleTelemetry, "id 0x%x", id)
	}
	return sig.Extract(r.frame.Data)
}

// Await blocks until a frame has been received for every id or ctx ends.
func (b *Bus) Await(ctx context.Context, ids ...uint32) error {
	for {
		missing := b.missing(ids)
		if len(missing) == 0 {
			return nil
		}
		if !viamutils.SelectContextOrWait(ctx, b.cfg.Period) {
			return errors.Wrapf(ctx.Err(), "waiting for telemetry from %d devices, first 0x%x", len(missing), missing[0])
		}
	}
}

func (b *Bus) missing(ids []uint32) []uint32 {
	b.telemetryLock.RLock()
	defer b.telemetryLock.RUnlock()
	var out []uint32
	for _, id := range ids {
		if _, ok := b.telemetry[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Close stops both goroutines, zeroing every actuator on the way out, and closes the sockets.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		// unblocks Recv
		err = b.rx.Close()
		b.activeBackgroundWorkers.Wait()
		err = multierr.Combine(err, b.tx.Close())
	})
	return err
}

// Actuator returns the motor controller listening for commands on id.
func (b *Bus) Actuator(id uint32) Actuator {
	return busActuator{bus: b, id: id}
}

// MotorSensor returns the position and velocity reported by the motor controller on id.
func (b *Bus) MotorSensor(id uint32) TickRateTicks {
	return busMotorSensor{bus: b, id: id}
}

// AbsoluteEncoder returns the absolute encoder reporting on id.
func (b *Bus) AbsoluteEncoder(id uint32) AngleSensor {
	return busSignal{bus: b, id: id, sig: SignalAbsolutePosition}
}

// IMU returns the yaw reported on id.
func (b *Bus) IMU(id uint32) YawSensor {
	return busSignal{bus: b, id: id, sig: SignalYaw}
}

// TickRateTicks is a tick sensor that also reports its rate.
type TickRateTicks interface {
	TickSensor
	TickRateSensor
}

type busActuator struct {
	bus *Bus
	id  uint32
}

func (a busActuator) SetPower(ctx context.Context, powerPct float64) error {
	if math.IsNaN(powerPct) {
		return errors.Errorf("actuator 0x%x: power is not a number", a.id)
	}
	return a.bus.setNextCommand(ctx, commandFrame(a.id, math.Max(-1, math.Min(1, powerPct))))
}

type busMotorSensor struct {
	bus *Bus
	id  uint32
}

func (s busMotorSensor) Ticks(ctx context.Context) (float64, error) {
	return s.bus.Read(s.id, SignalPosition)
}

func (s busMotorSensor) TicksPerSecond(ctx context.Context) (float64, error) {
	return s.bus.Read(s.id, SignalVelocity)
}

type busSignal struct {
	bus *Bus
	id  uint32
	sig Signal
}

func (s busSignal) Rotation(ctx context.Context) (float64, error) {
	return s.bus.Read(s.id, s.sig)
}

func (s busSignal) YawDegrees(ctx context.Context) (float64, error) {
	return s.bus.Read(s.id, s.sig)
}
