package hardware

import (
	"math"

	"github.com/pkg/errors"
)

const bitsPerByte = 8

// Signal describes a scaled integer packed into a CAN payload.
type Signal struct {
	Scale  float64
	Offset float64
	// Start is the least significant bit of the signal in the payload.
	Start uint8
	// Length is the width in bits, at most 32.
	Length       uint8
	LittleEndian bool
	Signed       bool
}

// Signals used by the swerve controllers.
var (
	// SignalDutyCycle is the percent output of a motor command frame.
	SignalDutyCycle = Signal{Scale: 1.0 / 10000, Start: 0, Length: 16, LittleEndian: true, Signed: true}
	// SignalPosition is the integrated encoder position, in ticks, of a motor status frame.
	SignalPosition = Signal{Scale: 1, Start: 0, Length: 32, LittleEndian: true, Signed: true}
	// SignalVelocity is the encoder rate of a motor status frame. The controller reports ticks
	// per 100ms; the scale converts to ticks per second.
	SignalVelocity = Signal{Scale: 10, Start: 32, Length: 16, LittleEndian: true, Signed: true}
	// SignalAbsolutePosition is an absolute encoder reading in rotations, [0, 1).
	SignalAbsolutePosition = Signal{Scale: 1.0 / 65536, Start: 0, Length: 16, LittleEndian: true}
	// SignalYaw is the IMU yaw in degrees.
	SignalYaw = Signal{Scale: 1.0 / 256, Start: 0, Length: 32, LittleEndian: true, Signed: true}
)

func (s Signal) bounds(data []byte) (uint8, uint8, uint8, error) {
	if s.Length == 0 || s.Length > 32 {
		return 0, 0, 0, errors.Errorf("signal length %d out of range", s.Length)
	}
	msb := int(s.Start) + int(s.Length) - 1
	if msb > math.MaxUint8 {
		return 0, 0, 0, errors.Errorf("signal ends past bit %d", math.MaxUint8)
	}
	if msb/bitsPerByte >= len(data) {
		return 0, 0, 0, errors.Errorf("signal ends in byte %d of a %d byte payload", msb/bitsPerByte, len(data))
	}
	return uint8(msb), s.Start / bitsPerByte, uint8(msb / bitsPerByte), nil
}

// byteMask returns the bits of byte byteNum covered by a signal spanning payload bits lsb..msb.
func byteMask(byteNum, lsb, msb uint8) uint8 {
	first := int(byteNum) * bitsPerByte
	last := first + bitsPerByte - 1

	var lo, hi uint
	if int(lsb) > first {
		lo = uint(int(lsb) - first)
	}
	hi = bitsPerByte - 1
	if int(msb) < last {
		hi = uint(int(msb) - first)
	}
	return uint8((math.MaxUint8 << (hi + 1)) ^ (math.MaxUint8 << lo))
}

// Extract decodes the signal from data.
func (s Signal) Extract(data []byte) (float64, error) {
	msb, first, last, err := s.bounds(data)
	if err != nil {
		return 0, err
	}

	var raw uint64
	for i := first; i <= last; i++ {
		shift := i - first
		if !s.LittleEndian {
			shift = last - i
		}
		raw |= uint64(byteMask(i, s.Start, msb)&data[i]) << (uint(shift) * bitsPerByte)
	}
	raw >>= s.Start - bitsPerByte*first
	raw &= 1<<s.Length - 1

	value := float64(raw)
	if s.Signed && raw&(1<<(s.Length-1)) != 0 {
		value = float64(int64(raw) - 1<<s.Length)
	}
	return value*s.Scale + s.Offset, nil
}

// Insert encodes value into data, saturating at the signal range. Only little-endian signals
// can be inserted.
func (s Signal) Insert(data []byte, value float64) error {
	if !s.LittleEndian {
		return errors.New("only little-endian signals can be inserted")
	}
	if _, _, _, err := s.bounds(data); err != nil {
		return err
	}
	if math.IsNaN(value) {
		return errors.New("cannot encode NaN")
	}

	scaled := math.Round((value - s.Offset) / s.Scale)
	lo, hi := 0.0, float64(uint64(1)<<s.Length-1)
	if s.Signed {
		lo, hi = -float64(uint64(1)<<(s.Length-1)), float64(uint64(1)<<(s.Length-1)-1)
	}
	scaled = math.Max(lo, math.Min(hi, scaled))
	raw := uint64(int64(scaled)) & (1<<s.Length - 1)

	for k := uint8(0); k < s.Length; k++ {
		bit := int(s.Start) + int(k)
		mask := byte(1) << (bit % bitsPerByte)
		if raw&(1<<k) != 0 {
			data[bit/bitsPerByte] |= mask
		} else {
			data[bit/bitsPerByte] &^= mask
		}
	}
	return nil
}
