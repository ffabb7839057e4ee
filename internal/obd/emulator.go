package obd

import (
	"math"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
)

// EmulatedECU is the response identifier used by the emulator.
const EmulatedECU = canbus.OBDResponseFirst

// PIDs answered by EmulateResponse.
const (
	PIDEngineRPM    = 0x0C
	PIDVehicleSpeed = 0x0D
)

// DefaultEmulatedPIDs is the PID set the emulator announces as supported.
var DefaultEmulatedPIDs = []uint8{PIDEngineRPM, PIDVehicleSpeed}

// EmulateResponse synthesizes the ECU answer to a service 01 request for pid.
// Values follow slow sine waves over wall-clock milliseconds.
func EmulateResponse(pid uint8, now time.Time) (canbus.Frame, bool) {
	ms := float64(now.UnixMilli())

	switch pid {
	case PIDEngineRPM:
		rpm := math.Max(700, 800+math.Sin(ms/300)*2000)
		raw := uint16(math.Floor(rpm * 4))
		return canbus.New(now, EmulatedECU,
			0x04, ResponseCurrentData, PIDEngineRPM, byte(raw>>8), byte(raw)), true

	case PIDVehicleSpeed:
		speed := math.Floor(math.Abs(math.Sin(ms/1000)) * 120)
		return canbus.New(now, EmulatedECU,
			0x03, ResponseCurrentData, PIDVehicleSpeed, byte(speed)), true

	default:
		return canbus.Frame{}, false
	}
}

// EmulatePIDSupport answers a supported-PIDs query for block.
func EmulatePIDSupport(block uint8, supported []uint8, now time.Time) canbus.Frame {
	mask := EncodeSupportedPIDs(block, supported)
	return canbus.New(now, EmulatedECU,
		0x06, ResponseCurrentData, block, mask[0], mask[1], mask[2], mask[3])
}
