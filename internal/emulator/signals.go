package emulator

import (
	"github.com/chuanjin/obdbridge/internal/canbus"
)

// Signal is one decoded telemetry value.
type Signal struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// DecodeTelemetry reverses the telemetry frame encodings. It returns false
// for identifiers the telemetry model does not produce.
func DecodeTelemetry(f canbus.Frame) (Signal, bool) {
	le16 := float64(uint16(f.Data[0]) | uint16(f.Data[1])<<8)

	switch f.ID {
	case IDSpeed:
		return Signal{Name: "Vehicle speed", Value: le16 / 100, Unit: "km/h"}, true
	case IDRPM:
		return Signal{Name: "Engine speed", Value: le16, Unit: "rpm"}, true
	case IDTemperature:
		return Signal{Name: "Coolant temperature", Value: float64(f.Data[0]), Unit: "°C"}, true
	case IDStatus:
		return Signal{Name: "Status bits", Value: float64(f.Data[0]), Unit: "bitfield"}, true
	default:
		return Signal{}, false
	}
}
