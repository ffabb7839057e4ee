//go:build ignore

// PID: 5C
// Name: Engine oil temperature
// Unit: °C
// Bytes: 1
package dynamic

func Decode(a, b, c, d uint8) float64 {
	return float64(a) - 40
}
