//go:build ignore

// PID: 5D
// Name: Fuel injection timing
// Unit: °
// Bytes: 2
package dynamic

func Decode(a, b, c, d uint8) float64 {
	raw := float64(a)*256 + float64(b)
	return raw/128 - 210
}
