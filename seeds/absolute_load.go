//go:build ignore

// PID: 43
// Name: Absolute load value
// Unit: %
// Bytes: 2
package dynamic

func Decode(a, b, c, d uint8) float64 {
	return (float64(a)*256 + float64(b)) * 100 / 255
}
