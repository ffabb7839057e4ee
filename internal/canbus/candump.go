package canbus

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/can"
)

// ToCAN converts the frame to the einride representation. Identifiers above
// the 11-bit range are flagged as extended.
func (f Frame) ToCAN() can.Frame {
	return can.Frame{
		ID:         f.ID,
		Length:     f.DLC,
		Data:       can.Data(f.Data),
		IsExtended: f.ID > MaxStandardID,
	}
}

// FromCAN converts an einride frame captured at ts.
func FromCAN(cf can.Frame, ts time.Time) Frame {
	return Frame{
		Timestamp: ts.UnixMilli(),
		ID:        cf.ID,
		DLC:       cf.Length,
		Data:      [8]byte(cf.Data),
	}
}

// String renders the frame in candump compact form, e.g. 7E8#03410C1AF8000000.
func (f Frame) String() string {
	return f.ToCAN().String()
}

// Parse reads a candump compact frame. A leading "(timestamp) iface" prefix as
// written by candump -l is accepted and ignored; ts stamps the result.
func Parse(s string, ts time.Time) (Frame, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Frame{}, fmt.Errorf("canbus: empty frame string")
	}
	var cf can.Frame
	if err := cf.UnmarshalString(fields[len(fields)-1]); err != nil {
		return Frame{}, fmt.Errorf("canbus: parse %q: %w", s, err)
	}
	if cf.IsRemote {
		return Frame{}, fmt.Errorf("canbus: remote frames are not supported")
	}
	return FromCAN(cf, ts), nil
}
