package obd

// Supported-PID queries are sent for block PIDs 0x00, 0x20, 0x40, ... and the
// answer carries 32 flags for block+1 .. block+32.
const pidsPerBlock = 32

// ParseSupportedPIDs reads the 32-bit mask at data[3:7] (big-endian, MSB
// first) and returns the supported PIDs in ascending order. Missing bytes read
// as zero; codes past 0xFF are dropped.
func ParseSupportedPIDs(data []byte, startPID uint8) []uint8 {
	supported := []uint8{}
	for i := 0; i < 4; i++ {
		idx := offsetA + i
		if idx >= len(data) {
			break
		}
		for bit := 0; bit < 8; bit++ {
			if data[idx]&(0x80>>bit) == 0 {
				continue
			}
			pid := int(startPID) + i*8 + bit + 1
			if pid > 0xFF {
				continue
			}
			supported = append(supported, uint8(pid))
		}
	}
	return supported
}

// EncodeSupportedPIDs builds the 4 mask bytes announcing pids for block.
// PIDs outside block+1 .. block+32 are ignored.
func EncodeSupportedPIDs(block uint8, pids []uint8) [4]byte {
	var mask uint32
	for _, pid := range pids {
		offset := int(pid) - (int(block) + 1)
		if offset < 0 || offset >= pidsPerBlock {
			continue
		}
		mask |= 1 << (31 - offset)
	}
	return [4]byte{
		byte(mask >> 24),
		byte(mask >> 16),
		byte(mask >> 8),
		byte(mask),
	}
}

// IsSupportBlock reports whether pid is one of the supported-PID query codes.
func IsSupportBlock(pid uint8) bool {
	return pid%pidsPerBlock == 0
}
