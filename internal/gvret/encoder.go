package gvret

import (
	"encoding/binary"
	"time"

	"github.com/canbridge/gvret-canet-gateway/internal/can"
)

// EncodeFrame builds the telemetry record sent to the client for a frame
// received from an adapter bus: f1 00, LE32 microsecond timestamp, LE32
// identifier (bit 31 set if extended), one byte packing bus (high nibble)
// and DLC (low nibble), the payload, and a trailing zero.
//
// It returns nil for remote frames and for frames whose DLC exceeds 8;
// both carry nothing forwardable.
func EncodeFrame(msg can.Message, elapsed time.Duration) []byte {
	data := msg.Data()
	if data == nil || msg.DLC() > can.MaxDLC {
		return nil
	}
	id := msg.ID()
	if msg.ExtID() {
		id |= 1 << 31
	}
	buf := make([]byte, 0, 12+len(data))
	buf = append(buf, CommandMarker, byte(BuildCanFrame))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(elapsed.Microseconds()))
	buf = binary.LittleEndian.AppendUint32(buf, id)
	buf = append(buf, msg.Bus()<<4|msg.DLC()&0x0F)
	buf = append(buf, data...)
	buf = append(buf, 0x00)
	return buf
}
