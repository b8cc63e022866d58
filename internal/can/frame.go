package can

import (
	"errors"
	"fmt"
)

const (
	// StdIDMask is the maximum value of a standard 11-bit CAN identifier.
	StdIDMask = 0x7FF
	// ExtIDMask is the maximum value of an extended 29-bit CAN identifier.
	ExtIDMask = 0x1FFFFFFF
	// MaxDLC is the maximum payload length of a classic CAN frame.
	MaxDLC = 8
)

// Validation errors returned by the Message constructors.
var (
	ErrIDTooLong   = errors.New("can: id too long")
	ErrDataTooLong = errors.New("can: data too long")
)

// Message is a single CAN bus message, either a data frame or a remote
// request frame, tagged with the logical bus (0 or 1) it belongs to.
// The zero value is a valid standard-ID data frame with id 0 on bus 0;
// decoded messages always come from NewData or NewRemote, which enforce
// the identifier and length ranges.
type Message struct {
	bus    uint8
	id     uint32
	extID  bool
	remote bool
	dlc    uint8
	data   []byte
}

func validateID(id uint32, extID bool) error {
	max := uint32(StdIDMask)
	if extID {
		max = ExtIDMask
	}
	if id > max {
		return ErrIDTooLong
	}
	return nil
}

// NewData builds a data frame. The payload is copied; it must not exceed
// MaxDLC bytes and the identifier must fit the selected ID space.
func NewData(bus uint8, id uint32, extID bool, data []byte) (Message, error) {
	if err := validateID(id, extID); err != nil {
		return Message{}, err
	}
	if len(data) > MaxDLC {
		return Message{}, ErrDataTooLong
	}
	d := make([]byte, len(data))
	copy(d, data)
	return Message{bus: bus, id: id, extID: extID, dlc: uint8(len(data)), data: d}, nil
}

// NewRemote builds a remote request frame carrying a declared length but
// no payload.
func NewRemote(bus uint8, id uint32, extID bool, dlc uint8) (Message, error) {
	if err := validateID(id, extID); err != nil {
		return Message{}, err
	}
	if dlc > MaxDLC {
		return Message{}, ErrDataTooLong
	}
	return Message{bus: bus, id: id, extID: extID, remote: true, dlc: dlc}, nil
}

// Bus returns the logical bus index the message belongs to.
func (m Message) Bus() uint8 { return m.bus }

// ID returns the CAN identifier without flag bits.
func (m Message) ID() uint32 { return m.id }

// ExtID reports whether the identifier is a 29-bit extended one.
func (m Message) ExtID() bool { return m.extID }

// IsRemote reports whether this is a remote request frame.
func (m Message) IsRemote() bool { return m.remote }

// DLC returns the payload length for data frames or the declared length
// for remote frames.
func (m Message) DLC() uint8 { return m.dlc }

// Data returns the payload. It is nil for remote frames.
func (m Message) Data() []byte {
	if m.remote {
		return nil
	}
	return m.data
}

func (m Message) String() string {
	if m.remote {
		return fmt.Sprintf("remote bus=%d id=0x%X ext=%t dlc=%d", m.bus, m.id, m.extID, m.dlc)
	}
	return fmt.Sprintf("data bus=%d id=0x%X ext=%t dlc=%d data=% X", m.bus, m.id, m.extID, m.dlc, m.data)
}
