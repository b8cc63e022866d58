// Package gvret implements the binary analysis protocol spoken by bus
// tooling such as SavvyCAN: a one-byte handshake, 0xF1-prefixed commands,
// and a fixed telemetry encoding for forwarded CAN frames.
package gvret

import (
	"encoding/binary"
	"time"
)

// Protocol marker bytes.
const (
	// BinaryMarker switches a fresh connection into binary mode.
	BinaryMarker = 0xE7
	// CommandMarker prefixes every command and every reply.
	CommandMarker = 0xF1
)

// Mode tracks the handshake state of one client connection. The transition
// Init -> Binary happens at most once; Command classifies the prefix byte
// while a command is being dispatched.
type Mode uint8

const (
	ModeInit Mode = iota
	ModeBinary
	ModeCommand
)

func (m Mode) String() string {
	switch m {
	case ModeBinary:
		return "binary"
	case ModeCommand:
		return "command"
	default:
		return "init"
	}
}

// Command is a GVRET command identifier.
type Command uint8

const (
	BuildCanFrame   Command = 0
	TimeSync        Command = 1
	DigInputs       Command = 2
	AnaInputs       Command = 3
	SetDigOut       Command = 4
	SetupCanBus     Command = 5
	GetCanBusParams Command = 6
	GetDevInfo      Command = 7
	SetSwMode       Command = 8
	KeepAlive       Command = 9
	SetSysType      Command = 10
	EchoCanFrame    Command = 11
	GetNumBuses     Command = 12
	GetExtBuses     Command = 13
	SetExtBuses     Command = 14
	BuildFdFrame    Command = 20
	SetupFd         Command = 21
	GetFd           Command = 22
)

// commandOf maps a raw command byte to its Command; unknown values fall
// back to BuildCanFrame, matching device firmware behavior.
func commandOf(b byte) Command {
	switch c := Command(b); c {
	case BuildCanFrame, TimeSync, DigInputs, AnaInputs, SetDigOut,
		SetupCanBus, GetCanBusParams, GetDevInfo, SetSwMode, KeepAlive,
		SetSysType, EchoCanFrame, GetNumBuses, GetExtBuses, SetExtBuses,
		BuildFdFrame, SetupFd, GetFd:
		return c
	default:
		return BuildCanFrame
	}
}

func (c Command) String() string {
	switch c {
	case BuildCanFrame:
		return "build_can_frame"
	case TimeSync:
		return "time_sync"
	case DigInputs:
		return "dig_inputs"
	case AnaInputs:
		return "ana_inputs"
	case SetDigOut:
		return "set_dig_out"
	case SetupCanBus:
		return "setup_can_bus"
	case GetCanBusParams:
		return "get_can_bus_params"
	case GetDevInfo:
		return "get_dev_info"
	case SetSwMode:
		return "set_sw_mode"
	case KeepAlive:
		return "keep_alive"
	case SetSysType:
		return "set_sys_type"
	case EchoCanFrame:
		return "echo_can_frame"
	case GetNumBuses:
		return "get_num_buses"
	case GetExtBuses:
		return "get_ext_buses"
	case SetExtBuses:
		return "set_ext_buses"
	case BuildFdFrame:
		return "build_fd_frame"
	case SetupFd:
		return "setup_fd"
	case GetFd:
		return "get_fd"
	default:
		return "unknown"
	}
}

// busBaudRate is reported in GetCanBusParams replies. The real bit rate is
// configured on the adapter itself; this value only satisfies the client.
const busBaudRate uint32 = 500_000

func devInfoReply() []byte {
	return []byte{CommandMarker, byte(GetDevInfo), 0x6A, 0x02, 0x20, 0x00, 0x00, 0x00}
}

func keepAliveReply() []byte {
	return []byte{CommandMarker, byte(KeepAlive), 0xDE, 0xAD}
}

func extBusesReply() []byte {
	b := make([]byte, 17)
	b[0] = CommandMarker
	b[1] = byte(GetExtBuses)
	return b
}

func numBusesReply(buses uint8) []byte {
	return []byte{CommandMarker, byte(GetNumBuses), buses}
}

func canBusParamsReply(dual bool) []byte {
	buf := make([]byte, 0, 12)
	buf = append(buf, CommandMarker, byte(GetCanBusParams), 0x01)
	buf = binary.LittleEndian.AppendUint32(buf, busBaudRate)
	if dual {
		buf = append(buf, 0x01)
		buf = binary.LittleEndian.AppendUint32(buf, busBaudRate)
	}
	return buf
}

func timeSyncReply(elapsed time.Duration) []byte {
	buf := make([]byte, 0, 6)
	buf = append(buf, CommandMarker, byte(TimeSync))
	return binary.LittleEndian.AppendUint32(buf, uint32(elapsed.Microseconds()))
}
