// Package wire implements the MySQL client/server packet frame: parsing a
// length-prefixed packet out of a byte stream, classifying the command byte
// of a client packet, and building synthesized error packets.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPayloadLen is the largest payload length the 3-byte length header can
// express (2^24 - 1).
const MaxPayloadLen = 1<<24 - 1

// HeaderLen is the size of the packet header: 3 bytes of length plus 1 byte
// of sequence id.
const HeaderLen = 4

// ErrInvalidPacketType is returned by ClassifyCommand for a command byte
// outside the recognized set. It is a reporting error, not a framing error:
// the packet itself is still well-formed.
var ErrInvalidPacketType = errors.New("wire: invalid packet type")

// Packet is one complete MySQL protocol packet: a 4-byte header (3-byte
// little-endian payload length, 1-byte sequence id) followed by the
// payload. Bytes holds the whole packet, header included.
type Packet struct {
	Bytes []byte
}

// NewPacket builds a Packet from a payload and sequence id, computing the
// header itself. It returns an error if the payload exceeds MaxPayloadLen.
func NewPacket(payload []byte, seq byte) (Packet, error) {
	if len(payload) > MaxPayloadLen {
		return Packet{}, fmt.Errorf("wire: payload of %d bytes exceeds max packet size", len(payload))
	}
	buf := make([]byte, HeaderLen+len(payload))
	putLength(buf, len(payload))
	buf[3] = seq
	copy(buf[HeaderLen:], payload)
	return Packet{Bytes: buf}, nil
}

// Length returns the payload length encoded in the packet header.
func (p Packet) Length() int {
	return ParseLength(p.Bytes)
}

// SequenceID returns the packet's sequence id (byte 3).
func (p Packet) SequenceID() byte {
	return p.Bytes[3]
}

// Payload returns the packet's payload, i.e. everything after the 4-byte
// header.
func (p Packet) Payload() []byte {
	return p.Bytes[HeaderLen:]
}

// Clone returns a deep copy of the packet. Handlers that retain a packet
// beyond the call that handed it to them must clone it first.
func (p Packet) Clone() Packet {
	b := make([]byte, len(p.Bytes))
	copy(b, p.Bytes)
	return Packet{Bytes: b}
}

// ParseLength reads the 3-byte little-endian payload length from the start
// of header. header must have at least 3 bytes.
func ParseLength(header []byte) int {
	return int(header[0]) | int(header[1])<<8 | int(header[2])<<16
}

func putLength(buf []byte, l int) {
	buf[0] = byte(l)
	buf[1] = byte(l >> 8)
	buf[2] = byte(l >> 16)
}

// ExtractPacket applies the framing algorithm to buf[0:readPos]: if a
// complete packet is present at the front of the buffer, it returns a
// freshly allocated copy of it, the number of bytes consumed from the
// front, and true. Otherwise it returns false and the caller should wait
// for more bytes. ExtractPacket never blocks and never errors — framing
// errors are not part of this contract (spec §7).
func ExtractPacket(buf []byte, readPos int) (pkt Packet, consumed int, ok bool) {
	if readPos < HeaderLen {
		return Packet{}, 0, false
	}
	l := ParseLength(buf)
	size := HeaderLen + l
	if readPos < size {
		return Packet{}, 0, false
	}
	b := make([]byte, size)
	copy(b, buf[:size])
	return Packet{Bytes: b}, size, true
}

// CommandCode identifies a MySQL client command (byte 4 of a non-empty
// client-originated packet).
type CommandCode byte

// Recognized command codes, per spec.md §6.
const (
	ComSleep            CommandCode = 0x00
	ComQuit             CommandCode = 0x01
	ComInitDB           CommandCode = 0x02
	ComQuery            CommandCode = 0x03
	ComFieldList        CommandCode = 0x04
	ComCreateDB         CommandCode = 0x05
	ComDropDB           CommandCode = 0x06
	ComRefresh          CommandCode = 0x07
	ComShutdown         CommandCode = 0x08
	ComStatistics       CommandCode = 0x09
	ComProcessInfo      CommandCode = 0x0a
	ComConnect          CommandCode = 0x0b
	ComProcessKill      CommandCode = 0x0c
	ComDebug            CommandCode = 0x0d
	ComPing             CommandCode = 0x0e
	ComTime             CommandCode = 0x0f
	ComDelayedInsert    CommandCode = 0x10
	ComChangeUser       CommandCode = 0x11
	ComBinlogDump       CommandCode = 0x12
	ComTableDump        CommandCode = 0x13
	ComConnectOut       CommandCode = 0x14
	ComRegisterSlave    CommandCode = 0x15
	ComStmtPrepare      CommandCode = 0x16
	ComStmtExecute      CommandCode = 0x17
	ComStmtSendLongData CommandCode = 0x18
	ComStmtClose        CommandCode = 0x19
	ComStmtReset        CommandCode = 0x1a
	ComDaemon           CommandCode = 0x1d
	ComBinlogDumpGtid   CommandCode = 0x1e
	ComResetConnection  CommandCode = 0x1f
)

var commandNames = map[CommandCode]string{
	ComSleep:            "ComSleep",
	ComQuit:             "ComQuit",
	ComInitDB:           "ComInitDb",
	ComQuery:            "ComQuery",
	ComFieldList:        "ComFieldList",
	ComCreateDB:         "ComCreateDb",
	ComDropDB:           "ComDropDb",
	ComRefresh:          "ComRefresh",
	ComShutdown:         "ComShutdown",
	ComStatistics:       "ComStatistics",
	ComProcessInfo:      "ComProcessInfo",
	ComConnect:          "ComConnect",
	ComProcessKill:      "ComProcessKill",
	ComDebug:            "ComDebug",
	ComPing:             "ComPing",
	ComTime:             "ComTime",
	ComDelayedInsert:    "ComDelayedInsert",
	ComChangeUser:       "ComChangeUser",
	ComBinlogDump:       "ComBinlogDump",
	ComTableDump:        "ComTableDump",
	ComConnectOut:       "ComConnectOut",
	ComRegisterSlave:    "ComRegisterSlave",
	ComStmtPrepare:      "ComStmtPrepare",
	ComStmtExecute:      "ComStmtExecute",
	ComStmtSendLongData: "ComStmtSendLongData",
	ComStmtClose:        "ComStmtClose",
	ComStmtReset:        "ComStmtReset",
	ComDaemon:           "ComDaemon",
	ComBinlogDumpGtid:   "ComBinlogDumpGtid",
	ComResetConnection:  "ComResetConnection",
}

// String returns the command's name, or a hex fallback for unrecognized
// codes.
func (c CommandCode) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CommandCode(0x%02x)", byte(c))
}

// ClassifyCommand inspects byte 4 (the first payload byte) of a
// client-originated packet and returns its command code. It returns
// ErrInvalidPacketType for an empty payload or an unrecognized code —
// this is always a reporting error, never a framing error (spec §4.1,
// §7).
func ClassifyCommand(p Packet) (CommandCode, error) {
	payload := p.Payload()
	if len(payload) == 0 {
		return 0, ErrInvalidPacketType
	}
	code := CommandCode(payload[0])
	if _, ok := commandNames[code]; !ok {
		return code, ErrInvalidPacketType
	}
	return code, nil
}

// BuildErrorPacket synthesizes an ERR_Packet with sequence id 1, per
// spec.md §4.1 and §6:
//
//	payload = 0xFF ‖ code(LE u16) ‖ '#' ‖ state[5] ‖ message
//
// state must be exactly 5 bytes; shorter/longer values are still accepted
// and normalized (padded with spaces, truncated) so callers can pass a
// human-typed SQLSTATE without fuss.
func BuildErrorPacket(code uint16, state string, message string) (Packet, error) {
	sqlState := normalizeState(state)
	payload := make([]byte, 0, 9+len(message))
	payload = append(payload, 0xff)
	var codeBuf [2]byte
	binary.LittleEndian.PutUint16(codeBuf[:], code)
	payload = append(payload, codeBuf[:]...)
	payload = append(payload, '#')
	payload = append(payload, sqlState...)
	payload = append(payload, message...)
	return NewPacket(payload, 1)
}

func normalizeState(s string) string {
	if len(s) >= 5 {
		return s[:5]
	}
	return s + "     "[:5-len(s)]
}
