// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package wire defines the on-wire datagram layout shared by the sender and
// receiver: a fixed 14-byte header followed by one fountain-coded symbol.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed header length in bytes, independent of payload.
const HeaderSize = 14

// Version is the only protocol version this implementation speaks.
// Receivers MUST drop datagrams carrying any other value.
const Version = 1

// Flag bits within the single flags byte.
const (
	FlagEndOfSession byte = 1 << 0 // last block of the session
	FlagSessionOpen  byte = 1 << 1 // first block of the session
	FlagHeartbeat    byte = 1 << 2 // content-less liveness datagram
	FlagRepair       byte = 1 << 3 // symbol is a repair (parity) symbol
	// FlagCompressed is a godiode extension: spec.md's header table only
	// assigns bits 0-3 of the flags byte, leaving bit4 free. It records
	// whether the block's payload was snappy-compressed by internal/compress
	// before fountain encoding. See SPEC_FULL.md §4 supplement 1.
	FlagCompressed byte = 1 << 4
)

// HeartbeatSessionID is the reserved synthetic session id carried by every
// heartbeat datagram (spec.md §6: "All heartbeats set session_id = 0").
const HeartbeatSessionID uint32 = 0

// ErrUnsupportedVersion is returned when a datagram's version byte doesn't
// match Version. Callers MUST drop the datagram and count it, never panic.
var ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")

// ErrShortHeader is returned when a datagram is too small to contain a header.
var ErrShortHeader = errors.New("wire: datagram shorter than header")

// Header is the decoded form of the fixed 14-byte datagram prefix.
type Header struct {
	Version      byte
	Flags        byte
	SessionID    uint32
	BlockSeq     uint32
	SymbolIndex  uint16
	K            uint16
}

// EndOfSession reports whether this datagram belongs to the session's final block.
func (h Header) EndOfSession() bool { return h.Flags&FlagEndOfSession != 0 }

// SessionOpen reports whether this datagram belongs to the session's opening marker block.
func (h Header) SessionOpen() bool { return h.Flags&FlagSessionOpen != 0 }

// Heartbeat reports whether this datagram is a content-less liveness probe.
func (h Header) Heartbeat() bool { return h.Flags&FlagHeartbeat != 0 }

// Repair reports whether the symbol carried is a repair (parity) symbol.
func (h Header) Repair() bool { return h.Flags&FlagRepair != 0 }

// Compressed reports whether the block's payload was snappy-compressed
// before fountain encoding (godiode extension, see FlagCompressed).
func (h Header) Compressed() bool { return h.Flags&FlagCompressed != 0 }

// Encode writes the header followed by payload into a freshly allocated
// datagram buffer of exactly HeaderSize+len(payload) bytes.
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = h.Version
	buf[1] = h.Flags
	binary.BigEndian.PutUint32(buf[2:6], h.SessionID)
	binary.BigEndian.PutUint32(buf[6:10], h.BlockSeq)
	binary.BigEndian.PutUint16(buf[10:12], h.SymbolIndex)
	binary.BigEndian.PutUint16(buf[12:14], h.K)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses a datagram into its header and returns the payload slice,
// which aliases the input (no copy). Callers that retain the payload beyond
// the lifetime of the receive buffer must copy it themselves.
func Decode(datagram []byte) (Header, []byte, error) {
	if len(datagram) < HeaderSize {
		return Header{}, nil, ErrShortHeader
	}
	h := Header{
		Version:     datagram[0],
		Flags:       datagram[1],
		SessionID:   binary.BigEndian.Uint32(datagram[2:6]),
		BlockSeq:    binary.BigEndian.Uint32(datagram[6:10]),
		SymbolIndex: binary.BigEndian.Uint16(datagram[10:12]),
		K:           binary.BigEndian.Uint16(datagram[12:14]),
	}
	if h.Version != Version {
		return h, nil, errors.WithStack(ErrUnsupportedVersion)
	}
	return h, datagram[HeaderSize:], nil
}

// Heartbeat builds a complete heartbeat datagram: reserved identity fields,
// the heartbeat flag, and no payload.
func Heartbeat() []byte {
	return Encode(Header{
		Version:   Version,
		Flags:     FlagHeartbeat,
		SessionID: HeartbeatSessionID,
	}, nil)
}

// SymbolSize derives the fountain symbol payload size from the configured
// UDP MTU, per spec.md §4.3: MTU - IP(20) - UDP(8) - protocol header.
func SymbolSize(mtu int) int {
	return mtu - 20 - 8 - HeaderSize
}
