// Package marketdata implements the ingress side of the pipeline: the wire
// codec for the little-endian market-data envelope, the gateway that decodes
// raw messages and fans ticks out to per-symbol book workers, and the
// synthetic feed used by the demo and integration tests.
package marketdata

import (
	"encoding/binary"
	"fmt"

	"github.com/nanoexch/engine/internal/core"
)

// Message types carried in the envelope header.
const (
	MsgMDIncremental uint8 = 1
	MsgMDSnapshot    uint8 = 2
	MsgNewOrder      uint8 = 3
	MsgCancel        uint8 = 4
	MsgTradeReport   uint8 = 5
)

// Wire sizes in bytes.
const (
	HeaderSize           = 8
	IncrementalSize      = HeaderSize + 32
	SnapshotFixedSize    = HeaderSize + 16
	SnapshotLevelSize    = 24
	protocolVersion      = 1
	maxSnapshotLevelsMsg = 2048 // keeps Length within its 16-bit field
)

// Header is the 8-byte envelope prefix common to every message.
type Header struct {
	MessageType uint8
	Version     uint8
	Length      uint16
	SequenceNum uint32
}

// Incremental is one level update for a symbol.
type Incremental struct {
	Header            Header
	SymbolID          uint32
	Price             uint64
	Quantity          uint64
	Side              core.Side
	ExchangeTimestamp uint64
}

// SnapshotLevel is one level inside a snapshot message.
type SnapshotLevel struct {
	Price    uint64
	Quantity uint64
	Side     core.Side
}

// Snapshot is a full-depth book image for a symbol.
type Snapshot struct {
	Header            Header
	SymbolID          uint32
	ExchangeTimestamp uint64
	Levels            []SnapshotLevel
}

// DecodeHeader reads the envelope prefix. Short buffers are parse errors.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", core.ErrParse, HeaderSize, len(data))
	}
	return Header{
		MessageType: data[0],
		Version:     data[1],
		Length:      binary.LittleEndian.Uint16(data[2:4]),
		SequenceNum: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

func encodeHeader(buf []byte, h Header) {
	buf[0] = h.MessageType
	buf[1] = h.Version
	binary.LittleEndian.PutUint16(buf[2:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.SequenceNum)
}

// DecodeIncremental parses an MDIncremental message including its header.
func DecodeIncremental(data []byte) (Incremental, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return Incremental{}, err
	}
	if len(data) < IncrementalSize {
		return Incremental{}, fmt.Errorf("%w: incremental needs %d bytes, got %d", core.ErrParse, IncrementalSize, len(data))
	}
	p := data[HeaderSize:]
	side, err := decodeSide(p[20])
	if err != nil {
		return Incremental{}, err
	}
	return Incremental{
		Header:            h,
		SymbolID:          binary.LittleEndian.Uint32(p[0:4]),
		Price:             binary.LittleEndian.Uint64(p[4:12]),
		Quantity:          binary.LittleEndian.Uint64(p[12:20]),
		Side:              side,
		ExchangeTimestamp: binary.LittleEndian.Uint64(p[24:32]),
	}, nil
}

// EncodeIncremental renders the message in wire form.
func EncodeIncremental(m Incremental) []byte {
	buf := make([]byte, IncrementalSize)
	m.Header.MessageType = MsgMDIncremental
	m.Header.Version = protocolVersion
	m.Header.Length = IncrementalSize
	encodeHeader(buf, m.Header)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.SymbolID)
	binary.LittleEndian.PutUint64(p[4:12], m.Price)
	binary.LittleEndian.PutUint64(p[12:20], m.Quantity)
	p[20] = uint8(m.Side)
	binary.LittleEndian.PutUint64(p[24:32], m.ExchangeTimestamp)
	return buf
}

// DecodeSnapshot parses an MDSnapshot message including its header. The
// declared level count must fit the buffer exactly or the message is dropped.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return Snapshot{}, err
	}
	if len(data) < SnapshotFixedSize {
		return Snapshot{}, fmt.Errorf("%w: snapshot needs %d bytes, got %d", core.ErrParse, SnapshotFixedSize, len(data))
	}
	p := data[HeaderSize:]
	numLevels := binary.LittleEndian.Uint32(p[4:8])
	if numLevels > maxSnapshotLevelsMsg {
		return Snapshot{}, fmt.Errorf("%w: snapshot declares %d levels", core.ErrParse, numLevels)
	}
	need := SnapshotFixedSize + int(numLevels)*SnapshotLevelSize
	if len(data) < need {
		return Snapshot{}, fmt.Errorf("%w: snapshot needs %d bytes for %d levels, got %d", core.ErrParse, need, numLevels, len(data))
	}

	s := Snapshot{
		Header:            h,
		SymbolID:          binary.LittleEndian.Uint32(p[0:4]),
		ExchangeTimestamp: binary.LittleEndian.Uint64(p[8:16]),
		Levels:            make([]SnapshotLevel, numLevels),
	}
	lv := data[SnapshotFixedSize:]
	for i := uint32(0); i < numLevels; i++ {
		off := int(i) * SnapshotLevelSize
		side, err := decodeSide(lv[off+16])
		if err != nil {
			return Snapshot{}, err
		}
		s.Levels[i] = SnapshotLevel{
			Price:    binary.LittleEndian.Uint64(lv[off : off+8]),
			Quantity: binary.LittleEndian.Uint64(lv[off+8 : off+16]),
			Side:     side,
		}
	}
	return s, nil
}

// EncodeSnapshot renders the message in wire form. Levels beyond the
// per-message cap are dropped so the declared Length always fits its 16-bit
// field; callers with deeper books send the remainder in another message.
func EncodeSnapshot(s Snapshot) []byte {
	levels := s.Levels
	if len(levels) > maxSnapshotLevelsMsg {
		levels = levels[:maxSnapshotLevelsMsg]
	}
	total := SnapshotFixedSize + len(levels)*SnapshotLevelSize
	buf := make([]byte, total)
	s.Header.MessageType = MsgMDSnapshot
	s.Header.Version = protocolVersion
	s.Header.Length = uint16(total)
	encodeHeader(buf, s.Header)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], s.SymbolID)
	binary.LittleEndian.PutUint32(p[4:8], uint32(len(levels)))
	binary.LittleEndian.PutUint64(p[8:16], s.ExchangeTimestamp)
	lv := buf[SnapshotFixedSize:]
	for i, l := range levels {
		off := i * SnapshotLevelSize
		binary.LittleEndian.PutUint64(lv[off:off+8], l.Price)
		binary.LittleEndian.PutUint64(lv[off+8:off+16], l.Quantity)
		lv[off+16] = uint8(l.Side)
	}
	return buf
}

func decodeSide(b uint8) (core.Side, error) {
	switch b {
	case 0:
		return core.SideBuy, nil
	case 1:
		return core.SideSell, nil
	default:
		return 0, fmt.Errorf("%w: side byte %d", core.ErrParse, b)
	}
}
