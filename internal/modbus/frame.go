package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MinFrameLength is address + function + one payload byte + checksum.
const MinFrameLength = 5

var (
	ErrShortFrame       = errors.New("modbus: short frame")
	ErrChecksumMismatch = errors.New("modbus: checksum mismatch")
)

// Frame is an RTU application data unit without its checksum.
type Frame struct {
	Address  byte
	Function byte
	Payload  []byte
}

// Encode returns [address][function][payload][crc16 little-endian].
func (f Frame) Encode() []byte {
	adu := make([]byte, 0, len(f.Payload)+4)
	adu = append(adu, f.Address, f.Function)
	adu = append(adu, f.Payload...)
	crc := CRC16(adu)
	return binary.LittleEndian.AppendUint16(adu, crc)
}

// DecodeFrame validates the length and checksum of adu and splits it.
// The returned payload aliases adu.
func DecodeFrame(adu []byte) (Frame, error) {
	if len(adu) < MinFrameLength {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(adu))
	}
	body := adu[:len(adu)-2]
	received := binary.LittleEndian.Uint16(adu[len(adu)-2:])
	if computed := CRC16(body); computed != received {
		return Frame{}, fmt.Errorf("%w: received 0x%04x, computed 0x%04x", ErrChecksumMismatch, received, computed)
	}
	return Frame{
		Address:  body[0],
		Function: body[1],
		Payload:  body[2:],
	}, nil
}

// responseLength returns the full length of a response whose first
// MinFrameLength bytes are header, or 0 when the function is unknown.
func responseLength(header []byte) int {
	function := header[1]
	if function&0x80 != 0 {
		// Exception: address, function, code, crc.
		return MinFrameLength
	}
	switch function {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		return 3 + int(header[2]) + 2
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return 8
	}
	return 0
}

// RequestLength is the equivalent of responseLength for requests, used by
// slaves reading from a stream. header must hold at least 7 bytes.
func RequestLength(header []byte) int {
	switch header[1] {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncWriteSingleCoil, FuncWriteSingleRegister:
		return 8
	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return 7 + int(header[6]) + 2
	}
	return 0
}
