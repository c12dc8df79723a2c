package modbus

import (
	"fmt"

	"github.com/goburrow/modbus"
)

// Function codes used on the wire.
const (
	FuncReadCoils              byte = modbus.FuncCodeReadCoils
	FuncReadDiscreteInputs     byte = modbus.FuncCodeReadDiscreteInputs
	FuncReadHoldingRegisters   byte = modbus.FuncCodeReadHoldingRegisters
	FuncReadInputRegisters     byte = modbus.FuncCodeReadInputRegisters
	FuncWriteSingleCoil        byte = modbus.FuncCodeWriteSingleCoil
	FuncWriteSingleRegister    byte = modbus.FuncCodeWriteSingleRegister
	FuncWriteMultipleCoils     byte = modbus.FuncCodeWriteMultipleCoils
	FuncWriteMultipleRegisters byte = modbus.FuncCodeWriteMultipleRegisters
)

// Packager frames PDUs for a single slave using Frame.
type Packager struct {
	SlaveId byte
}

func (p *Packager) Encode(pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	return Frame{Address: p.SlaveId, Function: pdu.FunctionCode, Payload: pdu.Data}.Encode(), nil
}

func (p *Packager) Verify(aduRequest, aduResponse []byte) error {
	if len(aduResponse) < MinFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrShortFrame, len(aduResponse))
	}
	if aduResponse[0] != aduRequest[0] {
		return fmt.Errorf("modbus: response slave id %d does not match request %d", aduResponse[0], aduRequest[0])
	}
	return nil
}

func (p *Packager) Decode(adu []byte) (*modbus.ProtocolDataUnit, error) {
	f, err := DecodeFrame(adu)
	if err != nil {
		return nil, err
	}
	return &modbus.ProtocolDataUnit{FunctionCode: f.Function, Data: f.Payload}, nil
}
