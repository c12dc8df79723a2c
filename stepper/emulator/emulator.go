// Package emulator serves the stepper controller's register map over an
// in-memory RTU link, backed by a simulated mount.
package emulator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/w1xm/radiotelescope/internal/modbus"
	"github.com/w1xm/radiotelescope/rotator"
	"github.com/w1xm/radiotelescope/simulator"
	"github.com/w1xm/radiotelescope/stepper"
	"golang.org/x/sync/errgroup"
)

// frameGap is the silence that ends a frame whose length is unknown.
const frameGap = 5 * time.Millisecond

// Modbus exception codes.
const (
	exIllegalFunction    = 0x01
	exIllegalAddress     = 0x02
	exIllegalValue       = 0x03
	exSlaveDeviceFailure = 0x04
)

type Emulator struct {
	SlaveID byte

	conn net.Conn
	sim  *simulator.Simulator

	mu      sync.Mutex
	corrupt int
	served  int
}

// New returns an emulator and the master's end of the link.
func New(sim *simulator.Simulator) (*Emulator, net.Conn) {
	a, b := net.Pipe()
	return &Emulator{SlaveID: 1, conn: a, sim: sim}, b
}

// CorruptNext flips a checksum bit in the next response.
func (e *Emulator) CorruptNext() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.corrupt++
}

// Served returns the number of requests answered.
func (e *Emulator) Served() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.served
}

func (e *Emulator) Run(ctx context.Context) error {
	if err := e.sim.Connect(); err != nil && !errors.Is(err, rotator.ErrAlreadyConnected) {
		return err
	}
	defer e.sim.Disconnect()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		e.conn.Close()
		return ctx.Err()
	})
	g.Go(func() error {
		err := e.serve()
		e.conn.Close()
		return err
	})
	return g.Wait()
}

func (e *Emulator) serve() error {
	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(e.conn, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}
		length := modbus.RequestLength(header)
		if length == 0 {
			log.Printf("emulator: unsupported function 0x%02x", header[1])
			if err := e.resync(); err != nil {
				return err
			}
			if err := e.respond(modbus.Frame{Address: header[0], Function: header[1] | 0x80, Payload: []byte{exIllegalFunction}}); err != nil {
				return err
			}
			continue
		}
		adu := make([]byte, length)
		copy(adu, header)
		if _, err := io.ReadFull(e.conn, adu[len(header):]); err != nil {
			return fmt.Errorf("reading request: %w", err)
		}
		req, err := modbus.DecodeFrame(adu)
		if err != nil {
			// A real slave stays silent and lets the master time out.
			log.Printf("emulator: dropping request: %v", err)
			continue
		}
		if req.Address != e.SlaveID {
			continue
		}
		if err := e.respond(e.handle(req)); err != nil {
			return err
		}
	}
}

// resync discards the rest of a frame that cannot be parsed, reading until
// the line has been quiet for frameGap.
func (e *Emulator) resync() error {
	defer e.conn.SetReadDeadline(time.Time{})
	buf := make([]byte, 256)
	for {
		if err := e.conn.SetReadDeadline(time.Now().Add(frameGap)); err != nil {
			return err
		}
		if _, err := e.conn.Read(buf); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("resynchronizing: %w", err)
		}
	}
}

func (e *Emulator) respond(f modbus.Frame) error {
	adu := f.Encode()
	e.mu.Lock()
	if e.corrupt > 0 {
		e.corrupt--
		adu[len(adu)-1] ^= 0x01
	}
	e.served++
	e.mu.Unlock()
	_, err := e.conn.Write(adu)
	return err
}

func exception(req modbus.Frame, code byte) modbus.Frame {
	return modbus.Frame{Address: req.Address, Function: req.Function | 0x80, Payload: []byte{code}}
}

func (e *Emulator) handle(req modbus.Frame) modbus.Frame {
	p := req.Payload
	address := binary.BigEndian.Uint16(p[0:2])
	switch req.Function {
	case modbus.FuncWriteMultipleRegisters:
		if address != stepper.RegMove {
			return exception(req, exIllegalAddress)
		}
		if binary.BigEndian.Uint16(p[2:4]) != 4 || int(p[4]) != 8 || len(p) != 13 {
			return exception(req, exIllegalValue)
		}
		az, el, err := stepper.DecodePosition(p[5:13])
		if err != nil {
			return exception(req, exIllegalValue)
		}
		if err := e.sim.MoveToPosition(az, el); err != nil {
			log.Printf("emulator: move: %v", err)
			return exception(req, exSlaveDeviceFailure)
		}
		return modbus.Frame{Address: req.Address, Function: req.Function, Payload: p[0:4]}
	case modbus.FuncReadHoldingRegisters:
		if address != stepper.RegPosition || binary.BigEndian.Uint16(p[2:4]) != 4 {
			return exception(req, exIllegalAddress)
		}
		az, el, err := e.sim.GetPosition()
		if err != nil {
			return exception(req, exSlaveDeviceFailure)
		}
		data, err := stepper.EncodePosition(az, el)
		if err != nil {
			return exception(req, exSlaveDeviceFailure)
		}
		return modbus.Frame{Address: req.Address, Function: req.Function, Payload: append([]byte{byte(len(data))}, data...)}
	case modbus.FuncWriteSingleRegister:
		if address != stepper.RegStop {
			return exception(req, exIllegalAddress)
		}
		if binary.BigEndian.Uint16(p[2:4]) != stepper.StopValue {
			return exception(req, exIllegalValue)
		}
		if err := e.sim.Stop(); err != nil {
			return exception(req, exSlaveDeviceFailure)
		}
		return modbus.Frame{Address: req.Address, Function: req.Function, Payload: p[0:4]}
	case modbus.FuncReadCoils:
		if address != stepper.CoilMoving {
			return exception(req, exIllegalAddress)
		}
		moving, err := e.sim.IsMoving()
		if err != nil {
			return exception(req, exSlaveDeviceFailure)
		}
		var bits byte
		if moving {
			bits = 1
		}
		return modbus.Frame{Address: req.Address, Function: req.Function, Payload: []byte{1, bits}}
	}
	return exception(req, exIllegalFunction)
}
