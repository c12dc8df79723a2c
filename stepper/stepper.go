// Package stepper drives the two stepper-motor controllers over Modbus RTU.
package stepper

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/w1xm/radiotelescope/internal/modbus"
	"github.com/w1xm/radiotelescope/rotator"
)

// Register map of the controller.
const (
	// RegMove takes four registers: azimuth then elevation, each a signed
	// 32-bit big-endian step count.
	RegMove uint16 = 0x1000
	// RegPosition reads back the same layout as RegMove.
	RegPosition uint16 = 0x2000
	// RegStop halts both axes when written with StopValue.
	RegStop   uint16 = 0x3000
	StopValue uint16 = 1
	// CoilMoving is set while either axis is in motion.
	CoilMoving uint16 = 0x4000

	positionRegisters = 4
)

type Config struct {
	Port     string
	BaudRate int
	SlaveID  byte
	// URL routes requests through a modbus_server bridge instead of Port.
	URL      string
	Password string

	Timeout    time.Duration
	Turnaround time.Duration
	Dial       func() (io.ReadWriteCloser, error)
	Observer   modbus.ExchangeObserver
}

type Stepper struct {
	cfg Config

	mu     sync.Mutex
	client *modbus.Client
}

var _ rotator.Driver = (*Stepper)(nil)

func New(cfg Config) *Stepper {
	if cfg.SlaveID == 0 {
		cfg.SlaveID = 1
	}
	return &Stepper{cfg: cfg}
}

func (s *Stepper) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return rotator.CommError("connect", rotator.ErrAlreadyConnected)
	}
	c := &modbus.Client{
		Port:       s.cfg.Port,
		BaudRate:   s.cfg.BaudRate,
		SlaveId:    s.cfg.SlaveID,
		URL:        s.cfg.URL,
		Password:   s.cfg.Password,
		Timeout:    s.cfg.Timeout,
		Turnaround: s.cfg.Turnaround,
		Dial:       s.cfg.Dial,
		Observer:   s.cfg.Observer,
	}
	if err := c.Connect(); err != nil {
		return rotator.CommError("connect", err)
	}
	s.client = c
	if s.cfg.URL != "" {
		log.Printf("stepper slave %d connected via %s", s.cfg.SlaveID, s.cfg.URL)
	} else {
		log.Printf("stepper slave %d connected on %s", s.cfg.SlaveID, s.cfg.Port)
	}
	return nil
}

func (s *Stepper) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return rotator.CommError("disconnect", err)
}

func (s *Stepper) conn(op string) (*modbus.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, rotator.CommError(op, rotator.ErrNotConnected)
	}
	return s.client, nil
}

// EncodePosition packs a step pair into the RegMove layout.
func EncodePosition(azimuthSteps, elevationSteps int64) ([]byte, error) {
	for _, v := range []int64{azimuthSteps, elevationSteps} {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("step count %d does not fit in two registers", v)
		}
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:], uint32(int32(azimuthSteps)))
	binary.BigEndian.PutUint32(buf[4:], uint32(int32(elevationSteps)))
	return buf, nil
}

// DecodePosition is the inverse of EncodePosition.
func DecodePosition(b []byte) (azimuthSteps, elevationSteps int64, err error) {
	if len(b) != 8 {
		return 0, 0, fmt.Errorf("position payload has %d bytes, want 8", len(b))
	}
	az := int32(binary.BigEndian.Uint32(b[0:]))
	el := int32(binary.BigEndian.Uint32(b[4:]))
	return int64(az), int64(el), nil
}

func (s *Stepper) MoveToPosition(azimuthSteps, elevationSteps int64) error {
	c, err := s.conn("move")
	if err != nil {
		return err
	}
	payload, err := EncodePosition(azimuthSteps, elevationSteps)
	if err != nil {
		return rotator.CommError("move", err)
	}
	if _, err := c.WriteMultipleRegisters(RegMove, positionRegisters, payload); err != nil {
		return rotator.CommError("move", err)
	}
	return nil
}

func (s *Stepper) GetPosition() (int64, int64, error) {
	c, err := s.conn("get position")
	if err != nil {
		return 0, 0, err
	}
	results, err := c.ReadHoldingRegisters(RegPosition, positionRegisters)
	if err != nil {
		return 0, 0, rotator.CommError("get position", err)
	}
	az, el, err := DecodePosition(results)
	if err != nil {
		return 0, 0, rotator.CommError("get position", err)
	}
	return az, el, nil
}

func (s *Stepper) Stop() error {
	c, err := s.conn("stop")
	if err != nil {
		return err
	}
	if _, err := c.WriteSingleRegister(RegStop, StopValue); err != nil {
		return rotator.CommError("stop", err)
	}
	return nil
}

func (s *Stepper) IsMoving() (bool, error) {
	c, err := s.conn("is moving")
	if err != nil {
		return false, err
	}
	results, err := c.ReadCoils(CoilMoving, 1)
	if err != nil {
		return false, rotator.CommError("is moving", err)
	}
	if len(results) == 0 {
		return false, rotator.CommError("is moving", modbus.ErrShortFrame)
	}
	return modbus.BytesToBits(results)[0], nil
}
