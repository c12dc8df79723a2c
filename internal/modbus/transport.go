package modbus

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

var errTransportClosed = errors.New("modbus: transport not connected")

// ExchangeObserver is notified after every request/response exchange.
type ExchangeObserver interface {
	ObserveExchange(function byte, d time.Duration, err error)
}

// SerialTransport exchanges ADUs over a half-duplex byte stream. Exchanges
// are serialized: a request is never written while another one is waiting
// for its response.
type SerialTransport struct {
	Port     string
	BaudRate int
	// Timeout bounds each read from the port.
	Timeout time.Duration
	// Turnaround is slept between writing a request and reading the
	// response.
	Turnaround time.Duration
	// Dial opens the stream. It defaults to opening Port with tarm/serial.
	Dial     func() (io.ReadWriteCloser, error)
	Observer ExchangeObserver

	mu   sync.Mutex
	conn io.ReadWriteCloser
}

func (t *SerialTransport) dial() (io.ReadWriteCloser, error) {
	if t.Dial != nil {
		return t.Dial()
	}
	// 8N1
	return serial.OpenPort(&serial.Config{
		Name:        t.Port,
		Baud:        t.BaudRate,
		ReadTimeout: t.Timeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
}

func (t *SerialTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	conn, err := t.dial()
	if err != nil {
		return fmt.Errorf("opening %q: %w", t.Port, err)
	}
	t.conn = conn
	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *SerialTransport) Send(aduRequest []byte) (aduResponse []byte, err error) {
	start := time.Now()
	if t.Observer != nil && len(aduRequest) > 1 {
		defer func() {
			t.Observer.ObserveExchange(aduRequest[1], time.Since(start), err)
		}()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, errTransportClosed
	}
	if _, err := t.conn.Write(aduRequest); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if t.Turnaround > 0 {
		time.Sleep(t.Turnaround)
	}
	// tarm/serial applies ReadTimeout itself; other streams may take a deadline.
	if d, ok := t.conn.(interface{ SetReadDeadline(time.Time) error }); ok && t.Timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(t.Timeout)); err != nil {
			return nil, fmt.Errorf("setting deadline: %w", err)
		}
	}
	return readResponse(t.conn)
}

func readResponse(r io.Reader) ([]byte, error) {
	var buf [256]byte
	n, err := io.ReadAtLeast(r, buf[:], MinFrameLength)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && n == 0) {
			return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, n)
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	length := responseLength(buf[:n])
	if length == 0 || length > len(buf) {
		// Unknown layout; let the decoder judge what arrived.
		return buf[:n], nil
	}
	if n < length {
		m, err := io.ReadFull(r, buf[n:length])
		n += m
		if err != nil {
			return nil, fmt.Errorf("%w: %d of %d bytes: %v", ErrShortFrame, n, length, err)
		}
	}
	return buf[:length], nil
}
