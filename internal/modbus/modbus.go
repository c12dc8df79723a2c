package modbus

import (
	"io"
	"time"

	"github.com/goburrow/modbus"
)

type transporter interface {
	modbus.Transporter
	Connect() error
	Close() error
}

type handler struct {
	*Packager
	transporter
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 9600
	BaudRate int
	SlaveId  byte
	// URL creates a remote connection through a modbus_server bridge
	URL      string
	Password string

	// Timeout bounds a single read; defaults to 1s.
	Timeout time.Duration
	// Turnaround separates a request from its response; defaults to 100ms.
	Turnaround time.Duration
	// Dial overrides how the local stream is opened.
	Dial     func() (io.ReadWriteCloser, error)
	Observer ExchangeObserver

	transport transporter
	modbus.Client
}

// Connect opens the transport synchronously and prepares the request client.
func (c *Client) Connect() error {
	if c.URL != "" {
		c.transport = &HTTPTransport{URL: c.URL, Password: c.Password, Observer: c.Observer}
	} else {
		t := &SerialTransport{
			Port:       c.Port,
			BaudRate:   c.BaudRate,
			Timeout:    c.Timeout,
			Turnaround: c.Turnaround,
			Dial:       c.Dial,
			Observer:   c.Observer,
		}
		if t.BaudRate == 0 {
			t.BaudRate = 9600
		}
		if t.Timeout == 0 {
			t.Timeout = 1 * time.Second
		}
		if t.Turnaround == 0 {
			t.Turnaround = 100 * time.Millisecond
		}
		c.transport = t
	}
	if err := c.transport.Connect(); err != nil {
		return err
	}
	c.Client = modbus.NewClient(&handler{Packager: &Packager{SlaveId: c.SlaveId}, transporter: c.transport})
	return nil
}

func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}
