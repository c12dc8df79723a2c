package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/w1xm/radiotelescope/antenna"
)

type rotctldClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newRotctldClient(t *testing.T, s *Server) *rotctldClient {
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		s.handleRotctld(server)
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return &rotctldClient{t: t, conn: client, r: bufio.NewReader(client)}
}

// send writes cmd and reads n lines of reply.
func (c *rotctldClient) send(cmd string, n int) []string {
	c.t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\n", cmd); err != nil {
		c.t.Fatalf("writing %q: %v", cmd, err)
	}
	var lines []string
	for i := 0; i < n; i++ {
		line, err := c.r.ReadString('\n')
		if err != nil {
			c.t.Fatalf("reading reply to %q: %v", cmd, err)
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
	return lines
}

func TestRotctldSetAndGetPosition(t *testing.T) {
	s, _ := newTestServer(t, antenna.Limits{})
	c := newRotctldClient(t, s)

	if got := c.send("P 90 45", 1); got[0] != "RPRT 0" {
		t.Fatalf("set_pos = %q", got)
	}
	waitFor(t, "move to finish", func() bool {
		st := s.ant.Status()
		return st.State == antenna.StateIdle && st.Target != nil
	})
	got := c.send("p", 2)
	if got[0] != "90.000000" || got[1] != "45.000000" {
		t.Errorf("get_pos = %q, want 90/45", got)
	}

	got = c.send(`+\get_pos`, 4)
	want := []string{"get_pos:", "Azimuth: 90.000000", "Elevation: 45.000000", "RPRT 0"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("extended get_pos line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRotctldNegativeAzimuth(t *testing.T) {
	s, _ := newTestServer(t, antenna.Limits{})
	c := newRotctldClient(t, s)
	if got := c.send(`\set_pos -90 10`, 1); got[0] != "RPRT 0" {
		t.Fatalf("set_pos = %q", got)
	}
	if tgt := s.ant.Status().Target; tgt == nil || tgt.Azimuth != 270 {
		t.Errorf("target = %v, want azimuth 270", tgt)
	}
}

func TestRotctldErrors(t *testing.T) {
	s, _ := newTestServer(t, antenna.Limits{})
	c := newRotctldClient(t, s)
	tests := []struct {
		cmd  string
		want string
	}{
		{"P 10", "RPRT -22"},
		{"P north 10", "RPRT -22"},
		{"P 10 95", "RPRT -22"},
		{"x", "RPRT -1"},
	}
	for _, tt := range tests {
		if got := c.send(tt.cmd, 1); got[0] != tt.want {
			t.Errorf("%q = %q, want %q", tt.cmd, got[0], tt.want)
		}
	}
}

func TestRotctldStop(t *testing.T) {
	s, _ := newTestServer(t, antenna.Limits{})
	c := newRotctldClient(t, s)
	if got := c.send("S", 1); got[0] != "RPRT 0" {
		t.Fatalf("stop = %q", got)
	}
	if st := s.ant.State(); st != antenna.StateStopped {
		t.Errorf("state = %v, want stopped", st)
	}
}

func TestRotctldDumpCaps(t *testing.T) {
	s, _ := newTestServer(t, antenna.Limits{})
	c := newRotctldClient(t, s)
	got := c.send(`\dump_caps`, 14)
	if got[2] != "Rot type: Az-El" || got[4] != "Max Azimuth: 360.00" {
		t.Errorf("dump_caps = %q", got)
	}
}
