package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/w1xm/radiotelescope/antenna"
)

// ListenRotctld accepts hamlib rotctld clients on addr until ctx is done.
func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("rotctld listening on %v", ln.Addr())
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to accept: %v", err)
				}
				continue
			}
			go func() {
				defer conn.Close()
				log.Printf("accepted connection from %v", conn.RemoteAddr())
				s.handleRotctld(conn)
			}()
		}
	}()
	return nil
}

// rprt maps err to a hamlib return code.
func rprt(err error) int {
	switch antenna.Kind(err) {
	case "":
		return 0
	case "validation", "safety":
		return -22 // EINVAL
	case "communication":
		return -5 // EIO
	case "antenna", "position":
		return -16 // EBUSY
	}
	return -1
}

func (s *Server) handleRotctld(conn io.ReadWriter) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else if cmd[0] == '\\' {
			parts := strings.Fields(cmd)
			cmd = parts[0][1:]
			args = parts[1:]
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = string(cmd[0])
		}
		code := -1
		switch cmd {
		case "1", "dump_caps":
			l := s.ant.Limits()
			fmt.Fprintf(conn, `Model name: Radio telescope
Mfg name: W1XM
Rot type: Az-El
Min Azimuth: %.2f
Max Azimuth: %.2f
Min Elevation: %.2f
Max Elevation: %.2f
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: N
Can Reset: N
Can Move: N
Can get Info: Y
`, l.MinAzimuth, l.MaxAzimuth, l.MinElevation, l.MaxElevation)
			code = 0
		case "_", "get_info":
			st := s.ant.Status()
			if extended {
				fmt.Fprintf(conn, "Info: %s %s\n", st.State, st.Position)
			} else {
				fmt.Fprintf(conn, "%s %s\n", st.State, st.Position)
			}
			code = 0
		case "S", "stop":
			extended = true // always print RPRT
			s.stopTracking()
			code = rprt(s.ant.Stop())
		case "P", "set_pos":
			extended = true // always print RPRT
			if len(args) != 2 {
				code = -22
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				code = -22
				break
			}
			el, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				code = -22
				break
			}
			// Clients may speak -180..180.
			if az < 0 {
				az += 360
			}
			s.stopTracking()
			err = s.ant.MoveTo(antenna.Position{Azimuth: az, Elevation: el})
			s.metrics.ObserveCommand("move", err)
			if err != nil {
				log.Printf("rotctld set_pos: %v", err)
			}
			code = rprt(err)
		case "p", "get_pos":
			p := s.ant.Status().Position
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", p.Azimuth, p.Elevation)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", p.Azimuth, p.Elevation)
			}
			code = 0
		case "q", "quit":
			return
		}
		if extended || code != 0 {
			fmt.Fprintf(conn, "RPRT %d\n", code)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading rotctld command: %v", err)
	}
}
