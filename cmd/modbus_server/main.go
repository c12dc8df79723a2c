// Command modbus_server exposes a local serial port to remote antennad
// instances. Each POST to /api/send carries one request ADU and returns the
// response ADU.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/w1xm/radiotelescope/internal/modbus"
)

var (
	addr       = flag.String("addr", "127.0.0.1:8502", "address to listen on")
	password   = flag.String("password", "", "password to require on remote connections")
	serialPort = flag.String("serial", "", "controller serial port name")
	baud       = flag.Int("baud", 9600, "controller baud rate")
	timeout    = flag.Duration("timeout", 1*time.Second, "read timeout")
	turnaround = flag.Duration("turnaround", 100*time.Millisecond, "delay between request and response")
)

type sender interface {
	Send(aduRequest []byte) ([]byte, error)
}

type Server struct {
	port     sender
	password string
}

func NewServer(port sender, password string) *Server {
	return &Server{
		port:     port,
		password: password,
	}
}

func (s *Server) SendHandler(w http.ResponseWriter, r *http.Request) {
	_, pass, ok := r.BasicAuth()
	if s.password != "" && (!ok || pass != s.password) {
		http.Error(w, "wrong password", http.StatusUnauthorized)
		return
	}
	err := func() error {
		aduRequest, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		aduResponse, err := s.port.Send(aduRequest)
		var errString string
		if err != nil {
			log.Printf("exchange % x: %v", aduRequest, err)
			errString = err.Error()
		}
		body, err := json.Marshal(&modbus.SendResponse{
			ADUResponse: aduResponse,
			Error:       errString,
		})
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write(body)
		return err
	}()
	if err != nil {
		log.Printf("SendHandler: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/api/send", http.HandlerFunc(s.SendHandler)).Methods(http.MethodPost)
	r.PathPrefix("/debug").Handler(http.DefaultServeMux)
	return r
}

func main() {
	flag.Parse()
	port := &modbus.SerialTransport{
		Port:       *serialPort,
		BaudRate:   *baud,
		Timeout:    *timeout,
		Turnaround: *turnaround,
	}
	if err := port.Connect(); err != nil {
		log.Fatal(err)
	}
	defer port.Close()
	srv := &http.Server{
		Handler:      NewServer(port, *password).Router(),
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Printf("Listening on %v", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
