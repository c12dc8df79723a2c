package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/w1xm/radiotelescope/antenna"
	"github.com/w1xm/radiotelescope/ephemeris"
	"github.com/w1xm/radiotelescope/metrics"
)

type Server struct {
	ant     *antenna.Controller
	eph     *ephemeris.Calculator
	metrics *metrics.Collector

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     antenna.Status

	tracker tracker
}

func NewServer(eph *ephemeris.Calculator, m *metrics.Collector) *Server {
	s := &Server{eph: eph, metrics: m}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	s.tracker.interval = defaultTrackInterval
	return s
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/connect", s.ConnectHandler).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", s.DisconnectHandler).Methods(http.MethodPost)
	api.HandleFunc("/position", s.GetPositionHandler).Methods(http.MethodGet)
	api.HandleFunc("/position", s.SetPositionHandler).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.StopHandler).Methods(http.MethodPost)
	api.HandleFunc("/calibrate", s.CalibrateHandler).Methods(http.MethodPost)
	api.HandleFunc("/move_axis", s.MoveAxisHandler).Methods(http.MethodPost)
	api.HandleFunc("/calibration", s.GetCalibrationHandler).Methods(http.MethodGet)
	api.HandleFunc("/calibration", s.SetCalibrationHandler).Methods(http.MethodPost)
	api.HandleFunc("/calibration/reset", s.ResetCalibrationHandler).Methods(http.MethodPost)
	api.HandleFunc("/calibration/azimuth", s.CalibrateAzimuthHandler).Methods(http.MethodPost)
	api.HandleFunc("/observer", s.ObserverHandler).Methods(http.MethodGet)
	api.HandleFunc("/astronomical", s.ObjectsHandler).Methods(http.MethodGet)
	api.HandleFunc("/astronomical/{name}", s.AstronomicalHandler).Methods(http.MethodGet)
	api.HandleFunc("/track/{name}", s.TrackHandler).Methods(http.MethodPost)
	api.HandleFunc("/track", s.StopTrackingHandler).Methods(http.MethodDelete)
	api.HandleFunc("/ws", s.StatusSocketHandler)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// apiError is the body of every failed request.
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var kindStatus = map[string]int{
	"validation":    http.StatusBadRequest,
	"safety":        http.StatusUnprocessableEntity,
	"communication": http.StatusBadGateway,
	"position":      http.StatusConflict,
	"antenna":       http.StatusServiceUnavailable,
	"internal":      http.StatusInternalServerError,
}

func errorKind(err error) (string, int) {
	var pe *antenna.PersistError
	switch {
	case errors.Is(err, ephemeris.ErrUnknownObject):
		return "not_found", http.StatusNotFound
	case errors.Is(err, ephemeris.ErrNotVisible):
		return "not_visible", http.StatusUnprocessableEntity
	case errors.As(err, &pe):
		return "persistence", http.StatusInternalServerError
	}
	kind := antenna.Kind(err)
	return kind, kindStatus[kind]
}

func writeError(w http.ResponseWriter, err error) {
	kind, code := errorKind(err)
	writeJSON(w, code, apiError{Kind: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

// decode reads a JSON body into v. Malformed input is a validation error.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Kind: "validation", Message: "malformed request: " + err.Error()})
		return false
	}
	return true
}

// command counts a finished command and writes either result or its error.
func (s *Server) command(w http.ResponseWriter, name string, err error, result interface{}) {
	s.metrics.ObserveCommand(name, err)
	if err != nil {
		log.Printf("%s: %v", name, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statusResponse struct {
	antenna.Status
	Tracking string             `json:",omitempty"`
	Observer ephemeris.Observer
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:   s.ant.Status(),
		Tracking: s.tracker.name(),
		Observer: s.eph.Observer(),
	})
}

func (s *Server) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	s.stopTracking()
	err := s.ant.Initialize(r.Context())
	s.command(w, "connect", err, s.ant.Status())
}

func (s *Server) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	s.stopTracking()
	err := s.ant.Shutdown(r.Context())
	s.command(w, "disconnect", err, s.ant.Status())
}

// GetPositionHandler reads the antenna. ?frame=raw skips the calibration.
func (s *Server) GetPositionHandler(w http.ResponseWriter, r *http.Request) {
	referenced := r.URL.Query().Get("frame") != "raw"
	p, err := s.ant.GetCurrentPosition(referenced)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) SetPositionHandler(w http.ResponseWriter, r *http.Request) {
	var p antenna.Position
	if !decode(w, r, &p) {
		return
	}
	s.stopTracking()
	err := s.ant.MoveTo(p)
	s.command(w, "move", err, p)
}

func (s *Server) StopHandler(w http.ResponseWriter, r *http.Request) {
	s.stopTracking()
	err := s.ant.Stop()
	s.command(w, "stop", err, s.ant.Status())
}

func (s *Server) CalibrateHandler(w http.ResponseWriter, r *http.Request) {
	s.stopTracking()
	err := s.ant.Calibrate(r.Context())
	s.command(w, "calibrate", err, s.ant.Status())
}

type moveAxisRequest struct {
	Axis antenna.Axis `json:"axis"`
	// Direction is positive or negative; it defaults to positive.
	Direction string  `json:"direction"`
	Amount    float64 `json:"amount"`
}

func (s *Server) MoveAxisHandler(w http.ResponseWriter, r *http.Request) {
	var req moveAxisRequest
	if !decode(w, r, &req) {
		return
	}
	delta := req.Amount
	switch req.Direction {
	case "", "positive":
	case "negative":
		delta = -delta
	default:
		writeJSON(w, http.StatusBadRequest, apiError{Kind: "validation", Message: "direction must be positive or negative"})
		return
	}
	s.stopTracking()
	err := s.ant.Jog(req.Axis, delta)
	s.command(w, "move_axis", err, s.ant.Status())
}

func (s *Server) GetCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ant.Calibration())
}

type calibrationRequest struct {
	antenna.Calibration
	// Persist defaults to true.
	Persist *bool `json:"persist"`
}

func persist(p *bool) bool {
	return p == nil || *p
}

func (s *Server) SetCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	var req calibrationRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.ant.SetCalibration(req.Calibration, persist(req.Persist))
	s.command(w, "set_calibration", err, s.ant.Calibration())
}

func (s *Server) ResetCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	err := s.ant.ResetCalibration(true)
	s.command(w, "reset_calibration", err, s.ant.Calibration())
}

type azimuthCalibrationRequest struct {
	// CurrentAzimuth is the mechanical azimuth to call zero; when absent
	// the antenna is read.
	CurrentAzimuth *float64 `json:"current_azimuth"`
	Persist        *bool    `json:"persist"`
}

func (s *Server) CalibrateAzimuthHandler(w http.ResponseWriter, r *http.Request) {
	var req azimuthCalibrationRequest
	if !decode(w, r, &req) {
		return
	}
	cal, err := s.ant.CalibrateReference(req.CurrentAzimuth, persist(req.Persist))
	s.command(w, "calibrate_azimuth", err, cal)
}

func (s *Server) ObserverHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eph.Observer())
}

func (s *Server) ObjectsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eph.Names())
}

func (s *Server) AstronomicalHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.eph.Lookup(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) TrackHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.startTracking(mux.Vars(r)["name"])
	s.command(w, "track", err, res)
}

func (s *Server) StopTrackingHandler(w http.ResponseWriter, r *http.Request) {
	s.stopTracking()
	writeJSON(w, http.StatusOK, s.ant.Status())
}

// Command is a message a websocket client may send.
type Command struct {
	Command   string       `json:"command"`
	Axis      antenna.Axis `json:"axis"`
	Azimuth   float64      `json:"azimuth"`
	Elevation float64      `json:"elevation"`
	Amount    float64      `json:"amount"`
}

func (s *Server) handleCommand(msg Command) error {
	switch msg.Command {
	case "move":
		s.stopTracking()
		err := s.ant.MoveTo(antenna.Position{Azimuth: msg.Azimuth, Elevation: msg.Elevation})
		s.metrics.ObserveCommand("move", err)
		return err
	case "move_axis":
		s.stopTracking()
		err := s.ant.Jog(msg.Axis, msg.Amount)
		s.metrics.ObserveCommand("move_axis", err)
		return err
	case "stop":
		s.stopTracking()
		err := s.ant.Stop()
		s.metrics.ObserveCommand("stop", err)
		return err
	}
	return nil
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer func() {
			cancel()
			// Wake the writer below so it notices.
			s.statusCond.Broadcast()
		}()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := s.handleCommand(msg); err != nil {
				log.Printf("websocket %s: %v", msg.Command, err)
			}
		}
	}()

	send := func(status antenna.Status) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if err := send(s.ant.Status()); err != nil {
		log.Print(err)
		return
	}
	for {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if err := send(status); err != nil {
			log.Print(err)
			return
		}
	}
}

func (s *Server) statusCallback(status antenna.Status) {
	s.metrics.ObserveStatus(status)
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusCond.Broadcast()
}
