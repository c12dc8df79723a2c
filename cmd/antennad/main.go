package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/w1xm/radiotelescope/antenna"
	"github.com/w1xm/radiotelescope/calibration"
	"github.com/w1xm/radiotelescope/config"
	"github.com/w1xm/radiotelescope/ephemeris"
	"github.com/w1xm/radiotelescope/internal/logging"
	"github.com/w1xm/radiotelescope/metrics"
	"github.com/w1xm/radiotelescope/rotator"
	"github.com/w1xm/radiotelescope/simulator"
	"github.com/w1xm/radiotelescope/stepper"
	"github.com/w1xm/radiotelescope/stepper/emulator"
	"golang.org/x/sync/errgroup"
)

var (
	configFile  = flag.String("config", "", "YAML configuration file")
	addr        = flag.String("addr", "", "address to listen on, overriding http.addr")
	rotctldAddr = flag.String("rotctld", "", "address for the rotctld listener, overriding http.rotctld")
	emulate     = flag.Bool("emulate", false, "drive an emulated Modbus controller instead of the configured driver")
)

func main() {
	flag.Parse()
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *rotctldAddr != "" {
		cfg.HTTP.Rotctld = *rotctldAddr
	}
	if *emulate {
		cfg.Driver = "emulator"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logs, err := logging.Setup(logging.Config{
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	logs.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return err
	}
	driver, closeDriver, err := newDriver(cfg, collector)
	if err != nil {
		return err
	}
	defer closeDriver()

	store, err := calibration.Open(cfg.Calibration.Store, cfg.Calibration.Path)
	if err != nil {
		return fmt.Errorf("opening calibration store: %w", err)
	}
	defer store.Close()

	eph, err := ephemeris.New(ephemeris.Observer{
		Name:      cfg.Observer.Name,
		Latitude:  cfg.Observer.Latitude,
		Longitude: cfg.Observer.Longitude,
		Height:    cfg.Observer.Height,
	}, cfg.Satellites)
	if err != nil {
		return err
	}

	server := NewServer(eph, collector)
	ant, err := antenna.New(driver, antenna.Config{
		Instance:        cfg.Instance,
		Motor:           cfg.MotorConfig(),
		Limits:          cfg.AntennaLimits(),
		MonitorInterval: cfg.Monitor.Interval,
		MaxPollFailures: cfg.Monitor.MaxPollFailures,
		Store:           store,
	}, server.statusCallback)
	if err != nil {
		return err
	}
	server.ant = ant
	// A failed connect leaves the antenna in the error state; it can be
	// retried through /api/connect.
	if err := ant.Initialize(ctx); err != nil {
		log.Printf("initializing antenna: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:      server.Router(),
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	g.Go(func() error {
		log.Printf("Listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.HTTP.Rotctld != "" {
		if err := server.ListenRotctld(ctx, cfg.HTTP.Rotctld); err != nil {
			return fmt.Errorf("rotctld: %w", err)
		}
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Print("shutting down")
		server.stopTracking()
		sctx, cancel := context.WithTimeout(context.Background(), antenna.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		return ant.Shutdown(sctx)
	})
	return g.Wait()
}

// newDriver builds the configured rotator.Driver. The returned func
// releases anything the driver runs alongside it.
func newDriver(cfg *config.Config, collector *metrics.Collector) (rotator.Driver, func(), error) {
	simConfig := simulator.Config{
		StepsPerSecond: cfg.Simulator.StepsPerSecond,
		Tick:           cfg.Simulator.Tick,
	}
	switch cfg.Driver {
	case "modbus":
		return stepper.New(stepper.Config{
			Port:       cfg.Serial.Port,
			BaudRate:   cfg.Serial.BaudRate,
			SlaveID:    byte(cfg.Serial.SlaveID),
			URL:        cfg.Serial.URL,
			Password:   cfg.Serial.Password,
			Timeout:    cfg.Serial.Timeout,
			Turnaround: cfg.Serial.Turnaround,
			Observer:   collector,
		}), func() {}, nil
	case "simulator":
		return simulator.New(simConfig), func() {}, nil
	case "emulator":
		emu, conn := emulator.New(simulator.New(simConfig))
		emu.SlaveID = byte(cfg.Serial.SlaveID)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := emu.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("emulator: %v", err)
			}
		}()
		log.Print("driving an emulated controller")
		return stepper.New(stepper.Config{
			SlaveID:    emu.SlaveID,
			Timeout:    cfg.Serial.Timeout,
			Turnaround: cfg.Serial.Turnaround,
			Dial:       func() (io.ReadWriteCloser, error) { return conn, nil },
			Observer:   collector,
		}), func() { cancel(); <-done }, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}
