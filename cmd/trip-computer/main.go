// Command trip-computer runs the bicycle trip computer: it counts wheel
// revolutions, fuses GPS fixes, handles the buttons and keeps the ride
// record in SQLite. Status is served over HTTP and published to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/trip-computer/internal/buttons"
	"github.com/sweeney/trip-computer/internal/gpio"
	"github.com/sweeney/trip-computer/internal/gps"
	"github.com/sweeney/trip-computer/internal/kv"
	"github.com/sweeney/trip-computer/internal/mqtt"
	"github.com/sweeney/trip-computer/internal/persist"
	"github.com/sweeney/trip-computer/internal/pulse"
	"github.com/sweeney/trip-computer/internal/state"
	"github.com/sweeney/trip-computer/internal/status"
	"github.com/sweeney/trip-computer/internal/thermal"
	"github.com/sweeney/trip-computer/internal/web"
	"github.com/sweeney/trip-computer/internal/wheel"
)

// statusRefresh is how often the status tracker picks up counters.
const statusRefresh = time.Second

func main() {
	cfg, opts, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(cfg, opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg Config, opts options) error {
	storage, err := kv.OpenSQLite(cfg.DB)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	if opts.erase {
		if err := storage.Erase(); err != nil {
			return fmt.Errorf("erase storage: %w", err)
		}
		log.Printf("erased %s", cfg.DB)
		return nil
	}

	store := state.New(state.Options{})
	n, err := persist.Load(store, storage)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	log.Printf("restored %d values from %s", n, cfg.DB)

	if opts.printState {
		printState(os.Stdout, store.Snapshot())
		return nil
	}

	bootID := uuid.NewString()
	tracker := status.NewTracker(time.Now(), bootID, status.Config{
		WheelLoopMs: wheel.LoopInterval.Milliseconds(),
		GPSPollMs:   gps.PollInterval.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPPort:    cfg.HTTP,
		DBPath:      cfg.DB,
		GPSPort:     cfg.GPSPort,
	}, store)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Connected before any worker starts.
	var publisher mqtt.Publisher = nopPublisher{}
	var conn mqtt.ConnectionStatus
	if cfg.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.Broker, "trip-computer-"+bootID[:8], tracker.SetMQTTConnected)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, conn = p, p
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Wheel sensor: the edge handler only touches the lock-free counter.
	counter := pulse.NewCounter(0)
	wheelLine, err := gpio.NewRealWatcher(cfg.GPIOChip, cfg.PinWheel, gpio.Options{Edges: gpio.FallingEdge},
		func(e gpio.Edge) { counter.Pulse(e.Timestamp) })
	if err != nil {
		return fmt.Errorf("init wheel sensor: %w", err)
	}
	defer wheelLine.Close()

	var inc, dec, menu gpio.Level
	for _, b := range []struct {
		pin   int
		level *gpio.Level
	}{{cfg.PinInc, &inc}, {cfg.PinDec, &dec}, {cfg.PinMenu, &menu}} {
		w, err := gpio.NewRealWatcher(cfg.GPIOChip, b.pin, gpio.Options{Edges: gpio.BothEdges, ActiveLow: true}, b.level.Handle)
		if err != nil {
			return fmt.Errorf("init button on pin %d: %w", b.pin, err)
		}
		defer w.Close()
	}

	wheelPipeline := wheel.New(store, counter, wheel.Config{})
	g.Go(func() error {
		t := time.NewTicker(wheel.LoopInterval)
		defer t.Stop()
		wheelPipeline.Run(gctx, t.C)
		return nil
	})

	if cfg.GPSPort != "" {
		if err := startGPS(gctx, g, store, cfg.GPSPort, cfg.GPS); err != nil {
			// Riding without a receiver is normal; the wheel sensor still works.
			log.Printf("gps disabled: %v", err)
		}
	}

	if cfg.Thermal != "" {
		sampler := thermal.NewSampler(store, cfg.Thermal)
		g.Go(func() error {
			t := time.NewTicker(thermal.Interval)
			defer t.Stop()
			sampler.Run(gctx, time.After(thermal.StartDelay), t.C)
			return nil
		})
	}

	controller := buttons.NewController(store, buttons.Timing{})
	g.Go(func() error {
		t := time.NewTicker(buttons.SampleInterval)
		defer t.Stop()
		controller.Run(gctx, t.C, &inc, &dec, &menu)
		return nil
	})

	scheduler := persist.New(store, storage, persist.Config{})
	g.Go(func() error {
		check := time.NewTicker(persist.CheckInterval)
		defer check.Stop()
		periodic := time.NewTicker(persist.PeriodicInterval)
		defer periodic.Stop()
		scheduler.Run(gctx, check.C, periodic.C)
		return nil
	})

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, store)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)
	}

	log.Printf("started: boot=%s db=%s gps=%q broker=%q heartbeat=%v",
		bootID, cfg.DB, cfg.GPSPort, cfg.Broker, cfg.Heartbeat)

	refresh := time.NewTicker(statusRefresh)
	defer refresh.Stop()
	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		publisher: publisher,
		conn:      conn,
		tracker:   tracker,
		counts:    controller.Counts,
		saves:     scheduler.Saves,
		stop: func() error {
			cancel()
			return g.Wait()
		},
		failed: gctx.Done(),
		now:    time.Now,
	}, refresh.C, heartbeat, sigCh)
}

// startGPS opens the receiver and starts the reader and the fusion pipeline.
func startGPS(ctx context.Context, g *errgroup.Group, store *state.Store, path string, opts gps.PortOptions) error {
	port, err := gps.OpenPort(path, opts)
	if err != nil {
		return err
	}
	runGPS(ctx, g, store, port)
	log.Printf("gps reading %s at %d baud", path, opts.BaudRate)
	return nil
}

// runGPS starts the GPS workers on an open port. A read error other than
// the one caused by closing the port on shutdown fails the group.
func runGPS(ctx context.Context, g *errgroup.Group, store *state.Store, port io.ReadCloser) {
	receiver := gps.NewReceiver(time.Now)
	g.Go(func() error {
		<-ctx.Done()
		port.Close() // unblocks the reader
		return nil
	})
	g.Go(func() error {
		if err := receiver.Run(ctx, port); err != nil {
			return fmt.Errorf("gps receiver: %w", err)
		}
		return nil
	})

	pipeline := gps.NewPipeline(store)
	g.Go(func() error {
		t := time.NewTicker(gps.PollInterval)
		defer t.Stop()
		pipeline.Run(ctx, t.C, receiver)
		return nil
	})
}

// loop holds what the status loop reads and publishes.
type loop struct {
	publisher mqtt.Publisher
	conn      mqtt.ConnectionStatus // may be nil
	tracker   *status.Tracker
	counts    func() buttons.EventCounts
	saves     func() int

	// stop cancels the workers and waits for them, including the final save.
	stop   func() error
	failed <-chan struct{} // closed if a worker failed
	now    func() time.Time
}

// runLoop keeps the status tracker current, publishes heartbeats and, on a
// signal or worker failure, stops the workers and publishes SHUTDOWN.
func runLoop(l loop, refresh, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	update := func() {
		l.tracker.Update(l.counts(), l.saves())
		if l.conn != nil {
			l.tracker.SetMQTTConnected(l.conn.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			err := l.stop()
			shutdown(l, update, signalName)
			return err

		case <-l.failed:
			err := l.stop()
			if err == nil {
				err = errors.New("worker stopped")
			}
			log.Printf("worker failed: %v", err)
			shutdown(l, update, "ERROR")
			return err

		case <-refresh:
			update()

		case <-heartbeat:
			update()
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				l.tracker.SetNetwork(net)
			}
			snap := l.tracker.Snapshot()
			log.Printf("heartbeat: stage=%.0fm total=%.0fm saves=%d", snap.Ride.StageDistance, snap.Ride.TotalDistance, snap.Saves)

			hbEvent := mqtt.SystemEvent{
				Timestamp:  l.now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := l.publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
			if err := l.publisher.PublishRide(mqtt.RideEvent{Timestamp: hbEvent.Timestamp, Ride: snap.Ride}); err != nil {
				log.Printf("ride publish error: %v", err)
			}
		}
	}
}

func shutdown(l loop, update func(), reason string) {
	update()
	snap := l.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

// nopPublisher is used when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) PublishRide(mqtt.RideEvent) error     { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error                         { return nil }

// printState writes the restored ride record in a human-readable form.
func printState(w io.Writer, r state.Snapshot) {
	fmt.Fprintf(w, "stage distance: %.1f m\n", r.StageDistance)
	fmt.Fprintf(w, "total distance: %.1f m\n", r.TotalDistance)
	fmt.Fprintf(w, "max speed:      %.1f km/h\n", r.MaxSpeed)
	fmt.Fprintf(w, "distance mode:  %s\n", r.DistanceMode)
	fmt.Fprintf(w, "wheel size:     %d mm\n", r.WheelSize)
	fmt.Fprintf(w, "timezone:       %+d\n", r.Timezone)
	fmt.Fprintf(w, "brightness:     %d\n", r.Brightness)
	fmt.Fprintf(w, "page:           %d\n", r.Page)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
