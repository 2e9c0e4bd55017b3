// Command lapline is the on-vehicle timing daemon. It reads NMEA
// sentences from a GPS receiver, detects virtual line crossings, runs
// the race state machine, and publishes race events and receiver
// status to the MQTT broker. Gate geometry and race parameters arrive
// over retained broker topics from the line editor.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lapline-data/lapline/internal/api"
	"github.com/lapline-data/lapline/internal/bus"
	"github.com/lapline-data/lapline/internal/config"
	"github.com/lapline-data/lapline/internal/confsync"
	"github.com/lapline-data/lapline/internal/gps"
	"github.com/lapline-data/lapline/internal/laps"
	"github.com/lapline-data/lapline/internal/publish"
	"github.com/lapline-data/lapline/internal/serialmux"
	"github.com/lapline-data/lapline/internal/timeutil"
	"github.com/lapline-data/lapline/internal/track"
	"github.com/lapline-data/lapline/internal/units"
	"github.com/lapline-data/lapline/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Replay NMEA fixtures instead of opening a serial port")
	fixtures   = flag.String("fixtures", "fixtures.nmea", "NMEA fixture file for dev mode")
	listen     = flag.String("listen", ":8080", "Listen address")
	serialPort = flag.String("port", "/dev/ttyUSB0", "GPS serial port (ignored in dev mode)")
	broker     = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID   = flag.String("client-id", "lapline", "MQTT client ID prefix")
	username   = flag.String("username", "", "MQTT username")
	password   = flag.String("password", "", "MQTT password")
	speedUnits = flag.String("units", units.Knots, "Speed units for the status API (knots, kmh, mph, mps)")
	tuningPath = flag.String("config", "", "Optional tuning config JSON file")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("Invalid units %q: expected one of %s", *speedUnits, units.GetValidUnitsString())
	}

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var mux serialmux.SerialMuxInterface
	if *devMode {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		sentences := strings.Split(strings.TrimSpace(string(data)), "\n")
		mux = serialmux.NewMockSerialMux(sentences, 200*time.Millisecond)
	} else {
		var err error
		mux, err = serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{BaudRate: tuning.GetBaudRate()})
		if err != nil {
			log.Fatalf("failed to open GPS port: %v", err)
		}
	}
	defer mux.Close()

	clock := timeutil.RealClock{}
	accumulator := gps.NewAccumulator(clock)

	// The last will marks the receiver offline when the connection to
	// the broker drops without a clean disconnect.
	offline, _ := json.Marshal(gps.Status{HasFix: false})
	client := bus.NewClient(bus.Options{
		BrokerURL:     *broker,
		ClientID:      *clientID,
		Username:      *username,
		Password:      *password,
		RetryInterval: tuning.GetRetryInterval(),
		Will: &bus.WillMessage{
			Topic:    publish.TopicStatus,
			Payload:  offline,
			QoS:      publish.EventQoS,
			Retained: true,
		},
	})
	if err := client.Connect(10 * time.Second); err != nil {
		log.Fatalf("failed to connect to broker: %v", err)
	}
	defer client.Disconnect()

	store := track.NewStore()
	if err := confsync.NewListener(store).Attach(client); err != nil {
		log.Fatalf("failed to subscribe to configuration: %v", err)
	}

	machine := laps.NewMachine(store)
	detector := laps.NewDetector(store, tuning.GetDebounceWindow())
	timer := laps.NewTimer(clock, machine)
	publisher := publish.New(client, clock, accumulator, tuning.GetStatusInterval())
	pipeline := laps.NewPipeline(detector, machine, publisher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// run the monitor routine to manage IO on the serial port
	g.Go(func() error {
		if err := mux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
			return err
		}
		log.Print("monitor routine terminated")
		return nil
	})

	// subscribe to the serial port sentences and feed them through the
	// NMEA accumulator into the timing pipeline
	g.Go(func() error {
		id, c := mux.Subscribe()
		defer mux.Unsubscribe(id)
		for {
			select {
			case sentence, ok := <-c:
				if !ok {
					return nil
				}
				if fix, ok := accumulator.Sentence(sentence); ok {
					pipeline.Process(fix)
				}
				publisher.FixProcessed()
			case <-ctx.Done():
				log.Printf("sentence routine terminated")
				return nil
			}
		}
	})

	// drain queued race events onto the broker
	g.Go(func() error {
		if err := publisher.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	// HTTP server goroutine
	g.Go(func() error {
		writer := confsync.NewWriter(client, tuning.GetPublishTimeout())
		server := &http.Server{
			Addr: *listen,
			Handler: api.LoggingMiddleware(
				api.NewServer(client, writer, store, machine, timer, pipeline, accumulator, *speedUnits, tuning.GetFetchTimeout()).ServeMux(),
			),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("daemon stopped with error: %v", err)
	}

	// A race_finished event raced against SIGTERM should still go out.
	publisher.Flush(2 * time.Second)
	log.Printf("Graceful shutdown complete")
}
