// Command lineedit is the backend for the track line editor. It serves
// the configuration API: reading the retained gate geometry back from
// the broker and publishing complete configuration updates drawn on
// the map.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lapline-data/lapline/internal/api"
	"github.com/lapline-data/lapline/internal/bus"
	"github.com/lapline-data/lapline/internal/config"
	"github.com/lapline-data/lapline/internal/confsync"
	"github.com/lapline-data/lapline/internal/version"
)

var (
	listen     = flag.String("listen", ":8081", "Listen address")
	broker     = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID   = flag.String("client-id", "lineedit", "MQTT client ID prefix")
	username   = flag.String("username", "", "MQTT username")
	password   = flag.String("password", "", "MQTT password")
	staticDir  = flag.String("static", "", "Optional directory of editor assets to serve at /")
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

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	client := bus.NewClient(bus.Options{
		BrokerURL:     *broker,
		ClientID:      *clientID,
		Username:      *username,
		Password:      *password,
		RetryInterval: tuning.GetRetryInterval(),
	})
	if err := client.Connect(10 * time.Second); err != nil {
		log.Fatalf("failed to connect to broker: %v", err)
	}
	defer client.Disconnect()

	writer := confsync.NewWriter(client, tuning.GetPublishTimeout())

	mux := http.NewServeMux()
	apiMux := api.NewConfigServer(client, writer, tuning.GetFetchTimeout()).ServeMux()
	mux.Handle("/api/", apiMux)
	if *staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(*staticDir)))
	}

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("line editor API listening on %s", *listen)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
