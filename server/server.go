package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Clouded-Sabre/Pseudo-RDT/config"
	"github.com/Clouded-Sabre/Pseudo-RDT/lib"
	"github.com/Clouded-Sabre/Pseudo-RDT/shared"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the YAML configuration file")
	flag.Parse()
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("No configuration file at %s, using defaults", configPath)
		return config.DefaultConfig()
	}
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}
	return cfg
}

func main() {
	config.AppConfig = loadConfig()
	cfg := config.AppConfig

	objects, err := shared.LoadObjects(cfg.ObjectDir)
	if err != nil {
		log.Fatalf("Error loading objects: %v", err)
	}
	log.Printf("Loaded %d objects from %s", len(objects), cfg.ObjectDir)

	conn, err := lib.ListenUDP(cfg.ServerAddr(), cfg.IPTOS)
	if err != nil {
		log.Fatalf("RDT server error listening at %s: %v", cfg.ServerAddr(), err)
	}
	defer conn.Close()

	srv, err := lib.NewRDTPlus(conn, true, nil, cfg)
	if err != nil {
		log.Fatalf("Error creating RDT server: %v", err)
	}
	log.Printf("RDT server up and listening on %s", conn.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for interrupt signal (Ctrl+C)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Println("Received SIGINT (Ctrl+C). Shutting down...")
		cancel()
	}()

	if err := shared.Serve(ctx, srv, objects); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Server stopped: %v", err)
	}
	srv.Shutdown()

	stats := srv.Transport().Stats()
	log.Printf("Sent %d segments, retransmitted %d, dropped %d corrupt", stats.Sent, stats.Retransmitted, stats.DroppedCorrupt)
}
