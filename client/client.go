package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Clouded-Sabre/Pseudo-RDT/config"
	"github.com/Clouded-Sabre/Pseudo-RDT/lib"
	"github.com/Clouded-Sabre/Pseudo-RDT/shared"
)

var (
	configPath string
	serverAddr string
	outputDir  string
	timeout    time.Duration
)

func init() {
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the YAML configuration file")
	flag.StringVar(&serverAddr, "server", "", "Server address, overrides server_ip and server_port")
	flag.StringVar(&outputDir, "out", "", "Directory to write received files to (optional)")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Give up on the whole transfer after this long")
	flag.Parse()
}

func main() {
	cfg, err := config.LoadConfig(configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}
	config.AppConfig = cfg

	if serverAddr == "" {
		serverAddr = cfg.ServerAddr()
	}
	peer, err := lib.ResolvePeer(serverAddr)
	if err != nil {
		log.Fatalln("Error resolving server address:", err)
	}

	conn, err := lib.ListenUDP("", cfg.IPTOS)
	if err != nil {
		log.Fatalln("Error opening UDP socket:", err)
	}
	defer conn.Close()

	start := time.Now()

	client, err := lib.NewRDTPlus(conn, false, peer, cfg)
	if err != nil {
		log.Fatalln("Error connecting to server:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	files, err := shared.Fetch(ctx, client, peer)
	if err != nil {
		client.Shutdown()
		log.Fatalln("Transfer failed:", err)
	}
	log.Printf("All %d files received", len(files))

	if err := client.Close(ctx); err != nil {
		log.Println("Error closing connection:", err)
		client.Shutdown()
	}
	log.Printf("Transfer took %v", time.Since(start))

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			log.Fatalln("Error creating output directory:", err)
		}
		for _, f := range files {
			if err := os.WriteFile(filepath.Join(outputDir, filepath.Base(f.Name)), f.Data, 0o644); err != nil {
				log.Fatalln("Error writing file:", err)
			}
		}
	}
}
