package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clouded-Sabre/Pseudo-RDT/config"
	"github.com/Clouded-Sabre/Pseudo-RDT/lib"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:8901", "Echo server address")
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	packetInterval := flag.Duration("interval", 500*time.Millisecond, "Interval between packets (e.g., 500ms, 1s)")
	count := flag.Int("count", 0, "Number of messages to send, 0 sends until Ctrl+C")
	flag.Parse()

	var err error
	config.AppConfig, err = config.LoadConfig(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		config.AppConfig, err = config.DefaultConfig(), nil
	}
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}

	peer, err := lib.ResolvePeer(*serverAddr)
	if err != nil {
		log.Fatalln(err)
	}
	conn, err := lib.ListenUDP("", config.AppConfig.IPTOS)
	if err != nil {
		log.Fatalln(err)
	}
	defer conn.Close()

	rdt, err := lib.Open(conn, false, peer, config.AppConfig)
	if err != nil {
		log.Fatalln("Error opening transport:", err)
	}
	defer rdt.Shutdown()

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if d := config.AppConfig.HandshakeTimeout(); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	}
	ok := rdt.InitiateConnection(ctx)
	cancel()
	if !ok {
		log.Fatalln("Error connecting to", peer)
	}
	fmt.Println("Echo client connected to server!")
	fmt.Printf("Sending packets at %v interval (press Ctrl+C to exit)...\n", *packetInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*packetInterval)
	defer ticker.Stop()

	successCount, failureCount, packetCount := 0, 0, 0

loop:
	for *count == 0 || packetCount < *count {
		select {
		case <-sigChan:
			break loop
		case <-ticker.C:
		}

		packetCount++
		message := fmt.Sprintf("Echo message %d", packetCount)
		log.Printf("[%d] Sending: %s\n", packetCount, message)
		rdt.Send([]byte(message), nil)

		recvCtx, recvCancel := context.WithTimeout(context.Background(), 10*config.AppConfig.TimerInterval())
		reply, _, err := rdt.Recv(recvCtx)
		recvCancel()
		if err != nil {
			log.Printf("[%d] No echo: %v\n", packetCount, err)
			failureCount++
			continue
		}
		if string(reply) == message {
			successCount++
		} else {
			log.Printf("[%d] Out of order echo: %s\n", packetCount, reply)
			failureCount++
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := rdt.Close(closeCtx); err != nil {
		log.Println("Close error:", err)
	}

	stats := rdt.Stats()
	fmt.Printf("Sent %d, echoed %d, failed %d, retransmissions %d\n", packetCount, successCount, failureCount, stats.Retransmitted)
}
