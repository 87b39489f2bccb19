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
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8901", "Address to listen on")
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	flag.Parse()

	var err error
	config.AppConfig, err = config.LoadConfig(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		config.AppConfig, err = config.DefaultConfig(), nil
	}
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}

	conn, err := lib.ListenUDP(*listenAddr, config.AppConfig.IPTOS)
	if err != nil {
		log.Fatalln("Listen error:", err)
	}
	defer conn.Close()

	rdt, err := lib.Open(conn, true, nil, config.AppConfig)
	if err != nil {
		log.Fatalln("Error opening transport:", err)
	}
	defer rdt.Shutdown()

	log.Printf("Echo server listening on %s\n", conn.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	for {
		payload, addr, err := rdt.Recv(ctx)
		if err != nil {
			log.Println("Echo server stopping:", err)
			return
		}
		log.Printf("Echo server got %q from %s", payload, addr)
		if !rdt.Send(payload, addr) {
			log.Println("Peer is closing, echo dropped")
		}
	}
}
