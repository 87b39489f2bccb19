package main

import (
	"errors"
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Clouded-Sabre/Pseudo-RDT/lib"
)

var (
	gatewayAddr string
	targetAddr  string
	dropRate    float64
	bufferSize  int
)

func init() {
	flag.StringVar(&gatewayAddr, "listen", "127.0.0.1:8901", "Gateway address clients talk to")
	flag.StringVar(&targetAddr, "target", "127.0.0.1:8032", "RDT server address")
	flag.Float64Var(&dropRate, "droprate", 0.1, "Datagram drop rate (0.0-1.0)")
	flag.IntVar(&bufferSize, "buffer", 65535, "Largest datagram relayed")
	flag.Parse()
}

// dropper decides which datagrams are lost. rand.Rand is not safe for concurrent use.
type dropper struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

func (d *dropper) drop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64() < d.rate
}

// relay forwards datagrams between one client and the target through its own upstream socket.
type relay struct {
	client   net.Addr
	upstream net.PacketConn
}

func main() {
	target, err := lib.ResolvePeer(targetAddr)
	if err != nil {
		log.Fatalf("Invalid target address %s: %v", targetAddr, err)
	}

	listener, err := lib.ListenUDP(gatewayAddr, 0)
	if err != nil {
		log.Fatalf("Gateway error listening at %s: %v", gatewayAddr, err)
	}
	log.Printf("Drop gateway started at %s -> %s (drop rate: %.1f%%)", listener.LocalAddr(), target, dropRate*100)

	d := &dropper{rng: rand.New(rand.NewSource(time.Now().UnixNano())), rate: dropRate}
	relays := make(map[string]*relay)
	var mu sync.Mutex
	var wg sync.WaitGroup

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Println("Received SIGINT (Ctrl+C). Shutting down...")
		listener.Close()
		mu.Lock()
		for _, r := range relays {
			r.upstream.Close()
		}
		mu.Unlock()
	}()

	buf := make([]byte, bufferSize)
	for {
		n, from, err := listener.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			log.Println("Error reading from client:", err)
			continue
		}

		mu.Lock()
		r, ok := relays[from.String()]
		if !ok {
			upstream, err := lib.ListenUDP("", 0)
			if err != nil {
				mu.Unlock()
				log.Println("Error opening upstream socket:", err)
				continue
			}
			r = &relay{client: from, upstream: upstream}
			relays[from.String()] = r
			log.Println("New client:", from)

			wg.Add(1)
			go serverToClient(r, listener, d, &wg)
		}
		mu.Unlock()

		if d.drop() {
			log.Printf("Dropped datagram in client-to-server direction (size: %d)", n)
			continue
		}
		if _, err := r.upstream.WriteTo(buf[:n], target); err != nil {
			log.Println("Error forwarding to server:", err)
		}
	}

	wg.Wait()
	log.Println("All relays closed. Gateway exiting...")
}

func serverToClient(r *relay, listener net.PacketConn, d *dropper, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, bufferSize)
	for {
		n, _, err := r.upstream.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("Error reading server data for client %s: %v", r.client, err)
			}
			return
		}
		if d.drop() {
			log.Printf("Dropped datagram in server-to-client direction (size: %d)", n)
			continue
		}
		if _, err := listener.WriteTo(buf[:n], r.client); err != nil {
			log.Printf("Error forwarding to client %s: %v", r.client, err)
		}
	}
}
