// Package main - agitator
// Load generator for the tick server: opens many raw TCP clients that
// chatter at a fixed interval, and optionally watches the spectator feed.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/NightlandServer/server/internal/events"
)

// Config for the agitator
type Config struct {
	ServerAddr     string
	SpectatorURL   string
	NumClients     int
	ActionInterval time.Duration
	TestDuration   time.Duration
}

// Stats tracks performance metrics
type Stats struct {
	Connected      int64
	LinesSent      int64
	EchoesReceived int64
	Broadcasts     int64
	EventsDecoded  int64
	SpectatorMsgs  int64
	Errors         int64
	Latencies      []time.Duration
	mu             sync.Mutex
}

var chatter = []string{
	"hello",
	"ping",
	"is anyone there",
	"status",
	"move north",
}

func main() {
	serverAddr := flag.String("addr", "127.0.0.1:4096", "TCP server address")
	spectatorURL := flag.String("ws", "", "Spectator websocket URL, e.g. ws://localhost:8080/ws")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	interval := flag.Duration("interval", 500*time.Millisecond, "Line interval per client")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	config := Config{
		ServerAddr:     *serverAddr,
		SpectatorURL:   *spectatorURL,
		NumClients:     *numClients,
		ActionInterval: *interval,
		TestDuration:   *duration,
	}

	fmt.Println("=========================================")
	fmt.Println("AGITATOR - tick server load test")
	fmt.Println("=========================================")
	fmt.Printf("Server:   %s\n", config.ServerAddr)
	fmt.Printf("Clients:  %d\n", config.NumClients)
	fmt.Printf("Interval: %v\n", config.ActionInterval)
	fmt.Printf("Duration: %v\n", config.TestDuration)
	fmt.Println("=========================================")

	ctx, cancel := context.WithTimeout(context.Background(), config.TestDuration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupt received, stopping...")
		cancel()
	}()

	stats := runStressTest(ctx, config)
	printResults(stats, config)
}

func runStressTest(ctx context.Context, config Config) *Stats {
	stats := &Stats{
		Latencies: make([]time.Duration, 0, 10000),
	}

	var wg sync.WaitGroup

	if config.SpectatorURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSpectator(ctx, config.SpectatorURL, stats)
		}()
	}

	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(ctx, clientID, config, stats)
		}(i)

		// The server admits a bounded number of clients per tick; stagger.
		time.Sleep(10 * time.Millisecond)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("Progress: connected=%d sent=%d echoes=%d broadcasts=%d errors=%d\n",
					atomic.LoadInt64(&stats.Connected),
					atomic.LoadInt64(&stats.LinesSent),
					atomic.LoadInt64(&stats.EchoesReceived),
					atomic.LoadInt64(&stats.Broadcasts),
					atomic.LoadInt64(&stats.Errors))
			}
		}
	}()

	wg.Wait()
	return stats
}

func runClient(ctx context.Context, clientID int, config Config, stats *Stats) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", config.ServerAddr)
	if err != nil {
		log.Printf("Client %d: connection failed: %v", clientID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// Echoes come back in send order; pending holds the send times.
	pending := make(chan time.Time, 64)

	go func() {
		r := bufio.NewReader(conn)
		greeted := false
		for {
			f, err := readFrame(r)
			if err != nil {
				if ctx.Err() == nil {
					atomic.AddInt64(&stats.Errors, 1)
				}
				return
			}
			switch f.kind {
			case frameGreeting:
				if !greeted {
					greeted = true
					atomic.AddInt64(&stats.Connected, 1)
				}
			case frameEcho:
				atomic.AddInt64(&stats.EchoesReceived, 1)
				select {
				case sent := <-pending:
					stats.mu.Lock()
					stats.Latencies = append(stats.Latencies, time.Since(sent))
					stats.mu.Unlock()
				default:
				}
			case frameEvents:
				atomic.AddInt64(&stats.Broadcasts, 1)
				atomic.AddInt64(&stats.EventsDecoded, int64(len(f.events)))
			}
		}
	}()

	ticker := time.NewTicker(config.ActionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			line := fmt.Sprintf("%s from %d\n", chatter[rand.Intn(len(chatter))], clientID)
			select {
			case pending <- time.Now():
			default:
			}
			if _, err := conn.Write([]byte(line)); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			atomic.AddInt64(&stats.LinesSent, 1)
		}
	}
}

func runSpectator(ctx context.Context, url string, stats *Stats) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Printf("Spectator: connection failed: %v", err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		atomic.AddInt64(&stats.SpectatorMsgs, 1)
		if _, err := events.Decode(string(msg)); err != nil {
			atomic.AddInt64(&stats.Errors, 1)
		}
	}
}

func printResults(stats *Stats, config Config) {
	fmt.Println("\n=========================================")
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println("=========================================")

	sent := atomic.LoadInt64(&stats.LinesSent)
	errs := atomic.LoadInt64(&stats.Errors)

	fmt.Printf("Clients Greeted:   %d/%d\n", atomic.LoadInt64(&stats.Connected), config.NumClients)
	fmt.Printf("Lines Sent:        %d\n", sent)
	fmt.Printf("Echoes Received:   %d\n", atomic.LoadInt64(&stats.EchoesReceived))
	fmt.Printf("Broadcasts:        %d (%d events)\n", atomic.LoadInt64(&stats.Broadcasts), atomic.LoadInt64(&stats.EventsDecoded))
	if config.SpectatorURL != "" {
		fmt.Printf("Spectator Frames:  %d\n", atomic.LoadInt64(&stats.SpectatorMsgs))
	}
	fmt.Printf("Errors:            %d\n", errs)
	fmt.Printf("Throughput:        %.2f lines/sec\n", float64(sent)/config.TestDuration.Seconds())

	stats.mu.Lock()
	latencies := append([]time.Duration(nil), stats.Latencies...)
	stats.mu.Unlock()

	if len(latencies) > 0 {
		var total time.Duration
		min, max := latencies[0], latencies[0]
		for _, l := range latencies {
			total += l
			if l < min {
				min = l
			}
			if l > max {
				max = l
			}
		}
		fmt.Printf("\nEcho latency:\n")
		fmt.Printf("  Min: %v\n", min)
		fmt.Printf("  Avg: %v\n", total/time.Duration(len(latencies)))
		fmt.Printf("  Max: %v\n", max)
	}
	fmt.Println("=========================================")

	results := map[string]interface{}{
		"timestamp":  time.Now().Format(time.RFC3339),
		"clients":    config.NumClients,
		"duration":   config.TestDuration.String(),
		"lines_sent": sent,
		"echoes":     atomic.LoadInt64(&stats.EchoesReceived),
		"broadcasts": atomic.LoadInt64(&stats.Broadcasts),
		"events":     atomic.LoadInt64(&stats.EventsDecoded),
		"errors":     errs,
		"spectator":  atomic.LoadInt64(&stats.SpectatorMsgs),
	}
	jsonData, _ := json.MarshalIndent(results, "", "  ")
	filename := fmt.Sprintf("agitator_results_%d.json", time.Now().Unix())
	if err := os.WriteFile(filename, jsonData, 0644); err == nil {
		fmt.Printf("Results saved to: %s\n", filename)
	}
}
