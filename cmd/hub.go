// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/ledlink/pkg/genfsk"
	"github.com/Thermoquad/ledlink/pkg/radio"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

const (
	hubPath         = "/air"
	hubSendQueue    = 64
	hubWriteTimeout = 5 * time.Second
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the simulated air medium",
	Long: `Run a WebSocket hub that plays the shared radio channel.

Every node connects with --url ws://host:8765/air. Each frame a node
transmits is delivered to every other connected node, stamped with the
configured RSSI. The hub can drop frames or flip a bit in them to exercise
the protocol's timeout and CRC handling.

When hub.username is set in the configuration file, clients must
authenticate with HTTP Basic auth. The password is read from the
LEDLINK_PASSWORD environment variable, or prompted interactively if not set.`,
	RunE: runHub,
}

func init() {
	rootCmd.AddCommand(hubCmd)
	hubCmd.Flags().String("listen", ":8765", "Listen address")
	hubCmd.Flags().Float64("drop-rate", 0, "Probability of dropping a frame per receiver (0-1)")
	hubCmd.Flags().Float64("corrupt-rate", 0, "Probability of flipping one bit in a frame per receiver (0-1)")
	hubCmd.Flags().Int("rssi", -60, "RSSI stamped on delivered frames (dBm)")
}

// hubStats counts what the hub did with received frames
type hubStats struct {
	Received  uint64
	Invalid   uint64
	Delivered uint64
	Dropped   uint64
	Corrupted uint64
	Overflows uint64
}

func (s hubStats) String() string {
	return fmt.Sprintf("received=%d invalid=%d delivered=%d dropped=%d corrupted=%d overflows=%d",
		s.Received, s.Invalid, s.Delivered, s.Dropped, s.Corrupted, s.Overflows)
}

// airClient is one connected node
type airClient struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// airHub relays envelopes between the connected nodes
type airHub struct {
	cfg      HubConfig
	password string
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*airClient]struct{}
	rng     *rand.Rand
	stats   hubStats
}

func newAirHub(cfg HubConfig, password string, rng *rand.Rand, logger *log.Logger) *airHub {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = log.Default()
	}
	return &airHub{
		cfg:      cfg,
		password: password,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*airClient]struct{}),
		rng:     rng,
	}
}

// ServeHTTP upgrades a node connection and relays its frames until it leaves
func (h *airHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="ledlink"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	c := &airClient{
		conn:   conn,
		send:   make(chan []byte, hubSendQueue),
		remote: r.RemoteAddr,
	}
	h.register(c)
	go h.writePump(c)
	h.readPump(c)
}

func (h *airHub) authorized(r *http.Request) bool {
	if h.cfg.Username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1
	return userOK && passOK
}

func (h *airHub) register(c *airClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("Node connected: %s (%d on air)", c.remote, n)
}

func (h *airHub) unregister(c *airClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("Node disconnected: %s (%d on air)", c.remote, n)
}

// clientCount returns the number of connected nodes
func (h *airHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stats returns a copy of the relay counters
func (h *airHub) Stats() hubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *airHub) readPump(c *airClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Air envelopes are always binary
		if messageType != websocket.BinaryMessage {
			continue
		}
		h.relay(c, data)
	}
}

func (h *airHub) writePump(c *airClient) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			h.logger.Printf("Write to %s failed: %v", c.remote, err)
			c.conn.Close()
			// Drain so relay never blocks on a dead client
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// relay delivers one transmitted envelope to every other node. Each
// receiver independently may lose the frame or see it corrupted.
func (h *airHub) relay(from *airClient, msg []byte) {
	env, err := radio.UnwrapEnvelope(msg)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Received++
	if err != nil {
		h.stats.Invalid++
		h.logger.Printf("Invalid envelope from %s: %v", from.remote, err)
		return
	}

	for c := range h.clients {
		if c == from {
			continue
		}
		if h.rng.Float64() < h.cfg.DropRate {
			h.stats.Dropped++
			continue
		}

		out := radio.Envelope{
			Frame: append([]byte(nil), env.Frame...),
			RSSI:  int8(h.cfg.RSSIDbm),
		}
		if h.rng.Float64() < h.cfg.CorruptRate && flipBit(out.Frame, h.rng) {
			h.stats.Corrupted++
		}

		wire, err := radio.WrapEnvelope(out)
		if err != nil {
			h.stats.Invalid++
			h.logger.Printf("Failed to re-encode envelope: %v", err)
			return
		}

		select {
		case c.send <- wire:
			h.stats.Delivered++
		default:
			h.stats.Overflows++
		}
	}
}

// flipBit inverts one random bit after the sync address, where the CRC
// catches it. Returns false if the frame has no such bits.
func flipBit(frame []byte, rng *rand.Rand) bool {
	if len(frame) <= genfsk.SyncBytes {
		return false
	}
	i := genfsk.SyncBytes + rng.Intn(len(frame)-genfsk.SyncBytes)
	frame[i] ^= 1 << uint(rng.Intn(8))
	return true
}

func runHub(cmd *cobra.Command, args []string) error {
	cfg := appConfig.Hub

	password := ""
	if cfg.Username != "" {
		var err error
		password, err = GetPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return errors.New("hub.username is set but the password is empty")
		}
	}

	hub := newAirHub(cfg, password, nil, nil)
	mux := http.NewServeMux()
	mux.Handle(hubPath, hub)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("LED link hub on %s%s\n", cfg.Listen, hubPath)
	fmt.Printf("Drop rate: %.2f, corrupt rate: %.2f, RSSI: %d dBm\n", cfg.DropRate, cfg.CorruptRate, cfg.RSSIDbm)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("hub server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down hub...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
	log.Printf("Hub stopped: %s", hub.Stats())
	return nil
}
