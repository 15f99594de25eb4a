/*
Copyright © 2018 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package monitor serves a live websocket feed of per-step simulation
// progress, for watching a long-running flowterra group without waiting
// for its final output file. No InMAP file wires up gorilla/websocket
// beyond a single content-type sniff in emissions/slca/eieio/server.go, so
// this package is a fresh implementation of a standard broadcast hub around
// that dependency rather than an adaptation of a specific InMAP file.
package monitor

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Snapshot is one step's worth of progress, the wire shape pushed to every
// connected dashboard client.
type Snapshot struct {
	Rank         int     `json:"rank"`
	StepIdx      int     `json:"step_idx"`
	ElapsedS     float64 `json:"elapsed_s"`
	NParticles   int     `json:"n_particles"`
	OutflowVolM3 float64 `json:"outflow_vol_m3"`
}

// Hub fans Snapshot values out to every connected websocket client. The
// zero value is not usable; construct with NewHub.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub returns an empty Hub ready to accept connections and broadcasts.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeWS upgrades r to a websocket connection and registers it to receive
// future broadcasts. It reads and discards any client-sent messages purely
// to detect disconnects, since the feed is one-directional.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends snap as JSON to every currently connected client,
// dropping any client whose write fails.
func (h *Hub) Broadcast(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("monitor: marshaling snapshot: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// servePublish decodes a Snapshot from a POST body and re-broadcasts it,
// letting a worker process running in its own Job push progress to a
// dashboard hub it does not share memory with.
func (h *Hub) servePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var snap Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Broadcast(snap)
}

// Serve starts an HTTP server on addr exposing h's dashboard feed at /ws
// and its publish endpoint at /publish. It blocks until the server stops
// or errors, matching net/http.ListenAndServe's convention.
func Serve(addr string, h *Hub) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/publish", h.servePublish)
	return http.ListenAndServe(addr, mux)
}

// Publisher sends one Snapshot somewhere a dashboard can pick it up.
// RunOptions.Monitor holds one of these rather than a *Hub directly, so a
// distributed worker that doesn't share memory with the dashboard process
// can publish over HTTP while an in-process local run can skip the network
// hop entirely.
type Publisher interface {
	Publish(snap Snapshot)
}

// LocalPublisher broadcasts directly to an in-process Hub.
type LocalPublisher struct {
	Hub *Hub
}

func (p LocalPublisher) Publish(snap Snapshot) { p.Hub.Broadcast(snap) }

// HTTPPublisher posts each Snapshot to a remote Hub's /publish endpoint,
// for workers running as separate Kubernetes Jobs with no shared memory.
// Publish errors are logged, not returned, since a dropped dashboard update
// must never interrupt the simulation it is reporting on.
type HTTPPublisher struct {
	BaseURL string
	Client  *http.Client
}

func (p HTTPPublisher) Publish(snap Snapshot) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("monitor: marshaling snapshot: %v", err)
		return
	}
	resp, err := client.Post(p.BaseURL+"/publish", "application/json", bytes.NewReader(data))
	if err != nil {
		log.Printf("monitor: publishing snapshot: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("monitor: publish returned status %s", resp.Status)
	}
}
