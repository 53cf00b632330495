//
// Copyright 2016 Gregory Trubetskoy. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tgres/tgview/coordinator"
	"github.com/tgres/tgview/series"
)

const (
	wsMaxClients   = 100
	wsSendBuffer   = 256
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 1 << 16
	wsGestureQueue = 64
)

// Messages sent to browsers.
type wsPoint struct {
	T int64   `json:"t"` // milliseconds since epoch
	V float64 `json:"v"`
	A float64 `json:"a,omitempty"`
}

type wsView struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type wsOutMessage struct {
	Type          string    `json:"type"`
	Row           string    `json:"row,omitempty"`
	View          *wsView   `json:"view,omitempty"`
	Points        []wsPoint `json:"points,omitempty"`
	Message       string    `json:"message,omitempty"`
	Granularity   string    `json:"granularity,omitempty"`
	Granularities []string  `json:"granularities,omitempty"`
}

// Gestures received from browsers.
type wsInMessage struct {
	Type        string `json:"type"`
	Row         string `json:"row"`
	DeltaMs     int64  `json:"delta_ms"`
	Granularity string `json:"granularity"`
}

func jsonView(v series.TimeRange) *wsView {
	return &wsView{Start: v.Start.UnixNano() / 1e6, End: v.End.UnixNano() / 1e6}
}

func jsonPoints(points []series.Point) []wsPoint {
	result := make([]wsPoint, len(points))
	for i, p := range points {
		result[i] = wsPoint{T: p.T.UnixNano() / 1e6, V: p.Value, A: p.Anomaly}
	}
	return result
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	gestures chan *wsInMessage
}

// Hub pushes redraws to every connected browser and feeds the gestures
// browsers send back into the coordinator. It is the Renderer, Remover
// and Notifier of the coordinator it is attached to.
type Hub struct {
	upgrader websocket.Upgrader
	coord    *coordinator.Coordinator

	ctx    context.Context
	cancel context.CancelFunc

	clientsMutex sync.RWMutex
	clients      map[*wsClient]bool
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*wsClient]bool),
	}
}

// Attach sets the coordinator gestures are sent to. It must be called
// before the hub serves connections.
func (h *Hub) Attach(c *coordinator.Coordinator) {
	h.coord = c
}

// Stop disconnects all clients and cancels gestures in progress.
func (h *Hub) Stop() {
	h.cancel()
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) clientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) Redraw(rowID string, points []series.Point, view series.TimeRange) {
	h.broadcastMessage(&wsOutMessage{Type: "redraw", Row: rowID, View: jsonView(view), Points: jsonPoints(points)})
}

func (h *Hub) Remove(rowID string) {
	h.broadcastMessage(&wsOutMessage{Type: "remove", Row: rowID})
}

func (h *Hub) Notify(err error) {
	h.broadcastMessage(&wsOutMessage{Type: "error", Message: err.Error()})
}

// broadcastMessage queues msg for every client. A client too slow to
// keep up is disconnected.
func (h *Hub) broadcastMessage(msg *wsOutMessage) {
	h.clientsMutex.RLock()
	if len(h.clients) == 0 {
		h.clientsMutex.RUnlock()
		return
	}
	h.clientsMutex.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcastMessage(): error marshaling message: %v", err)
		return
	}

	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("broadcastMessage(): client %v not keeping up, disconnecting", c.conn.RemoteAddr())
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *wsClient) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	if h.clients[c] {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.clientCount() >= wsMaxClients {
			http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		c := &wsClient{
			conn:     conn,
			send:     make(chan []byte, wsSendBuffer),
			gestures: make(chan *wsInMessage, wsGestureQueue),
		}
		h.register(c)
		go h.writeLoop(c)
		go h.dispatchLoop(c)

		h.sendState(c)
		h.readLoop(c)
	}
}

// sendTo queues msg for c alone. Like a broadcast, a client too slow
// to keep up is disconnected.
func (h *Hub) sendTo(c *wsClient, msg *wsOutMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("sendTo(): error marshaling message: %v", err)
		return
	}
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("sendTo(): client %v not keeping up, disconnecting", c.conn.RemoteAddr())
		close(c.send)
		delete(h.clients, c)
	}
}

// sendState brings a newly connected client up to date. Other clients
// see nothing of it.
func (h *Hub) sendState(c *wsClient) {
	if h.coord == nil {
		return
	}
	var names []string
	for _, g := range series.Granularities() {
		names = append(names, g.String())
	}
	err := h.coord.Snapshot(h.ctx, func(snap coordinator.Snapshot) {
		view := jsonView(snap.View)
		h.sendTo(c, &wsOutMessage{
			Type:          "state",
			View:          view,
			Granularity:   snap.Granularity.String(),
			Granularities: names,
		})
		for _, f := range snap.Frames {
			h.sendTo(c, &wsOutMessage{Type: "redraw", Row: f.RowID, View: view, Points: jsonPoints(f.Points)})
		}
	})
	if err != nil {
		log.Printf("sendState(): %v", err)
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		close(c.gestures)
		h.unregister(c)
	}()
	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
		var msg wsInMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("readLoop(): ignoring malformed message: %v", err)
			continue
		}
		select {
		case c.gestures <- &msg:
		default:
			log.Printf("readLoop(): client %v gesture queue full, dropping %q", c.conn.RemoteAddr(), msg.Type)
		}
	}
}

// dispatchLoop applies the gestures of one client in the order they
// were sent. Consecutive pans queued behind a slow gesture are summed
// into one.
func (h *Hub) dispatchLoop(c *wsClient) {
	var next *wsInMessage
	for {
		msg := next
		next = nil
		if msg == nil {
			var ok bool
			if msg, ok = <-c.gestures; !ok {
				return
			}
		}
		if msg.Type == "pan" {
			msg, next = mergePans(msg, c.gestures)
		}
		h.dispatch(msg)
	}
}

// mergePans adds to pan the deltas of pans already waiting in queue. The
// first gesture which is not a pan is returned as next.
func mergePans(pan *wsInMessage, queue <-chan *wsInMessage) (merged, next *wsInMessage) {
	merged = pan
	for {
		select {
		case m, ok := <-queue:
			if !ok {
				return merged, nil
			}
			if m.Type != "pan" {
				return merged, m
			}
			if merged == pan {
				cp := *pan
				merged = &cp
			}
			merged.DeltaMs += m.DeltaMs
		default:
			return merged, nil
		}
	}
}

func (h *Hub) dispatch(msg *wsInMessage) {
	if h.coord == nil {
		return
	}
	var err error
	switch msg.Type {
	case "pan":
		// With a single browser the row being dragged already shows
		// the new window. With several, the others need it too.
		var source coordinator.Widget
		if h.clientCount() == 1 {
			if r := h.coord.Row(msg.Row); r != nil {
				source = r
			}
		}
		err = h.coord.OnPan(h.ctx, time.Duration(msg.DeltaMs)*time.Millisecond, source)
	case "granularity":
		var g series.Granularity
		if g, err = series.ParseGranularity(msg.Granularity); err == nil {
			err = h.coord.OnGranularityChange(h.ctx, g)
		}
	case "click":
		err = h.coord.Click(h.ctx, msg.Row)
	default:
		log.Printf("dispatch(): unknown message type %q", msg.Type)
		return
	}
	if err != nil {
		log.Printf("dispatch(): %s: %v", msg.Type, err)
	}
}
