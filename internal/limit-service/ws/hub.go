package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/pkg/contracts/events"
)

// client serializa as escritas; o gorilla não aceita writers concorrentes
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msgType int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(msgType, b)
}

// Hub gerencia as conexões dos painéis de risco por batch
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	// batchID -> conexões inscritas
	subs map[string]map[*client]struct{}
}

func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS mantém a conexão até o cliente sair; cada painel pode assinar vários batches
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &client{conn: conn}

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.BatchID == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.BatchID]; !ok {
				h.subs[msg.BatchID] = make(map[*client]struct{})
			}
			h.subs[msg.BatchID][c] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.remove(msg.BatchID, c)
		case "ping":
			_ = c.write(websocket.TextMessage, []byte(`{"type":"pong"}`))
		}
	}

	h.mu.Lock()
	for batch, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, batch)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) remove(batchID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[batchID]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, batchID)
		}
	}
}

func (h *Hub) Subscribers(batchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[batchID])
}

// Broadcast envia o alerta para os painéis inscritos no batch do alerta
func (h *Hub) Broadcast(a events.RiskAlert) {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.subs[a.BatchID]))
	for c := range h.subs[a.BatchID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, err := json.Marshal(AlertMsg{Type: "risk_alert", BatchID: a.BatchID, Alert: a})
	if err != nil {
		h.log.Warn("ws alert marshal failed", zap.Error(err))
		return
	}
	for _, c := range conns {
		if err := c.write(websocket.TextMessage, b); err != nil {
			h.log.Debug("ws write failed", zap.Error(err))
		}
	}
}
