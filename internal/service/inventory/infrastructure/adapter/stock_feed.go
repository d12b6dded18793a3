package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/metrics"
	"stockledger/internal/service/inventory/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 运营看板跨域访问，允许所有来源
		return true
	},
}

// StockEvent 是推送给订阅方的库存变更消息
type StockEvent struct {
	Type  string           `json:"type"`
	Items []StockEventItem `json:"items"`
}

type StockEventItem struct {
	VariantID int64 `json:"variantId"`
	OnHand    int64 `json:"onHand"`
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
	Version   int64 `json:"version"`
}

// StockFeed 维护所有 websocket 订阅连接，并把库存变更广播出去
type StockFeed struct {
	clients   map[*feedClient]struct{}
	register  chan *feedClient
	broadcast chan StockEvent
	lock      sync.RWMutex
}

func NewStockFeed() *StockFeed {
	return &StockFeed{
		clients:   make(map[*feedClient]struct{}),
		register:  make(chan *feedClient),
		broadcast: make(chan StockEvent, 256),
	}
}

// Run 是 hub 的事件循环，ctx 结束时断开所有连接
func (h *StockFeed) Run(ctx context.Context) error {
	for {
		select {
		case c := <-h.register:
			h.lock.Lock()
			h.clients[c] = struct{}{}
			h.lock.Unlock()
			metrics.StockFeedClients.Inc()
		case ev := <-h.broadcast:
			h.dispatch(ctx, ev)
		case <-ctx.Done():
			h.lock.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				metrics.StockFeedClients.Dec()
			}
			h.lock.Unlock()
			return nil
		}
	}
}

func (h *StockFeed) remove(c *feedClient) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.StockFeedClients.Dec()
	}
}

func (h *StockFeed) dispatch(ctx context.Context, ev StockEvent) {
	h.lock.RLock()
	var slow []*feedClient
	for c := range h.clients {
		msg, ok := c.filter(ev)
		if !ok {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.lock.RUnlock()

	// 发送缓冲满的连接直接断开，订阅方重连后重新拉取快照
	for _, c := range slow {
		logger.Ctx(ctx).Warn().Msg("stock feed client too slow, dropping")
		h.remove(c)
	}
}

// ClientCount 当前订阅连接数
func (h *StockFeed) ClientCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// StockChanged 实现 port.StockChangeNotifier，不阻塞调用方
func (h *StockFeed) StockChanged(ctx context.Context, items []domain.StockItem) {
	ev := StockEvent{Type: "stock.changed", Items: make([]StockEventItem, 0, len(items))}
	for _, it := range items {
		ev.Items = append(ev.Items, StockEventItem{
			VariantID: it.VariantID,
			OnHand:    it.OnHand,
			Reserved:  it.Reserved,
			Available: it.Available(),
			Version:   it.Version,
		})
	}
	select {
	case h.broadcast <- ev:
	default:
		logger.Ctx(ctx).Warn().Int("items", len(items)).Msg("stock feed backlog full, event dropped")
	}
}

// ServeWS 升级连接并注册订阅
// 可选参数 variantId=1,2,3 只订阅指定 variant
func (h *StockFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	var only map[int64]struct{}
	if raw := r.URL.Query().Get("variantId"); raw != "" {
		only = make(map[int64]struct{})
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				http.Error(w, "invalid variantId", http.StatusBadRequest)
				return
			}
			only[id] = struct{}{}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &feedClient{hub: h, conn: conn, send: make(chan []byte, 64), only: only}
	select {
	case h.register <- c:
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type feedClient struct {
	hub  *StockFeed
	conn *websocket.Conn
	send chan []byte
	only map[int64]struct{}
}

// filter 按订阅范围裁剪事件，没有命中的 variant 时不推送
func (c *feedClient) filter(ev StockEvent) ([]byte, bool) {
	if c.only != nil {
		items := make([]StockEventItem, 0, len(ev.Items))
		for _, it := range ev.Items {
			if _, ok := c.only[it.VariantID]; ok {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			return nil, false
		}
		ev.Items = items
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理心跳，订阅方发来的内容直接丢弃
func (c *feedClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
