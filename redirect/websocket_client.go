package redirect

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientRedirector 主动连接下游websocket服务，断线自动重连
type WSClientRedirector struct {
	serverUrl string
	header    http.Header
	messages  chan []byte
	heartbeat time.Duration
	retry     time.Duration
	mu        sync.Mutex
	onMessage OnMessage
	log       *slog.Logger
}

type WSClientOption func(h *WSClientRedirector)

func WSClientHeartbeat(heartbeat time.Duration) WSClientOption {
	return func(h *WSClientRedirector) {
		// 最低5s心跳
		if heartbeat < time.Second*5 {
			heartbeat = time.Second * 5
		}
		h.heartbeat = heartbeat
	}
}

func WSClientRetry(retry time.Duration) WSClientOption {
	return func(h *WSClientRedirector) {
		h.retry = retry
	}
}

func WSClientAuth(username, password string) WSClientOption {
	return func(h *WSClientRedirector) {
		req := http.Request{Header: http.Header{}}
		req.SetBasicAuth(username, password)
		h.header = req.Header
	}
}

func WSClientLogger(log *slog.Logger) WSClientOption {
	return func(h *WSClientRedirector) {
		h.log = log
	}
}

func NewWSClientRedirector(serverUrl string, options ...WSClientOption) *WSClientRedirector {
	h := &WSClientRedirector{
		serverUrl: serverUrl,
		messages:  make(chan []byte, 64),
		heartbeat: 30 * time.Second,
		retry:     5 * time.Second,
		log:       slog.Default(),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Run 阻塞直到ctx结束
func (h *WSClientRedirector) Run(ctx context.Context) error {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, h.serverUrl, h.header)
		if err == nil {
			h.log.Info("websocket连接成功", "server", h.serverUrl)
			err = h.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return nil
		}
		h.log.Error("websocket连接断开 等待重连", "server", h.serverUrl, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.retry):
		}
	}
}

func (h *WSClientRedirector) serve(ctx context.Context, conn *websocket.Conn) error {
	c := newConnection(conn, h.heartbeat, h.log, func(message []byte) {
		h.mu.Lock()
		fn := h.onMessage
		h.mu.Unlock()
		if fn == nil {
			return
		}
		if err := fn(message, "WS", h.serverUrl); err != nil {
			h.log.Warn("处理websocket指令失败", "server", h.serverUrl, "error", err)
		}
	})
	go h.forward(c)
	return c.Serve(ctx)
}

// forward 把缓冲区的事件交给当前连接，连接断开时未取出的事件留给下一个连接
func (h *WSClientRedirector) forward(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case message := <-h.messages:
			if err := c.SendMessage(message); err != nil {
				h.log.Error("发送消息失败", "error", err)
				return
			}
		}
	}
}

func (h *WSClientRedirector) SendMessage(message []byte) error {
	select {
	case h.messages <- message:
		return nil
	default:
		return ErrBufferFull
	}
}

func (h *WSClientRedirector) OnMessage(fn OnMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}
