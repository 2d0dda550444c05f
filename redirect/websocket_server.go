package redirect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type WSServerRedirector struct {
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	mu        sync.Mutex
	clients   map[*connection]struct{}
	onMessage OnMessage
	auth      Authenticator
	log       *slog.Logger
}

type WSServerOption func(h *WSServerRedirector)

func WSServerHeartbeat(heartbeat time.Duration) WSServerOption {
	return func(h *WSServerRedirector) {
		// 最低5s心跳
		if heartbeat < time.Second*5 {
			heartbeat = time.Second * 5
		}
		h.heartbeat = heartbeat
	}
}

func WSServerAuth(auth Authenticator) WSServerOption {
	return func(h *WSServerRedirector) {
		h.auth = auth
	}
}

func WSServerLogger(log *slog.Logger) WSServerOption {
	return func(h *WSServerRedirector) {
		h.log = log
	}
}

func NewWSServerRedirector(options ...WSServerOption) *WSServerRedirector {
	h := &WSServerRedirector{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		heartbeat: 30 * time.Second,
		clients:   make(map[*connection]struct{}),
		log:       slog.Default(),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// credentials 支持basic auth和url参数两种方式
func credentials(r *http.Request) (string, string) {
	if username, password, ok := r.BasicAuth(); ok {
		return username, password
	}
	return r.URL.Query().Get("username"), r.URL.Query().Get("password")
}

func (h *WSServerRedirector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username, password := credentials(r)
	if h.auth != nil && !h.auth.CheckUser(username, password) {
		h.log.Error("websocket鉴权失败，用户名或密码错误", "username", username, "remote", r.RemoteAddr)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket升级失败", "error", err)
		return
	}
	if username == "" {
		username = r.RemoteAddr
	}
	c := newConnection(conn, h.heartbeat, h.log, func(message []byte) {
		h.mu.Lock()
		fn := h.onMessage
		h.mu.Unlock()
		if fn == nil {
			return
		}
		if err := fn(message, "WS", username); err != nil {
			h.log.Warn("处理websocket指令失败", "username", username, "error", err)
		}
	})
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("websocket客户端已连接", "username", username, "remote", r.RemoteAddr)

	err = c.Serve(r.Context())

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.log.Info("websocket客户端已断开", "username", username, "error", err)
}

// SendMessage 广播给所有在线客户端，慢客户端会被断开
func (h *WSServerRedirector) SendMessage(message []byte) error {
	h.mu.Lock()
	clients := make([]*connection, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		if err := c.SendMessage(message); err != nil {
			h.log.Error("发送消息失败", "error", err)
			c.Close()
		}
	}
	return nil
}

func (h *WSServerRedirector) OnMessage(fn OnMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

func (h *WSServerRedirector) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WSServerRedirector) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
	}
}

// ListenAndServe 阻塞直到ctx结束
func (h *WSServerRedirector) ListenAndServe(ctx context.Context, port int) error {
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: h}
	go func() {
		<-ctx.Done()
		h.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	h.log.Info("websocket转发服务启动", "port", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
