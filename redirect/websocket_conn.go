package redirect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readLimit    = 1024 * 1024 * 10
	writeTimeout = 2 * time.Second
	sendBuffer   = 16
)

type connection struct {
	conn      *websocket.Conn
	heartbeat time.Duration
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	receive   func(message []byte)
	log       *slog.Logger
}

func newConnection(conn *websocket.Conn, heartbeat time.Duration, log *slog.Logger, receive func(message []byte)) *connection {
	conn.SetReadLimit(readLimit)
	return &connection{
		conn:      conn,
		heartbeat: heartbeat,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		receive:   receive,
		log:       log,
	}
}

// Serve 负责所有写操作，读在单独的goroutine里，直到ctx结束或连接出错
func (c *connection) Serve(ctx context.Context) error {
	defer c.Close()
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readMessage()
	}()
	var tick <-chan time.Time
	if c.heartbeat > 0 {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return nil
		case <-c.done:
			return nil
		case err := <-readErr:
			return err
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.log.Error("心跳消息出错", "error", err)
				return err
			}
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Error("发送消息出错", "error", err)
				return err
			}
		}
	}
}

func (c *connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// SendMessage 不阻塞，缓冲区满时返回错误
func (c *connection) SendMessage(message []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- message:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

func (c *connection) readMessage() error {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			c.log.Error("读取消息出错", "error", err)
			return err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		c.onReceiveMessage(message)
	}
}

func (c *connection) onReceiveMessage(message []byte) {
	defer func() {
		if e := recover(); e != nil {
			c.log.Error("onMessage出错", "error", e)
		}
	}()
	if c.receive != nil {
		c.receive(message)
	} else {
		c.log.Debug("收到消息", "message", string(message))
	}
}
