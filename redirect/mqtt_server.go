package redirect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// MQTTRedirector 内置MQTT broker，事件发布到publishTopic，下游往subscribeTopic发指令
type MQTTRedirector struct {
	server         *mqtt.Server
	listeners      []listeners.Listener
	publishTopic   string
	subscribeTopic string
	auth           Authenticator
	errs           []error
	mu             sync.Mutex
	onMessage      OnMessage
	log            *slog.Logger
}

type MQTTOption = func(*MQTTRedirector)

func WithTCP(port int) MQTTOption {
	return func(h *MQTTRedirector) {
		h.listeners = append(h.listeners, listeners.NewTCP(listeners.Config{ID: fmt.Sprintf("tcp_%d", port), Address: fmt.Sprintf(":%d", port)}))
	}
}

func WithWS(port int) MQTTOption {
	return func(h *MQTTRedirector) {
		h.listeners = append(h.listeners, listeners.NewWebsocket(listeners.Config{ID: fmt.Sprintf("ws_%d", port), Address: fmt.Sprintf(":%d", port)}))
	}
}

func WithSubscribeTopic(topic string) MQTTOption {
	return func(h *MQTTRedirector) {
		h.subscribeTopic = topic
	}
}

func WithMQTTAuth(authenticator Authenticator) MQTTOption {
	return func(h *MQTTRedirector) {
		h.auth = authenticator
	}
}

func WithMQTTLogger(log *slog.Logger) MQTTOption {
	return func(h *MQTTRedirector) {
		h.log = log
	}
}

func NewMQTTRedirector(publishTopic string, options ...MQTTOption) *MQTTRedirector {
	h := &MQTTRedirector{
		publishTopic: publishTopic,
		log:          slog.Default(),
	}
	for _, option := range options {
		option(h)
	}
	h.server = mqtt.New(&mqtt.Options{
		InlineClient: true, // 开启内联客户端
		Logger:       h.log,
	})
	var err error
	if h.auth != nil {
		err = h.server.AddHook(new(UserAuthHook), &userAuthHookOption{
			auth:         h.auth,
			commandTopic: h.subscribeTopic,
			log:          h.log,
		})
	} else {
		// 允许所有连接
		err = h.server.AddHook(new(auth.AllowHook), nil)
	}
	if err != nil {
		h.errs = append(h.errs, err)
	}
	for _, l := range h.listeners {
		if err = h.server.AddListener(l); err != nil {
			h.errs = append(h.errs, err)
		}
	}
	return h
}

// ListenAndServe 阻塞直到ctx结束
func (h *MQTTRedirector) ListenAndServe(ctx context.Context) error {
	if err := errors.Join(h.errs...); err != nil {
		_ = h.server.Close()
		return err
	}
	if h.subscribeTopic != "" {
		if err := h.server.Subscribe(h.subscribeTopic, 1, h.receive); err != nil {
			return err
		}
	}
	if err := h.server.Serve(); err != nil {
		return err
	}
	h.log.Info("MQTT转发服务启动", "publish", h.publishTopic, "subscribe", h.subscribeTopic)
	<-ctx.Done()
	return h.server.Close()
}

func (h *MQTTRedirector) receive(cl *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn == nil {
		return
	}
	username := string(cl.Properties.Username)
	if err := fn(pk.Payload, "MQTT", username); err != nil {
		h.log.Warn("处理MQTT指令失败", "username", username, "error", err)
	}
}

func (h *MQTTRedirector) SendMessage(message []byte) error {
	return h.server.Publish(h.publishTopic, message, false, 1)
}

func (h *MQTTRedirector) OnMessage(fn OnMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

type (
	UserAuthHook struct {
		mqtt.HookBase
		auth         Authenticator
		commandTopic string
		log          *slog.Logger
	}
	userAuthHookOption struct {
		auth         Authenticator
		commandTopic string
		log          *slog.Logger
	}
)

func (h *UserAuthHook) ID() string {
	return "user-auth"
}

func (h *UserAuthHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
	}, []byte{b})
}

func (h *UserAuthHook) Init(config any) error {
	cfg, ok := config.(*userAuthHookOption)
	if !ok || cfg == nil || cfg.auth == nil {
		return mqtt.ErrInvalidConfigType
	}
	h.auth, h.commandTopic, h.log = cfg.auth, cfg.commandTopic, cfg.log
	if h.log == nil {
		h.log = slog.Default()
	}
	return nil
}

// OnACLCheck 下游只能往指令topic发布，订阅不限制
func (h *UserAuthHook) OnACLCheck(_ *mqtt.Client, topic string, write bool) bool {
	if !write {
		return true
	}
	return h.commandTopic != "" && topic == h.commandTopic
}

func (h *UserAuthHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	username := string(pk.Connect.Username)
	authed := h.auth.CheckUser(username, string(pk.Connect.Password))
	if !authed {
		h.log.Error("MQTT鉴权失败", "username", username, "client", cl.ID)
	} else {
		h.log.Info("MQTT客户端已连接", "username", username, "client", cl.ID)
	}
	return authed
}
