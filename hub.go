package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gewe-hub/hub"
	"gewe-hub/metrics"
	"gewe-hub/redirect"
	"gewe-hub/store"
)

var ErrHubClosed = errors.New("hub已关闭")

type (
	// EventHandler 下游事件处理，在分发任务中执行
	EventHandler func(ctx context.Context, ev hub.Event) error

	Hub struct {
		classifier      *hub.Classifier
		store           *store.Store
		journal         hub.MessageManager
		member          hub.MemberManager
		sender          *MsgSender
		redirects       redirect.Fanout
		handlers        []EventHandler
		wxid            string
		selfVisible     bool
		shutdownTimeout time.Duration
		commandTimeout  time.Duration
		log             *slog.Logger

		mu       sync.Mutex
		closed   bool
		nextTask uint64
		tasks    map[uint64]context.CancelFunc
		wg       sync.WaitGroup
		failed   atomic.Int64
	}
	HubOption = func(*Hub)
)

func WithSelf(wxid string, visible bool) HubOption {
	return func(h *Hub) {
		h.wxid, h.selfVisible = wxid, visible
	}
}

func WithJournal(journal hub.MessageManager) HubOption {
	return func(h *Hub) {
		h.journal = journal
	}
}

func WithMember(member hub.MemberManager) HubOption {
	return func(h *Hub) {
		h.member = member
	}
}

func WithSender(sender *MsgSender) HubOption {
	return func(h *Hub) {
		h.sender = sender
	}
}

func WithHandler(handler EventHandler) HubOption {
	return func(h *Hub) {
		h.handlers = append(h.handlers, handler)
	}
}

func WithShutdownTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.shutdownTimeout = d
	}
}

func WithHubLogger(log *slog.Logger) HubOption {
	return func(h *Hub) {
		h.log = log
	}
}

func NewHub(classifier *hub.Classifier, store *store.Store, options ...HubOption) *Hub {
	h := &Hub{
		classifier:      classifier,
		store:           store,
		selfVisible:     true,
		shutdownTimeout: 10 * time.Second,
		commandTimeout:  30 * time.Second,
		log:             slog.Default(),
		tasks:           make(map[uint64]context.CancelFunc),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// AddRedirect 添加一个转发器，能接收指令的转发器同时注册指令处理
func (h *Hub) AddRedirect(r redirect.MessageRedirector) {
	h.redirects = append(h.redirects, r)
	if receiver, ok := r.(redirect.MessageReceiver); ok {
		receiver.OnMessage(h.receive)
	}
}

// Receive 处理一次回调：解析、分类、过滤自己的消息、入库，然后异步分发
func (h *Hub) Receive(body []byte) error {
	webhookID := uuid.NewString()
	p, err := hub.ParsePayload(body)
	if err != nil {
		metrics.WebhookRejected.Inc()
		h.log.Warn("回调内容解析失败", "webhookId", webhookID, "error", err)
		return err
	}
	metrics.WebhookReceived.WithLabelValues(string(p.TypeName)).Inc()

	ev, err := h.classifier.Classify(p)
	if err != nil {
		if errors.Is(err, hub.ErrContractViolation) {
			metrics.ContractViolations.Inc()
		}
		h.log.Error("事件分类失败，已丢弃", "webhookId", webhookID, "typeName", p.TypeName, "error", err)
		return err
	}
	metrics.EventsClassified.WithLabelValues(string(ev.Kind()), string(ev.Leaf())).Inc()

	if !h.selfVisible && hub.IsSelfMessage(ev, h.wxid) {
		metrics.SelfMessagesFiltered.Inc()
		h.log.Debug("忽略自己发出的消息", "webhookId", webhookID, "event", ev.Name())
		return nil
	}

	systemID := h.store.Insert(ev)
	h.log.Info("收到事件", "webhookId", webhookID, "systemId", systemID, "event", ev.Name(), "desc", ev.Description())
	return h.dispatch(ev)
}

// dispatch 每个事件一个任务，任务之间互不影响
func (h *Hub) dispatch(ev hub.Event) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := h.nextTask
	h.nextTask++
	h.tasks[id] = cancel
	h.wg.Add(1)
	h.mu.Unlock()

	metrics.DispatchInFlight.Inc()
	go func() {
		defer func() {
			cancel()
			h.mu.Lock()
			delete(h.tasks, id)
			h.mu.Unlock()
			metrics.DispatchInFlight.Dec()
			h.wg.Done()
		}()
		defer func() {
			if r := recover(); r != nil {
				h.fail()
				h.log.Error("分发任务异常", "event", ev.Name(), "panic", r)
			}
		}()
		if err := h.handle(ctx, ev); err != nil {
			h.fail()
			h.log.Error("分发事件失败", "event", ev.Name(), "error", err)
		}
	}()
	return nil
}

func (h *Hub) fail() {
	h.failed.Add(1)
	metrics.DispatchFailures.Inc()
}

func (h *Hub) handle(ctx context.Context, ev hub.Event) error {
	ev = h.enrich(ctx, ev)
	var errs []error
	if err := h.saveJournal(ev); err != nil {
		errs = append(errs, err)
	}
	if len(h.redirects) > 0 {
		deliveryID, b, err := redirect.Encode(ev)
		if err == nil {
			err = h.redirects.SendMessage(b)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("转发事件 %s: %w", deliveryID, err))
		}
	}
	for _, handler := range h.handlers {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := handler(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enrich 补全@的wxid、下载图片、同步群成员，失败只记录日志
func (h *Hub) enrich(ctx context.Context, ev hub.Event) hub.Event {
	if msg, ok := ev.Message(); ok {
		content := msg.Content
		if msg.IsGroup() && h.member != nil && content.Has(hub.SegAt) {
			content = h.member.ResolveMentions(ctx, msg.FromID, content)
		}
		if ev.Leaf() == hub.LeafImage && h.sender != nil {
			resource, err := h.sender.SaveImage(ctx, msg.RawContent)
			if err != nil {
				h.log.Warn("下载图片失败", "newMsgId", msg.DedupID, "error", err)
			} else {
				content = append(hub.Message{hub.Image("RESOURCE:" + resource)}, content...)
			}
		}
		return ev.WithContent(content)
	}
	if notice, ok := ev.Notice(); ok && notice.IsGroup() && h.member != nil {
		switch ev.Leaf() {
		case hub.LeafMemberRemoved, hub.LeafGroupInfoChanged, hub.LeafGroupOwnerChanged:
			left, err := h.member.RefreshGroupMember(ctx, notice.FromID)
			if err != nil {
				h.log.Warn("同步群成员失败", "gid", notice.FromID, "error", err)
			} else if len(left) > 0 {
				h.log.Info("群成员已变化", "gid", notice.FromID, "left", len(left))
			}
		}
	}
	return ev
}

func (h *Hub) saveJournal(ev hub.Event) error {
	dedupID, ok := ev.DedupID()
	if h.journal == nil || !ok {
		return nil
	}
	exist, err := h.journal.Exist(dedupID)
	if err != nil {
		return err
	}
	if exist {
		h.log.Debug("消息已记录", "newMsgId", dedupID)
		return nil
	}
	return h.journal.Save(ev)
}

// receive 处理下游通过websocket或mqtt发来的指令
func (h *Hub) receive(payload []byte, receiver string, id string) error {
	var cmd hub.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("解析指令失败: %w", err)
	}
	h.log.Info("收到指令", "command", cmd.Command, "receiver", receiver, "user", id)
	switch cmd.Command {
	case hub.CommandSendMsg:
		if h.sender == nil {
			return errors.New("未配置消息发送")
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.commandTimeout)
		defer cancel()
		return h.sender.SendMsg(ctx, &cmd.Param)
	default:
		return fmt.Errorf("不支持的指令: %s", cmd.Command)
	}
}

// Pending 正在执行的分发任务数
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tasks)
}

func (h *Hub) Failures() int64 {
	return h.failed.Load()
}

// Shutdown 取消所有分发任务并等待结束，超时返回错误
func (h *Hub) Shutdown() error {
	h.mu.Lock()
	h.closed = true
	for _, cancel := range h.tasks {
		cancel()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(h.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		h.log.Info("分发任务已全部结束", "failures", h.Failures())
		return nil
	case <-timer.C:
		pending := h.Pending()
		h.log.Error("等待分发任务超时", "pending", pending, "failures", h.Failures())
		return fmt.Errorf("等待分发任务超时: %d个任务未结束", pending)
	}
}
