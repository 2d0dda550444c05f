package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gewe-hub/hub"
	"gewe-hub/storage"
	"gewe-hub/store"
)

const maxCallbackSize = 10 << 10 << 10 // 10MB

type (
	Authenticator interface {
		CheckUser(username, password string) bool
	}

	HttpHandler struct {
		*http.ServeMux
		hub     *Hub
		storage storage.Storage
		sender  *MsgSender
		auth    Authenticator
		member  hub.MemberManager
		journal hub.MessageManager
		log     *slog.Logger
	}
	HttpHandlerOption = func(handler *HttpHandler)

	httpResult[T any] struct {
		Code int    `json:"code"` // 0表示成功
		Msg  string `json:"msg"`  //
		Data T      `json:"data"`
	}

	eventResult struct {
		SystemID int64               `json:"systemId,omitempty"`
		Day      store.Day           `json:"day,omitempty"`
		Event    *hub.Event          `json:"event,omitempty"`
		Journal  *hub.JournalMessage `json:"journal,omitempty"`
	}
)

func WithBaseAuth(auth Authenticator) HttpHandlerOption {
	return func(handler *HttpHandler) {
		handler.auth = auth
	}
}

func WithMemberManager(member hub.MemberManager) HttpHandlerOption {
	return func(handler *HttpHandler) {
		handler.member = member
	}
}

func WithMessageManager(journal hub.MessageManager) HttpHandlerOption {
	return func(handler *HttpHandler) {
		handler.journal = journal
	}
}

func WithHandlerLogger(log *slog.Logger) HttpHandlerOption {
	return func(handler *HttpHandler) {
		handler.log = log
	}
}

func NewHttpHandler(callbackPath string, h *Hub, storage storage.Storage, sender *MsgSender, options ...HttpHandlerOption) *HttpHandler {
	handler := &HttpHandler{
		ServeMux: http.NewServeMux(),
		hub:      h,
		storage:  storage,
		sender:   sender,
		log:      slog.Default(),
	}
	for _, option := range options {
		option(handler)
	}
	handler.HandleFunc(callbackPath, handler.callback)
	handler.HandleFunc("/health", handler.health)
	handler.Handle("/metrics", promhttp.Handler())
	handler.HandleFunc("/resource", handler.resource)
	handler.HandleFunc("/msg/send", handler.sendMsg)
	handler.HandleFunc("/event", handler.event)
	handler.HandleFunc("/group", handler.group)
	return handler
}

// ListenAndServe 阻塞直到ctx结束
func (h *HttpHandler) ListenAndServe(ctx context.Context, port int) error {
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	h.log.Info("HttpHandler listening on", "port", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HttpHandler) Error(w http.ResponseWriter, error string, code int) {
	jsonData, err := json.Marshal(httpResult[string]{
		Code: code,
		Msg:  error,
	})
	if err != nil {
		h.log.Error("HttpHandler marshal Error", "err", err)
		http.Error(w, error, code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(jsonData)
}

func (h *HttpHandler) Success(w http.ResponseWriter, data any) {
	jsonData, err := json.Marshal(httpResult[any]{
		Code: 0,
		Msg:  "OK",
		Data: data,
	})
	if err != nil {
		h.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jsonData)
}

func (h *HttpHandler) checkAuth(r *http.Request) bool {
	if h.auth != nil {
		username, password, ok := r.BasicAuth()
		if !ok {
			return false
		}
		return h.auth.CheckUser(username, password)
	}
	return true
}

// callback 网关回调，无论处理结果都返回200，避免网关重推
func (h *HttpHandler) callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackSize))
	if err != nil {
		h.log.Error("HttpHandler callback read body", "err", err)
		h.Success(w, nil)
		return
	}
	if err = h.hub.Receive(body); err != nil {
		h.log.Debug("HttpHandler callback", "err", err)
	}
	h.Success(w, nil)
}

func (h *HttpHandler) health(w http.ResponseWriter, r *http.Request) {
	if h.sender != nil && h.sender.Alive(r.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("UP"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("DOWN"))
	}
}

func (h *HttpHandler) resource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		h.Error(w, "Invalid resource", http.StatusBadRequest)
		return
	}
	reader, err := h.storage.Reader(resource)
	if err != nil {
		h.log.Error("HttpHandler resource", "err", err)
		switch {
		case errors.Is(err, storage.ErrInvalidName):
			h.Error(w, "Invalid resource", http.StatusBadRequest)
		case errors.Is(err, fs.ErrNotExist):
			h.Error(w, "Resource not found", http.StatusNotFound)
		default:
			h.Error(w, "Error reading file from server.", http.StatusInternalServerError)
		}
		return
	}
	defer func() {
		_ = reader.Close()
	}()
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

// 发送消息
func (h *HttpHandler) sendMsg(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkAuth(r) {
		h.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var msg hub.SendMsgCommand
	switch contentType {
	case "application/json":
		defer func() {
			_ = r.Body.Close()
		}()
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			h.log.Error("HttpHandler sendMsg decode json", "err", err)
			h.Error(w, "Error parsing request body.", http.StatusBadRequest)
			return
		}
	case "application/x-www-form-urlencoded":
		// 解析 form 表单数据
		if err := r.ParseForm(); err != nil {
			h.log.Error("HttpHandler sendMsg parse form", "err", err)
			h.Error(w, "Error parsing request body.", http.StatusBadRequest)
			return
		}
		msg.ToWxid = r.Form.Get("toWxid")
		msg.Text = r.Form.Get("text")
	default:
		h.Error(w, "Unsupported Content-Type", http.StatusUnsupportedMediaType)
		return
	}
	if _, err := msg.Content(); err != nil {
		h.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.sender.SendMsg(r.Context(), &msg); err != nil {
		h.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.Success(w, "OK")
}

// event 按NewMsgId查询事件，内存中已清理的从消息记录中查
func (h *HttpHandler) event(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkAuth(r) {
		h.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	dedupID, err := strconv.ParseInt(r.URL.Query().Get("dedupId"), 10, 64)
	if err != nil {
		h.Error(w, "Invalid dedupId", http.StatusBadRequest)
		return
	}
	if entry, ok := h.hub.store.LookupByDedupID(dedupID); ok {
		h.Success(w, eventResult{SystemID: entry.SystemID, Day: entry.Day, Event: &entry.Event})
		return
	}
	if h.journal != nil {
		row, err := h.journal.Find(dedupID)
		if err != nil {
			h.log.Error("HttpHandler event", "err", err)
			h.Error(w, "Error reading message from server.", http.StatusInternalServerError)
			return
		}
		if row != nil {
			h.Success(w, eventResult{Journal: row})
			return
		}
	}
	h.Error(w, "Event not found", http.StatusNotFound)
}

func (h *HttpHandler) group(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	gid := r.URL.Query().Get("gid")
	if gid == "" {
		h.Error(w, "Invalid gid", http.StatusBadRequest)
		return
	}
	if !h.checkAuth(r) {
		h.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if h.member == nil {
		h.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	userMap, err := h.member.GetGroupUsers(gid)
	if err != nil {
		h.log.Error("HttpHandler group", "err", err)
		h.Error(w, "Error reading group users from server.", http.StatusInternalServerError)
		return
	}
	users := make([]hub.GroupUser, 0, len(userMap))
	for _, user := range userMap {
		users = append(users, user)
	}
	h.Success(w, users)
}
