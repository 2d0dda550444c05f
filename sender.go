package main

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"gewe-hub/gateway"
	"gewe-hub/hub"
	"gewe-hub/storage"
)

type (
	// Gateway 发送消息和下载资源用到的网关接口
	Gateway interface {
		SendMessage(ctx context.Context, toWxid string, msg hub.Message) ([]gateway.Response, error)
		DownloadImage(ctx context.Context, xml string, imageType int) (string, error)
		Fetch(ctx context.Context, url string) ([]byte, error)
		CheckOnline(ctx context.Context) (bool, error)
	}

	MsgSender struct {
		gateway Gateway
		member  hub.MemberManager
		storage storage.Storage
		log     *slog.Logger
	}
	SenderOption = func(sender *MsgSender)
)

func WithSenderLogger(log *slog.Logger) SenderOption {
	return func(sender *MsgSender) {
		sender.log = log
	}
}

func NewMsgSender(gw Gateway, member hub.MemberManager, storage storage.Storage, options ...SenderOption) *MsgSender {
	sender := &MsgSender{
		gateway: gw,
		member:  member,
		storage: storage,
		log:     slog.Default(),
	}
	for _, option := range options {
		option(sender)
	}
	return sender
}

func (s *MsgSender) Alive(ctx context.Context) bool {
	online, err := s.gateway.CheckOnline(ctx)
	if err != nil {
		s.log.Warn("检查登录状态失败", "error", err)
		return false
	}
	return online
}

// SendMsg 发送下游提交的消息，群消息中只有名字的@会先查找wxid
func (s *MsgSender) SendMsg(ctx context.Context, msg *hub.SendMsgCommand) error {
	content, err := msg.Content()
	if err != nil {
		return err
	}
	if strings.HasSuffix(msg.ToWxid, "@chatroom") && s.member != nil {
		content = s.member.ResolveMentions(ctx, msg.ToWxid, content)
	}
	content = unresolvedAsText(content)
	if _, err = s.gateway.SendMessage(ctx, msg.ToWxid, content); err != nil {
		s.log.Error("消息发送失败", "toWxid", msg.ToWxid, "retryable", gateway.IsRetryable(err), "error", err)
		return err
	}
	s.log.Info("消息已发送", "toWxid", msg.ToWxid, "segments", len(content))
	return nil
}

// unresolvedAsText 找不到wxid的@按纯文本发出
func unresolvedAsText(msg hub.Message) hub.Message {
	out := make(hub.Message, 0, len(msg))
	for _, seg := range msg {
		if at, ok := seg.(hub.AtSegment); ok && at.Target == "" {
			out = append(out, hub.Text("@"+at.Name+" "))
			continue
		}
		out = append(out, seg)
	}
	return out
}

// SaveImage 下载图片消息到本地，返回资源名
func (s *MsgSender) SaveImage(ctx context.Context, xml string) (string, error) {
	url, err := s.gateway.DownloadImage(ctx, xml, gateway.ImageHD)
	if err != nil {
		// 原图可能已过期，退回普通图
		s.log.Warn("下载原图失败", "error", err)
		if url, err = s.gateway.DownloadImage(ctx, xml, gateway.ImageNormal); err != nil {
			return "", err
		}
	}
	data, err := s.gateway.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%x", md5.Sum([]byte(xml))) + imageExt(data)
	return s.storage.Save(filename, data)
}

func imageExt(data []byte) string {
	filetype := http.DetectContentType(data)
	if !strings.HasPrefix(filetype, "image/") {
		return ".jpg"
	}
	filetype = filetype[6:]
	if strings.Contains(filetype, "-") {
		return ".jpg"
	}
	return "." + filetype
}
