package gateway

import (
	"context"
	"errors"
	"time"

	"gewe-hub/hub"
)

const (
	PathDownloadImage   = "/message/downloadImage"
	PathChatroomMembers = "/group/getChatroomMemberList"
	PathSetCallback     = "/tools/setCallback"
	PathCheckOnline     = "/login/checkOnline"
)

// 图片下载类型
const (
	ImageHD     = 1
	ImageNormal = 2
	ImageThumb  = 3
)

var ErrNoDownloadURL = errors.New("download url not configured")

// Send 按顺序执行消息转换后的网关调用，遇到错误即停止
func (c *Client) Send(ctx context.Context, payloads []hub.Payload) ([]Response, error) {
	responses := make([]Response, 0, len(payloads))
	for _, p := range payloads {
		c.wait(ctx, 1, 3*time.Second)
		resp, err := c.Call(ctx, p.Path, p.Body)
		if err != nil {
			c.log.Error("发送消息失败", "path", p.Path, "toWxid", p.Body["toWxid"], "error", err)
			return responses, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// SendMessage 发送消息片段，未指定时间的引用按当前时间发送
func (c *Client) SendMessage(ctx context.Context, toWxid string, msg hub.Message) ([]Response, error) {
	payloads, err := msg.StampQuotes(time.Now()).ToPayloads(toWxid)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, payloads)
}

// DownloadImage 下载消息中的图片，返回可访问的地址
func (c *Client) DownloadImage(ctx context.Context, xml string, imageType int) (string, error) {
	if c.downloadURL == "" {
		return "", ErrNoDownloadURL
	}
	var data struct {
		FileURL string `json:"fileUrl"`
	}
	if err := c.CallInto(ctx, PathDownloadImage, map[string]any{"xml": xml, "type": imageType}, &data); err != nil {
		return "", err
	}
	if data.FileURL == "" {
		return "", &ActionFailed{Path: PathDownloadImage, Ret: retOK, Msg: "empty fileUrl"}
	}
	return c.downloadURL + "/" + data.FileURL, nil
}

// ChatroomMembers 获取群成员列表
func (c *Client) ChatroomMembers(ctx context.Context, chatroomID string) ([]hub.ChatroomMember, error) {
	var data struct {
		MemberList []hub.ChatroomMember `json:"memberList"`
	}
	if err := c.CallInto(ctx, PathChatroomMembers, map[string]any{"chatroomId": chatroomID}, &data); err != nil {
		return nil, err
	}
	return data.MemberList, nil
}

// SetCallback 设置回调地址
func (c *Client) SetCallback(ctx context.Context, callbackURL string) error {
	token := c.Token()
	if token == "" {
		var err error
		if token, err = c.RefreshToken(ctx); err != nil {
			return err
		}
	}
	_, err := c.Call(ctx, PathSetCallback, map[string]any{"token": token, "callbackUrl": callbackURL})
	return err
}

// CheckOnline 账号是否在线
func (c *Client) CheckOnline(ctx context.Context) (bool, error) {
	var online bool
	if err := c.CallInto(ctx, PathCheckOnline, nil, &online); err != nil {
		return false, err
	}
	return online, nil
}
