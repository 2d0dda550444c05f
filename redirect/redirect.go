package redirect

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"gewe-hub/hub"
)

var (
	ErrClosed     = errors.New("连接已关闭")
	ErrBufferFull = errors.New("发送缓冲区已满")
)

type (
	// MessageRedirector 事件转发目标
	MessageRedirector interface {
		SendMessage([]byte) error
	}

	// MessageReceiver 接收下游发来的指令
	MessageReceiver interface {
		OnMessage(OnMessage)
	}

	// OnMessage receiver为来源通道，id为下游用户名
	OnMessage func(payload []byte, receiver string, id string) error

	// Authenticator 下游连接鉴权
	Authenticator interface {
		CheckUser(username, password string) bool
	}

	// Envelope 转发给下游的事件
	Envelope struct {
		ID    string    `json:"id"`
		Event hub.Event `json:"event"`
	}

	// Fanout 同时转发到多个目标
	Fanout []MessageRedirector
)

// Encode 生成一次投递，每次调用分配新的投递id
func Encode(ev hub.Event) (string, []byte, error) {
	id := uuid.NewString()
	b, err := json.Marshal(Envelope{ID: id, Event: ev})
	return id, b, err
}

func (f Fanout) SendMessage(b []byte) error {
	var errs []error
	for _, r := range f {
		if err := r.SendMessage(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
