package hub

import "errors"

const CommandSendMsg = "SendMsg"

type (
	// Command 下游通过websocket或mqtt回传的指令
	Command struct {
		Command string         `json:"command"` // SendMsg:发送消息
		Param   SendMsgCommand `json:"param"`
	}

	SendMsgCommand struct {
		ToWxid  string  `json:"toWxid" form:"toWxid"` // 群id或好友wxid
		Text    string  `json:"text" form:"text"`     // 纯文本内容，与message二选一
		Message Message `json:"message"`              // 消息片段
	}
)

// Content 待发送的消息片段
func (c SendMsgCommand) Content() (Message, error) {
	if c.ToWxid == "" {
		return nil, errors.New("接收者不能为空")
	}
	if len(c.Message) > 0 {
		return c.Message, nil
	}
	if c.Text == "" {
		return nil, errors.New("消息不能为空")
	}
	return Message{Text(c.Text)}, nil
}
