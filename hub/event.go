package hub

import (
	"encoding/json"
	"strings"
	"time"
)

type (
	// Event 分类完成的事件，构造后不可修改
	Event struct {
		kind       Kind
		leaf       Leaf
		subType    MessageType
		toMe       bool
		observedAt time.Time
		raw        RawPayload

		message *MessageEvent
		notice  *NoticeEvent
		request *RequestEvent
	}

	// Reply 引用的原消息
	Reply struct {
		ID      int64   `json:"id,string"`
		Content Message `json:"content"`
	}

	MessageEvent struct {
		MessageID   int64       `json:"msgId,string"`
		FromID      string      `json:"fromId"`
		SenderID    string      `json:"senderId"`
		ToID        string      `json:"toId"`
		CreatedAt   int64       `json:"createdAt"`
		MessageType MessageType `json:"msgType"`
		SequenceID  int64       `json:"seq"`
		DedupID     int64       `json:"newMsgId,string"`
		PushContent string      `json:"pushContent,omitempty"`
		// RawContent 去掉发送者标记后的内容
		RawContent string `json:"rawContent"`
		// PlainText 去掉呼叫昵称后的文本，仅文本消息
		PlainText string `json:"plainText,omitempty"`
		// AtList 消息源中被@的wxid
		AtList          []string `json:"atList,omitempty"`
		ImgBuf          ImgBuf   `json:"-"`
		Content         Message  `json:"content"`
		OriginalContent Message  `json:"-"`
		Reply           *Reply   `json:"reply,omitempty"`
	}

	NoticeEvent struct {
		FromID     string `json:"fromId"`
		ToID       string `json:"toId,omitempty"`
		UserID     string `json:"userId,omitempty"`
		RawContent string `json:"rawContent,omitempty"`
		// 以下字段按通知类型填充
		Target       string `json:"target,omitempty"`
		Operator     string `json:"operator,omitempty"`
		GroupName    string `json:"groupName,omitempty"`
		NickName     string `json:"nickName,omitempty"`
		Note         string `json:"note,omitempty"`
		RevokedMsgID int64  `json:"revokedMsgId,omitempty,string"`
		ReplaceText  string `json:"replaceText,omitempty"`
	}

	FriendRequest struct {
		Scene    int                 `json:"scene"`
		Option   FriendRequestOption `json:"option"`
		V3       string              `json:"v3"`
		V4       string              `json:"v4"`
		Greeting string              `json:"content"`
	}

	GroupInvite struct {
		URL   string `json:"url"`
		Title string `json:"title,omitempty"`
	}

	RequestEvent struct {
		FromID     string         `json:"fromId"`
		ToID       string         `json:"toId"`
		RawContent string         `json:"rawContent"`
		Friend     *FriendRequest `json:"friend,omitempty"`
		Invite     *GroupInvite   `json:"invite,omitempty"`
	}
)

func (e Event) Kind() Kind { return e.kind }
func (e Event) Leaf() Leaf { return e.leaf }
func (e Event) SubType() MessageType { return e.subType }
func (e Event) ToMe() bool { return e.toMe }
func (e Event) ObservedAt() time.Time { return e.observedAt }
func (e Event) Raw() RawPayload { return e.raw }
func (e Event) TypeName() TypeName { return e.raw.TypeName }
func (e Event) IsZero() bool { return e.kind == "" }
func (e Event) Name() string { return string(e.kind) + "." + string(e.leaf) }
func (m MessageEvent) IsGroup() bool { return strings.Contains(m.FromID, "@chatroom") }
func (n NoticeEvent) IsGroup() bool { return strings.Contains(n.FromID, "@chatroom") }
func (r RequestEvent) IsFriend() bool { return r.Friend != nil }
func (m MessageEvent) UserID() string { return m.SenderID }
func (m MessageEvent) Mentioned() bool { return m.Content.Has(SegAt) || m.Content.Has(SegAtAll) }

// QuotedMessageID 引用消息的原消息id
func (m MessageEvent) QuotedMessageID() (int64, bool) {
	if m.Reply == nil {
		return 0, false
	}
	return m.Reply.ID, true
}

// SessionID 群聊为 群id-发送者，私聊为发送者
func (m MessageEvent) SessionID() string {
	if m.IsGroup() {
		return m.FromID + "-" + m.SenderID
	}
	return m.FromID
}

// Message 消息事件内容，返回副本
func (e Event) Message() (MessageEvent, bool) {
	if e.message == nil {
		return MessageEvent{}, false
	}
	m := *e.message
	m.Content = m.Content.Clone()
	m.OriginalContent = m.OriginalContent.Clone()
	m.AtList = append([]string(nil), m.AtList...)
	return m, true
}

func (e Event) Notice() (NoticeEvent, bool) {
	if e.notice == nil {
		return NoticeEvent{}, false
	}
	return *e.notice, true
}

func (e Event) Request() (RequestEvent, bool) {
	if e.request == nil {
		return RequestEvent{}, false
	}
	r := *e.request
	return r, true
}

// DedupID 消息事件的NewMsgId
func (e Event) DedupID() (int64, bool) {
	if e.message == nil {
		return 0, false
	}
	return e.message.DedupID, true
}

// WithContent 返回替换了消息内容的新事件，原始内容保持不变
func (e Event) WithContent(content Message) Event {
	if e.message == nil {
		return e
	}
	m := *e.message
	m.Content = content.Clone()
	e.message = &m
	return e
}

// Description 事件描述
func (e Event) Description() string {
	switch e.kind {
	case KindMessage:
		if e.message != nil && e.message.PushContent != "" {
			return e.message.PushContent
		}
	case KindNotice:
		switch e.raw.TypeName {
		case TypeModContacts:
			return "信息变更事件"
		case TypeDelContacts:
			return "信息删除事件"
		}
	case KindMeta:
		switch e.leaf {
		case LeafOffline:
			return "离线事件"
		case LeafConnectivityTest:
			return "测试连接事件"
		}
		return "元事件"
	}
	if e.raw.AddMsg != nil && e.raw.AddMsg.PushContent != "" {
		return e.raw.AddMsg.PushContent
	}
	return e.Name()
}

type eventJSON struct {
	Kind     Kind          `json:"kind"`
	Leaf     Leaf          `json:"leaf,omitempty"`
	SubType  MessageType   `json:"subType,omitempty"`
	ToMe     bool          `json:"toMe"`
	Time     int64         `json:"time"`
	TypeName TypeName      `json:"typeName"`
	Wxid     string        `json:"wxid,omitempty"`
	Message  *MessageEvent `json:"message,omitempty"`
	Notice   *NoticeEvent  `json:"notice,omitempty"`
	Request  *RequestEvent `json:"request,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Kind:     e.kind,
		Leaf:     e.leaf,
		SubType:  e.subType,
		ToMe:     e.toMe,
		Time:     e.observedAt.UnixMilli(),
		TypeName: e.raw.TypeName,
		Wxid:     e.raw.Wxid,
		Message:  e.message,
		Notice:   e.notice,
		Request:  e.request,
	})
}

// IsSelfMessage 是否为当前账号自己发出的消息
func IsSelfMessage(e Event, wxid string) bool {
	if e.message == nil || wxid == "" {
		return false
	}
	return e.message.FromID == wxid || e.message.SenderID == wxid
}
