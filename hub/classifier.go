package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"gewe-hub/markup"
)

// inviteMarker 群聊邀请链接的标题
const inviteMarker = "邀请你加入群聊"

var ErrContractViolation = errors.New("contract violation")

// ContractViolation 已匹配到具体类型但无法取出必需字段
type ContractViolation struct {
	Leaf  Leaf
	Field string
	Err   error
}

func (e *ContractViolation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: field %s: %v", e.Leaf, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: field %s missing", e.Leaf, e.Field)
}

func (e *ContractViolation) Unwrap() error { return e.Err }

func (e *ContractViolation) Is(target error) bool { return target == ErrContractViolation }

func violation(leaf Leaf, field string, err error) error {
	return &ContractViolation{Leaf: leaf, Field: field, Err: err}
}

type (
	Classifier struct {
		wxid      string
		nicknames *regexp.Regexp
		now       func() time.Time
		log       *slog.Logger
	}
	ClassifierOption = func(*Classifier)
)

// WithSelf 当前账号wxid，用于判断是否@了自己
func WithSelf(wxid string) ClassifierOption {
	return func(c *Classifier) {
		c.wxid = wxid
	}
}

// WithNicknames 以这些昵称开头的文本视为呼叫机器人
func WithNicknames(nicknames ...string) ClassifierOption {
	return func(c *Classifier) {
		quoted := make([]string, 0, len(nicknames))
		for _, n := range nicknames {
			if n = strings.TrimSpace(n); n != "" {
				quoted = append(quoted, regexp.QuoteMeta(n))
			}
		}
		if len(quoted) > 0 {
			c.nicknames = regexp.MustCompile(`(?i)^(` + strings.Join(quoted, "|") + `)([\s,，]*|$)`)
		}
	}
}

func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) {
		c.now = now
	}
}

func WithLogger(log *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.log = log
	}
}

func NewClassifier(options ...ClassifierOption) *Classifier {
	c := &Classifier{
		now: time.Now,
		log: slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Classify 将推送分类为事件，分类过程不做任何IO
func (c *Classifier) Classify(p RawPayload) (Event, error) {
	env := newEnvelope(p)
	for _, rule := range families {
		if !rule.match(env) {
			continue
		}
		ev, err := rule.build(c, env)
		if err != nil {
			return Event{}, err
		}
		c.log.Debug("事件分类完成", "event", ev.Name(), "typeName", p.TypeName, "subType", env.subType)
		return ev, nil
	}
	c.log.Warn("未匹配到事件类型", "typeName", p.TypeName, "subType", env.subType)
	return c.newEvent(env, fallbackKind(p.TypeName), ""), nil
}

func (c *Classifier) newEvent(env *envelope, kind Kind, leaf Leaf) Event {
	return Event{
		kind:       kind,
		leaf:       leaf,
		subType:    env.subType,
		observedAt: c.now(),
		raw:        env.payload,
	}
}

func fallbackKind(t TypeName) Kind {
	switch t {
	case TypeAddMsg:
		return KindMessage
	case TypeModContacts, TypeDelContacts:
		return KindNotice
	default:
		return KindMeta
	}
}

// envelope 分类过程中的只读上下文，片段只解析一次
type envelope struct {
	payload RawPayload
	subType MessageType
	// raw 原始内容，content 去掉发送者标记后的内容
	raw     string
	content string

	parsed bool
	doc    *markup.Node
	docErr error
}

func newEnvelope(p RawPayload) *envelope {
	env := &envelope{payload: p}
	if p.AddMsg != nil {
		env.subType = p.AddMsg.MsgType
		env.raw = p.AddMsg.Content.String
		env.content = StripSenderPrefix(env.raw)
	}
	return env
}

func (e *envelope) markup() (*markup.Node, error) {
	if !e.parsed {
		e.parsed = true
		e.doc, e.docErr = markup.Parse(e.content)
	}
	return e.doc, e.docErr
}

// appType 非应用消息或无法解析时返回-1
func (e *envelope) appType() AppType {
	doc, err := e.markup()
	if err != nil || !doc.Has("msg") {
		return -1
	}
	return AppType(doc.AppMsgType())
}

func (e *envelope) sysType() SystemMsgType {
	doc, err := e.markup()
	if err != nil {
		return ""
	}
	t, _ := doc.Find("sysmsg").Attr("type")
	return SystemMsgType(t)
}

func (e *envelope) isAddMsg(types ...MessageType) bool {
	if e.payload.TypeName != TypeAddMsg || e.payload.AddMsg == nil {
		return false
	}
	return len(types) == 0 || slices.Contains(types, e.subType)
}

func (e *envelope) isApp(types ...AppType) bool {
	return e.isAddMsg(MsgAppMsg) && slices.Contains(types, e.appType())
}

func (e *envelope) isSys(t SystemMsgType) bool {
	return e.isAddMsg(MsgSystem) && e.sysType() == t
}

func (e *envelope) contains(s string) bool {
	return strings.Contains(e.raw, s)
}

// isGroupInvite 群聊邀请与公众号链接共用type=5，只能通过标题区分
func (e *envelope) isGroupInvite() bool {
	if !e.isApp(AppLink) {
		return false
	}
	doc, _ := e.markup()
	return strings.Contains(doc.Find("appmsg", "title").Text(), inviteMarker)
}

func (e *envelope) contactID() string {
	switch {
	case e.payload.AddMsg != nil:
		return e.payload.AddMsg.FromUserName.String
	case e.payload.ModContacts != nil:
		return e.payload.ModContacts.UserName.String
	case e.payload.DelContacts != nil:
		return e.payload.DelContacts.ID()
	}
	return ""
}

func (e *envelope) isChatroom() bool {
	return strings.Contains(e.contactID(), "@chatroom")
}

type familyRule struct {
	kind  Kind
	match func(*envelope) bool
	build func(*Classifier, *envelope) (Event, error)
}

// families 按顺序匹配，第一个命中的生效
var families = []familyRule{
	{
		kind: KindMessage,
		match: func(e *envelope) bool {
			return e.isAddMsg() && !slices.Contains([]MessageType{MsgFriendAdd, MsgGroupOp, MsgSystem}, e.subType) && !e.isGroupInvite()
		},
		build: (*Classifier).buildMessage,
	},
	{
		kind: KindNotice,
		match: func(e *envelope) bool {
			return e.isAddMsg(MsgGroupOp, MsgSystem) ||
				e.payload.TypeName == TypeModContacts || e.payload.TypeName == TypeDelContacts
		},
		build: (*Classifier).buildNotice,
	},
	{
		kind: KindRequest,
		match: func(e *envelope) bool {
			return e.isAddMsg(MsgFriendAdd) || e.isGroupInvite()
		},
		build: (*Classifier).buildRequest,
	},
	{
		kind: KindMeta,
		match: func(e *envelope) bool {
			return e.payload.TypeName == TypeTest || e.payload.TypeName == TypeOffline
		},
		build: (*Classifier).buildMeta,
	},
}

type leafRule[T any] struct {
	leaf  Leaf
	match func(*envelope) bool
	build func(*envelope, T) (T, error)
}

func matchLeaf[T any](rules []leafRule[T], env *envelope, base T) (Leaf, T, error) {
	for _, rule := range rules {
		if !rule.match(env) {
			continue
		}
		if rule.build == nil {
			return rule.leaf, base, nil
		}
		v, err := rule.build(env, base)
		return rule.leaf, v, err
	}
	return "", base, nil
}
