package hub

import (
	"regexp"
	"strings"
	"unicode"

	"gewe-hub/markup"
)

var (
	groupPrefix  = regexp.MustCompile(`^\d+@chatroom:\n`)
	senderPrefix = regexp.MustCompile(`^(wxid_[a-zA-Z0-9]+):\n`)
	mentionToken = regexp.MustCompile(`@[^\s\p{Z}]+`)

	renameZh = regexp.MustCompile(`"(.*?)"修改群名为“(.*?)”`)
	renameEn = regexp.MustCompile(`"(.*?)" changed the group name to "(.*?)"`)
)

var atAllTokens = []string{"@所有人", "@ all people"}

// StripSenderPrefix 移除内容前的群标记与发送者标记
// 正常推送每种标记最多出现一次，叠加的标记也会一并移除，保证重复调用结果不变
func StripSenderPrefix(raw string) string {
	for {
		stripped := senderPrefix.ReplaceAllString(groupPrefix.ReplaceAllString(raw, ""), "")
		if stripped == raw {
			return raw
		}
		raw = stripped
	}
}

// ExtractSenderID 从未处理的内容中获取发送者wxid
func ExtractSenderID(raw string) string {
	if m := senderPrefix.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// AppMsgTypeOf 内容中appmsg的type，无法识别时为-1
func AppMsgTypeOf(raw string) AppType {
	return AppType(markup.AppMsgType(StripSenderPrefix(raw)))
}

// ExtractMentions 提取文本中@的对象
// 以空白（含微信@后的U+2005）结束，紧跟标点时会把标点一并带上，例如 "@张三，你好" 得到 "张三，你好"
func ExtractMentions(text string) (mentions []string, atAll bool) {
	for _, token := range atAllTokens {
		if strings.Contains(text, token) {
			return []string{strings.TrimSpace(strings.TrimPrefix(token, "@"))}, true
		}
	}
	for _, token := range mentionToken.FindAllString(text, -1) {
		mentions = append(mentions, strings.TrimRightFunc(strings.TrimPrefix(token, "@"), unicode.IsSpace))
	}
	return mentions, false
}

// BuildTextContent 文本消息的内容，整段正文不拆分，之后按顺序附上@对象
func BuildTextContent(text string) Message {
	mentions, atAll := ExtractMentions(text)
	msg := Message{TextSegment{Content: text, Mentions: mentions}}
	if atAll {
		return append(msg, AtAllSegment{})
	}
	for _, name := range mentions {
		msg = append(msg, AtSegment{Name: name})
	}
	return msg
}

// ParseGroupRename 解析修改群名的系统消息，返回操作人和新群名
func ParseGroupRename(content string) (operator string, groupName string, ok bool) {
	if strings.Contains(content, "修改群名为") {
		if m := renameZh.FindStringSubmatch(content); m != nil {
			return m[1], m[2], true
		}
	} else if strings.Contains(content, "changed the group name to") {
		if m := renameEn.FindStringSubmatch(content); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

// MatchName 按分隔符逐步缩短名字查找，用于@后粘连了正文的情况
// 微信最大群名片长度16个字符
func MatchName[T any](name string, separator string, search func(string) (T, bool)) (matched string, target T) {
	runes := []rune(name)
	if len(runes) > 16 {
		name = strings.TrimSpace(string(runes[:16]))
	} else {
		name = strings.TrimSpace(name)
	}
	parts := strings.Split(name, separator)
	for i := len(parts); i > 0; i-- {
		matched = strings.Join(parts[:i], separator)
		if t, ok := search(matched); ok {
			return matched, t
		}
	}
	return "", target
}
