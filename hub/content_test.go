package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripSenderPrefix(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"群聊文本", "wxid_abc123:\n你好", "你好"},
		{"群标记", "123456@chatroom:\n<sysmsg/>", "<sysmsg/>"},
		{"群标记与发送者", "123456@chatroom:\nwxid_abc:\n你好", "你好"},
		{"无标记", "你好", "你好"},
		{"中间的标记不处理", "hi wxid_abc:\nthere", "hi wxid_abc:\nthere"},
		{"空内容", "", ""},
		{"叠加标记", "wxid_a:\nwxid_b:\nhello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripSenderPrefix(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, StripSenderPrefix(got))
		})
	}
}

func TestExtractSenderID(t *testing.T) {
	assert.Equal(t, "wxid_abc123", ExtractSenderID("wxid_abc123:\n你好"))
	assert.Equal(t, "", ExtractSenderID("你好"))
	assert.Equal(t, "", ExtractSenderID("123@chatroom:\nwxid_abc:\n你好"))
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		mentions []string
		atAll    bool
	}{
		{"微信分隔符", "@张三\u2005你好", []string{"张三"}, false},
		{"多人", "@张三 @李四 开会", []string{"张三", "李四"}, false},
		{"紧跟标点会一起捕获", "@张三，你好", []string{"张三，你好"}, false},
		{"所有人", "@所有人 明天放假 @张三", []string{"所有人"}, true},
		{"英文所有人", "hi @ all people", []string{"all people"}, true},
		{"无提及", "没有人", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mentions, atAll := ExtractMentions(tt.text)
			assert.Equal(t, tt.mentions, mentions)
			assert.Equal(t, tt.atAll, atAll)
		})
	}
}

func TestBuildTextContent(t *testing.T) {
	msg := BuildTextContent("@张三\u2005@李四\u2005吃饭")
	assert.Equal(t, Message{
		TextSegment{Content: "@张三\u2005@李四\u2005吃饭", Mentions: []string{"张三", "李四"}},
		AtSegment{Name: "张三"},
		AtSegment{Name: "李四"},
	}, msg)
	assert.Equal(t, "@张三\u2005@李四\u2005吃饭", msg.PlainText())

	msg = BuildTextContent("@所有人 开会")
	assert.True(t, msg.Has(SegAtAll))
	assert.False(t, msg.Has(SegAt))
}

func TestParseGroupRename(t *testing.T) {
	operator, name, ok := ParseGroupRename(`"张三"修改群名为“周末爬山”`)
	assert.True(t, ok)
	assert.Equal(t, "张三", operator)
	assert.Equal(t, "周末爬山", name)

	operator, name, ok = ParseGroupRename(`"Tom" changed the group name to "Hiking"`)
	assert.True(t, ok)
	assert.Equal(t, "Tom", operator)
	assert.Equal(t, "Hiking", name)

	_, _, ok = ParseGroupRename("你好")
	assert.False(t, ok)
}

func TestMatchName(t *testing.T) {
	members := map[string]string{"张三": "wxid_zs", "李 四": "wxid_ls"}
	search := func(name string) (string, bool) {
		id, ok := members[name]
		return id, ok
	}

	matched, id := MatchName("李 四 在吗", " ", search)
	assert.Equal(t, "李 四", matched)
	assert.Equal(t, "wxid_ls", id)

	matched, id = MatchName("王五", " ", search)
	assert.Equal(t, "", matched)
	assert.Equal(t, "", id)
}
