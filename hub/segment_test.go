package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPayloadsMergesTextAndAt(t *testing.T) {
	msg := Message{Text("晚上 "), At("wxid_b"), Text("一起吃饭")}
	payloads, err := msg.ToPayloads("123@chatroom")
	require.NoError(t, err)

	want := []Payload{{Path: PathPostText, Body: map[string]any{
		"toWxid":  "123@chatroom",
		"content": "晚上 一起吃饭",
		"ats":     "wxid_b",
	}}}
	if diff := cmp.Diff(want, payloads); diff != "" {
		t.Fatalf("payloads mismatch (-want +got):\n%s", diff)
	}
}

func TestToPayloadsSplitsOnMedia(t *testing.T) {
	msg := Message{Text("看图"), AtAll(), Image("http://img/1.png"), Text("完")}
	payloads, err := msg.ToPayloads("123@chatroom")
	require.NoError(t, err)

	want := []Payload{
		{Path: PathPostText, Body: map[string]any{"toWxid": "123@chatroom", "content": "看图", "ats": AtAllWxid}},
		{Path: PathPostImage, Body: map[string]any{"toWxid": "123@chatroom", "imgUrl": "http://img/1.png"}},
		{Path: PathPostText, Body: map[string]any{"toWxid": "123@chatroom", "content": "完", "ats": ""}},
	}
	if diff := cmp.Diff(want, payloads); diff != "" {
		t.Fatalf("payloads mismatch (-want +got):\n%s", diff)
	}
}

func TestToPayloadsForwardAndRevoke(t *testing.T) {
	msg := Message{
		Forward(ForwardURL, "<appmsg/>"),
		RevokeSegment{MsgID: 1, DedupID: 2, CreatedAt: 3},
	}
	payloads, err := msg.ToPayloads("wxid_a")
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "/message/forwardUrl", payloads[0].Path)
	assert.Equal(t, "<appmsg/>", payloads[0].Body["xml"])
	assert.Equal(t, PathRevokeMsg, payloads[1].Path)
	assert.Equal(t, "2", payloads[1].Body["newMsgId"])
}

func TestToPayloadsQuote(t *testing.T) {
	msg := Message{
		QuoteSegment{FromID: "wxid_a", ToID: "123@chatroom", QuotedID: 778899, QuotedContent: "a<b", QuotedAt: 1700000000, DisplayName: "张三"},
		Text("收到"),
	}
	payloads, err := msg.ToPayloads("123@chatroom")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, PathPostAppMsg, payloads[0].Path)

	appmsg := payloads[0].Body["appmsg"].(string)
	assert.Contains(t, appmsg, "<title>收到</title>")
	assert.Contains(t, appmsg, "<svrid>778899</svrid>")
	assert.Contains(t, appmsg, "<content>a&lt;b</content>")
	assert.Equal(t, AppQuote, AppMsgTypeOf(appmsg))
}

func TestToPayloadsQuoteRejectsMentions(t *testing.T) {
	quote := QuoteSegment{FromID: "wxid_a", ToID: "123@chatroom", QuotedID: 1, QuotedAt: 1700000000}

	_, err := Message{quote, Text("回复"), At("wxid_b")}.ToPayloads("123@chatroom")
	assert.ErrorIs(t, err, ErrUnsendable)
	assert.ErrorContains(t, err, "wxid_b")

	_, err = Message{quote, AtAll()}.ToPayloads("123@chatroom")
	assert.ErrorIs(t, err, ErrUnsendable)

	payloads, err := Message{quote, Text("回复"), Image("http://img/1.png"), At("wxid_b")}.ToPayloads("123@chatroom")
	require.NoError(t, err, "媒体之后是新的文本段")
	require.Len(t, payloads, 3)
	assert.Equal(t, PathPostAppMsg, payloads[0].Path)
	assert.Equal(t, PathPostText, payloads[2].Path)
	assert.Equal(t, "wxid_b", payloads[2].Body["ats"])
}

func TestStampQuotes(t *testing.T) {
	msg := Message{QuoteSegment{QuotedID: 1}, Text("收到"), QuoteSegment{QuotedID: 2, QuotedAt: 1600000000}}
	first, err := msg.ToPayloads("wxid_a")
	require.NoError(t, err)
	again, err := msg.ToPayloads("wxid_a")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Contains(t, first[0].Body["appmsg"], "<createtime>0</createtime>")

	stamped := msg.StampQuotes(time.Unix(1700000000, 0))
	assert.Equal(t, int64(1700000000), stamped[0].(QuoteSegment).QuotedAt)
	assert.Equal(t, int64(1600000000), stamped[2].(QuoteSegment).QuotedAt)
	assert.Zero(t, msg[0].(QuoteSegment).QuotedAt, "原消息不变")

	payloads, err := stamped.ToPayloads("wxid_a")
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Contains(t, payloads[0].Body["appmsg"], "<createtime>1700000000</createtime>")
	assert.Contains(t, payloads[1].Body["appmsg"], "<createtime>1600000000</createtime>")
}

func TestToPayloadsUnsendable(t *testing.T) {
	_, err := Message{AtSegment{Name: "张三"}}.ToPayloads("123@chatroom")
	assert.ErrorIs(t, err, ErrUnsendable)

	_, err = Message{XML("<msg/>")}.ToPayloads("wxid_a")
	assert.ErrorIs(t, err, ErrUnsendable)

	_, err = Message{Forward("sticker", "<msg/>")}.ToPayloads("wxid_a")
	assert.ErrorIs(t, err, ErrUnsendable)
}

func TestMessageJSON(t *testing.T) {
	msg := Message{
		TextSegment{Content: "@张三 hi", Mentions: []string{"张三"}},
		At("wxid_zs"),
		AtAll(),
		Emoji("abc", 12),
	}
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"type":"text","data":{"content":"@张三 hi","mentions":["张三"]}},
		{"type":"at","data":{"target":"wxid_zs"}},
		{"type":"at_all","data":{}},
		{"type":"emoji","data":{"md5":"abc","size":12}}
	]`, string(b))

	var decoded Message
	require.NoError(t, json.Unmarshal(b, &decoded))
	if diff := cmp.Diff(msg, decoded); diff != "" {
		t.Fatalf("decoded mismatch (-want +got):\n%s", diff)
	}

	err = json.Unmarshal([]byte(`[{"type":"unknown","data":{}}]`), &decoded)
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	msg := Message{TextSegment{Content: "hi", Mentions: []string{"a"}}}
	clone := msg.Clone()
	clone[0] = Text("changed")
	assert.Equal(t, "hi", msg.PlainText())

	clone = msg.Clone()
	clone[0].(TextSegment).Mentions[0] = "b"
	assert.Equal(t, []string{"a"}, msg[0].(TextSegment).Mentions)
}
