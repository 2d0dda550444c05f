package hub

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	selfWxid = "wxid_self"
	groupID  = "34757816141@chatroom"
)

var fixedNow = time.Date(2024, 11, 8, 10, 0, 0, 0, time.Local)

func newTestClassifier(options ...ClassifierOption) *Classifier {
	options = append([]ClassifierOption{WithSelf(selfWxid), WithClock(func() time.Time { return fixedNow })}, options...)
	return NewClassifier(options...)
}

func addMsg(t *testing.T, msgType MessageType, from, content, source string) RawPayload {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"TypeName": "AddMsg",
		"Appid":    "wx_app",
		"Wxid":     selfWxid,
		"Data": map[string]any{
			"MsgId":        1001,
			"FromUserName": map[string]string{"string": from},
			"ToUserName":   map[string]string{"string": selfWxid},
			"MsgType":      int(msgType),
			"Content":      map[string]string{"string": content},
			"CreateTime":   1731031200,
			"MsgSource":    source,
			"PushContent":  "张三 : hi",
			"NewMsgId":     7460189311440117000,
			"MsgSeq":       7,
		},
	})
	require.NoError(t, err)
	p, err := ParsePayload(body)
	require.NoError(t, err)
	return p
}

func classify(t *testing.T, c *Classifier, p RawPayload) Event {
	t.Helper()
	ev, err := c.Classify(p)
	require.NoError(t, err)
	return ev
}

func TestClassifyTextParity(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		content string
	}{
		{"群聊", groupID, "wxid_abc:\n@张三 @李四 晚上吃什么"},
		{"私聊", "wxid_friend", "在吗"},
		{"所有人", groupID, "wxid_abc:\n@所有人 明天放假"},
		{"带标点", groupID, "wxid_abc:\n@王五，你好"},
	}
	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := classify(t, c, addMsg(t, MsgText, tt.from, tt.content, ""))
			assert.Equal(t, KindMessage, ev.Kind())
			assert.Equal(t, LeafText, ev.Leaf())

			msg, ok := ev.Message()
			require.True(t, ok)
			stripped := StripSenderPrefix(tt.content)
			assert.Equal(t, MsgText, msg.MessageType)
			assert.Equal(t, stripped, msg.RawContent)
			assert.Equal(t, stripped, msg.Content.PlainText())

			mentions, _ := ExtractMentions(stripped)
			assert.Equal(t, mentions, msg.Content[0].(TextSegment).Mentions)
			if diff := cmp.Diff(msg.Content, msg.OriginalContent); diff != "" {
				t.Fatalf("original content mismatch (-content +original):\n%s", diff)
			}
		})
	}
}

func TestClassifyTextSender(t *testing.T) {
	c := newTestClassifier()

	ev := classify(t, c, addMsg(t, MsgText, groupID, "wxid_abc:\nhi", ""))
	msg, _ := ev.Message()
	assert.Equal(t, "wxid_abc", msg.SenderID)
	assert.Equal(t, groupID+"-wxid_abc", msg.SessionID())
	assert.Equal(t, int64(7460189311440117000), msg.DedupID)
	assert.Equal(t, fixedNow, ev.ObservedAt())
	assert.False(t, ev.ToMe())

	ev = classify(t, c, addMsg(t, MsgText, "wxid_friend", "hi", ""))
	msg, _ = ev.Message()
	assert.Equal(t, "wxid_friend", msg.SenderID)
	assert.True(t, ev.ToMe())
}

func TestClassifyToMe(t *testing.T) {
	c := newTestClassifier(WithNicknames("小助手", "bot"))

	source := "<msgsource><atuserlist><![CDATA[wxid_other,wxid_self]]></atuserlist></msgsource>"
	ev := classify(t, c, addMsg(t, MsgText, groupID, "wxid_abc:\n@机器人 查天气", source))
	msg, _ := ev.Message()
	assert.True(t, ev.ToMe())
	assert.Equal(t, []string{"wxid_other", "wxid_self"}, msg.AtList)

	ev = classify(t, c, addMsg(t, MsgText, groupID, "wxid_abc:\n小助手，查天气", ""))
	msg, _ = ev.Message()
	assert.True(t, ev.ToMe())
	assert.Equal(t, "查天气", msg.PlainText)
	assert.Equal(t, "小助手，查天气", msg.Content.PlainText())

	ev = classify(t, c, addMsg(t, MsgText, groupID, "wxid_abc:\nBOT hello", ""))
	msg, _ = ev.Message()
	assert.True(t, ev.ToMe())
	assert.Equal(t, "hello", msg.PlainText)

	ev = classify(t, c, addMsg(t, MsgText, groupID, "wxid_abc:\n今天小助手没来", ""))
	assert.False(t, ev.ToMe())
}

const inviteXML = `<msg><appmsg appid="" sdkver="0"><title><![CDATA[邀请你加入群聊]]></title>` +
	`<des><![CDATA["张三"邀请你加入群聊"周末爬山"，进入可查看详情。]]></des><type>5</type>` +
	`<url><![CDATA[https://support.weixin.qq.com/cgi-bin/mmsupport-bin/addchatroombyinvite?ticket=AbC123]]></url>` +
	`</appmsg><fromusername>wxid_abc</fromusername></msg>`

func TestClassifyInviteBeatsLink(t *testing.T) {
	c := newTestClassifier()
	ev := classify(t, c, addMsg(t, MsgAppMsg, "wxid_abc", inviteXML, ""))

	assert.Equal(t, KindRequest, ev.Kind())
	assert.Equal(t, LeafGroupInvite, ev.Leaf())
	_, isMessage := ev.Message()
	assert.False(t, isMessage)

	req, ok := ev.Request()
	require.True(t, ok)
	require.NotNil(t, req.Invite)
	assert.Equal(t, "https://support.weixin.qq.com/cgi-bin/mmsupport-bin/addchatroombyinvite?ticket=AbC123", req.Invite.URL)
	assert.Equal(t, "邀请你加入群聊", req.Invite.Title)
}

func TestClassifyPublicLink(t *testing.T) {
	content := `<msg><appmsg><title>今日新闻</title><des>摘要</des><type>5</type>` +
		`<url><![CDATA[https://mp.weixin.qq.com/s/abc]]></url><thumburl>https://img/1.jpg</thumburl></appmsg></msg>`
	ev := classify(t, newTestClassifier(), addMsg(t, MsgAppMsg, groupID, "wxid_abc:\n"+content, ""))

	assert.Equal(t, LeafPublicLink, ev.Leaf())
	msg, _ := ev.Message()
	assert.Equal(t, Message{LinkSegment{Title: "今日新闻", Desc: "摘要", URL: "https://mp.weixin.qq.com/s/abc", ThumbURL: "https://img/1.jpg"}}, msg.Content)
}

func TestClassifyInviteWithoutURL(t *testing.T) {
	content := `<msg><appmsg><title>邀请你加入群聊</title><type>5</type></appmsg></msg>`
	_, err := newTestClassifier().Classify(addMsg(t, MsgAppMsg, "wxid_abc", content, ""))
	require.ErrorIs(t, err, ErrContractViolation)

	var cv *ContractViolation
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, LeafGroupInvite, cv.Leaf)
	assert.Equal(t, "url", cv.Field)
}

func TestClassifyAppTypes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		leaf    Leaf
	}{
		{"转义的小程序类型", `<msg><appmsg><title>点餐</title><type><!--[CDATA[33]]--></type><weappinfo><appid>wx1</appid></weappinfo></appmsg></msg>`, LeafMiniProgram},
		{"文件上传中", `<msg><appmsg><title>a.pdf</title><type>74</type></appmsg></msg>`, LeafFileUploading},
		{"文件", `<msg><appmsg><title>a.pdf</title><type>6</type></appmsg></msg>`, LeafFileDone},
		{"转账", `<msg><appmsg><title>微信转账</title><type>2000</type></appmsg></msg>`, LeafTransfer},
		{"红包", `<msg><appmsg><title>恭喜发财</title><type>2001</type></appmsg></msg>`, LeafRedPacket},
		{"视频号", `<msg><appmsg><title></title><type>51</type></appmsg></msg>`, LeafVideoChannel},
		{"未知类型", `<msg><appmsg><title>x</title><type>999</type></appmsg></msg>`, ""},
		{"无法识别类型", `<msg><appmsg><title>x</title></appmsg></msg>`, ""},
	}
	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := classify(t, c, addMsg(t, MsgAppMsg, "wxid_abc", tt.content, ""))
			assert.Equal(t, KindMessage, ev.Kind())
			assert.Equal(t, tt.leaf, ev.Leaf())
		})
	}
}

func TestClassifyMedia(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		leaf    Leaf
	}{
		{"图片", MsgImage, LeafImage},
		{"语音", MsgVoice, LeafVoice},
		{"视频", MsgVideo, LeafVideo},
		{"位置", MsgLocation, LeafLocation},
	}
	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := `<?xml version="1.0"?><msg><img length="1024" md5="abc"></img></msg>`
			ev := classify(t, c, addMsg(t, tt.msgType, groupID, "wxid_abc:\n"+content, ""))
			assert.Equal(t, tt.leaf, ev.Leaf())
			msg, _ := ev.Message()
			assert.Equal(t, Message{XMLSegment{XML: content}}, msg.Content)
		})
	}
}

func TestClassifyEmojiAndNameCard(t *testing.T) {
	c := newTestClassifier()

	ev := classify(t, c, addMsg(t, MsgEmoji, "wxid_abc", `<msg><emoji md5="4cc7540a85b5b6cf4ba14e9f4ae08b7c" len="102357" type="2"></emoji></msg>`, ""))
	msg, _ := ev.Message()
	assert.Equal(t, LeafEmoji, ev.Leaf())
	assert.Equal(t, Message{EmojiSegment{MD5: "4cc7540a85b5b6cf4ba14e9f4ae08b7c", Size: 102357}}, msg.Content)

	_, err := c.Classify(addMsg(t, MsgEmoji, "wxid_abc", `<msg><emoji md5="x" len="big"></emoji></msg>`, ""))
	assert.ErrorIs(t, err, ErrContractViolation)

	ev = classify(t, c, addMsg(t, MsgNameCard, "wxid_abc", `<?xml version="1.0"?><msg username="wxid_card" nickname="李四" certflag="0"/>`, ""))
	msg, _ = ev.Message()
	assert.Equal(t, LeafNameCard, ev.Leaf())
	assert.Equal(t, Message{NameCardSegment{ID: "wxid_card", DisplayName: "李四"}}, msg.Content)
}

func TestClassifyQuote(t *testing.T) {
	content := `<msg><appmsg appid="" sdkver="0"><title>好的</title><des></des><type>57</type>` +
		`<refermsg><type>1</type><svrid>1234567890123</svrid><fromusr>` + groupID + `</fromusr>` +
		`<chatusr>wxid_zs</chatusr><displayname>张三</displayname><content>明天几点</content>` +
		`<createtime>1731031100</createtime></refermsg></appmsg></msg>`
	ev := classify(t, newTestClassifier(), addMsg(t, MsgAppMsg, groupID, "wxid_abc:\n"+content, ""))

	assert.Equal(t, LeafQuote, ev.Leaf())
	msg, _ := ev.Message()
	want := Message{
		QuoteSegment{FromID: groupID, ToID: "wxid_zs", QuotedID: 1234567890123, QuotedContent: "明天几点", QuotedAt: 1731031100, DisplayName: "张三"},
		TextSegment{Content: "好的"},
	}
	if diff := cmp.Diff(want, msg.Content); diff != "" {
		t.Fatalf("quote content mismatch (-want +got):\n%s", diff)
	}
	id, ok := msg.QuotedMessageID()
	assert.True(t, ok)
	assert.Equal(t, int64(1234567890123), id)
}

func TestClassifyGroupNoteText(t *testing.T) {
	content := `<msg><appmsg><title>群公告</title><type>87</type><announcement>` +
		`&lt;announcement&gt;&lt;datalist&gt;&lt;dataitem datatype="1"&gt;&lt;datadesc&gt;周六集合&lt;/datadesc&gt;` +
		`&lt;/dataitem&gt;&lt;/datalist&gt;&lt;/announcement&gt;</announcement></appmsg></msg>`
	ev := classify(t, newTestClassifier(), addMsg(t, MsgAppMsg, groupID, "wxid_abc:\n"+content, ""))

	assert.Equal(t, LeafGroupNoteText, ev.Leaf())
	msg, _ := ev.Message()
	assert.Equal(t, "周六集合", msg.Content.PlainText())
}

func TestClassifyNotices(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		from    string
		content string
		leaf    Leaf
		check   func(t *testing.T, n NoticeEvent)
	}{
		{
			name: "拍一拍", msgType: MsgSystem, from: groupID,
			content: `<sysmsg type="pat"><pat><fromusername>wxid_a</fromusername><chatusername>` + groupID +
				`</chatusername><pattedusername>wxid_b</pattedusername></pat></sysmsg>`,
			leaf: LeafPoke,
			check: func(t *testing.T, n NoticeEvent) {
				assert.Equal(t, "wxid_a", n.UserID)
				assert.Equal(t, "wxid_b", n.Target)
			},
		},
		{
			name: "撤回", msgType: MsgSystem, from: "wxid_friend",
			content: `<sysmsg type="revokemsg"><revokemsg><session>wxid_friend</session><msgid>1</msgid>` +
				`<newmsgid>5551234</newmsgid><replacemsg><![CDATA["张三" 撤回了一条消息]]></replacemsg></revokemsg></sysmsg>`,
			leaf: LeafRevoke,
			check: func(t *testing.T, n NoticeEvent) {
				assert.Equal(t, "wxid_friend", n.UserID)
				assert.Equal(t, int64(5551234), n.RevokedMsgID)
				assert.Equal(t, `"张三" 撤回了一条消息`, n.ReplaceText)
			},
		},
		{
			name: "被移出群聊", msgType: MsgGroupOp, from: groupID,
			content: `你被"张三"移出群聊`, leaf: LeafGroupRemoved,
		},
		{
			name: "成员被移出", msgType: MsgSystem, from: groupID,
			content: `<sysmsg type="sysmsgtemplate"><sysmsgtemplate><content_template><template>` +
				`"$kickoutname$"被"$username$"移出了群聊</template></content_template></sysmsgtemplate></sysmsg>`,
			leaf: LeafMemberRemoved,
		},
		{
			name: "解散", msgType: MsgSystem, from: groupID,
			content: `<sysmsg type="sysmsgtemplate"><sysmsgtemplate><content_template><template>` +
				`群主已解散该群聊</template></content_template></sysmsgtemplate></sysmsg>`,
			leaf: LeafGroupDismissed,
		},
		{
			name: "改群名", msgType: MsgGroupOp, from: groupID,
			content: `"张三"修改群名为“周末爬山”`, leaf: LeafGroupTitleChanged,
			check: func(t *testing.T, n NoticeEvent) {
				assert.Equal(t, "张三", n.Operator)
				assert.Equal(t, "周末爬山", n.GroupName)
			},
		},
		{
			name: "转让群主", msgType: MsgGroupOp, from: groupID,
			content: `"李四"已成为新群主`, leaf: LeafGroupOwnerChanged,
		},
		{
			name: "群公告", msgType: MsgSystem, from: groupID,
			content: `<sysmsg type="mmchatroombarannouncememt"><mmchatroombarannouncememt><content>周六集合</content>` +
				`<xmlcontent>&lt;group_notice_item&gt;&lt;datadesc&gt;周六早上八点集合&lt;/datadesc&gt;&lt;/group_notice_item&gt;</xmlcontent>` +
				`</mmchatroombarannouncememt></sysmsg>`,
			leaf: LeafGroupNote,
			check: func(t *testing.T, n NoticeEvent) {
				assert.Equal(t, "周六早上八点集合", n.Note)
			},
		},
		{
			name: "群待办", msgType: MsgSystem, from: groupID,
			content: `<sysmsg type="roomtoolstips"><todo><title>交作业</title></todo></sysmsg>`, leaf: LeafGroupTodo,
		},
		{
			name: "未知系统消息", msgType: MsgSystem, from: groupID,
			content: `<sysmsg type="unknown"></sysmsg>`, leaf: "",
		},
	}
	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := classify(t, c, addMsg(t, tt.msgType, tt.from, tt.content, ""))
			assert.Equal(t, KindNotice, ev.Kind())
			assert.Equal(t, tt.leaf, ev.Leaf())
			n, ok := ev.Notice()
			require.True(t, ok)
			assert.Equal(t, tt.from, n.FromID)
			if tt.check != nil {
				tt.check(t, n)
			}
		})
	}
}

func parse(t *testing.T, body string) RawPayload {
	t.Helper()
	p, err := ParsePayload([]byte(body))
	require.NoError(t, err)
	return p
}

func TestClassifyContacts(t *testing.T) {
	c := newTestClassifier()

	ev := classify(t, c, parse(t, `{"TypeName":"ModContacts","Appid":"wx_app","Wxid":"wxid_self",
		"Data":{"UserName":{"string":"`+groupID+`"},"NickName":{"string":"周末爬山"},"ChatRoomOwner":"wxid_zs"}}`))
	assert.Equal(t, LeafGroupInfoChanged, ev.Leaf())
	n, _ := ev.Notice()
	assert.Equal(t, "周末爬山", n.NickName)
	assert.Equal(t, "wxid_zs", n.Operator)
	assert.Equal(t, "信息变更事件", ev.Description())

	ev = classify(t, c, parse(t, `{"TypeName":"ModContacts","Appid":"wx_app","Wxid":"wxid_self",
		"Data":{"UserName":{"string":"wxid_friend"},"NickName":{"string":"老王"}}}`))
	assert.Equal(t, LeafFriendInfoChanged, ev.Leaf())

	ev = classify(t, c, parse(t, `{"TypeName":"DelContacts","Appid":"wx_app","Wxid":"wxid_self",
		"Data":{"UserName":{"string":"wxid_friend"},"DeleteContactScene":0}}`))
	assert.Equal(t, LeafFriendRemoved, ev.Leaf())

	ev = classify(t, c, parse(t, `{"TypeName":"DelContacts","Appid":"wx_app","Wxid":"wxid_self",
		"Data":{"username":"`+groupID+`"}}`))
	assert.Equal(t, LeafGroupQuit, ev.Leaf())
	n, _ = ev.Notice()
	assert.Equal(t, groupID, n.FromID)
}

func TestClassifyFriendRequest(t *testing.T) {
	c := newTestClassifier()
	content := `<msg fromusername="wxid_new" encryptusername="v3_abc@stranger" fromnickname="新朋友" ` +
		`content="我是老王" scene="30" ticket="v4_def@stranger"></msg>`

	ev := classify(t, c, addMsg(t, MsgFriendAdd, "fmessage", content, ""))
	assert.Equal(t, KindRequest, ev.Kind())
	assert.Equal(t, LeafFriendRequest, ev.Leaf())
	req, _ := ev.Request()
	require.True(t, req.IsFriend())
	assert.Equal(t, FriendRequest{Scene: 30, Option: FriendAdd, V3: "v3_abc@stranger", V4: "v4_def@stranger", Greeting: "我是老王"}, *req.Friend)

	_, err := c.Classify(addMsg(t, MsgFriendAdd, "fmessage", `<msg encryptusername="v3" scene="abc"></msg>`, ""))
	var cv *ContractViolation
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, "scene", cv.Field)
}

func TestClassifyMeta(t *testing.T) {
	c := newTestClassifier()

	ev := classify(t, c, parse(t, `{"testMsg":"回调地址链接成功！","token":"abc"}`))
	assert.Equal(t, KindMeta, ev.Kind())
	assert.Equal(t, LeafConnectivityTest, ev.Leaf())
	assert.True(t, ev.Raw().IsTest())

	ev = classify(t, c, parse(t, `{"TypeName":"Offline","Appid":"wx_app","Wxid":"wxid_self"}`))
	assert.Equal(t, LeafOffline, ev.Leaf())
	assert.Equal(t, "离线事件", ev.Description())
}

func TestClassifyBareMessage(t *testing.T) {
	ev := classify(t, newTestClassifier(), addMsg(t, MsgRePush, "wxid_abc", "<msg/>", ""))
	assert.Equal(t, KindMessage, ev.Kind())
	assert.Equal(t, Leaf(""), ev.Leaf())
	assert.Equal(t, "message.", ev.Name())
}

func TestEventImmutable(t *testing.T) {
	ev := classify(t, newTestClassifier(), addMsg(t, MsgText, "wxid_abc", "hello", ""))

	msg, _ := ev.Message()
	msg.Content[0] = Text("changed")
	again, _ := ev.Message()
	assert.Equal(t, "hello", again.Content.PlainText())

	enriched := ev.WithContent(Message{Text("enriched")})
	m1, _ := enriched.Message()
	m2, _ := ev.Message()
	assert.Equal(t, "enriched", m1.Content.PlainText())
	assert.Equal(t, "hello", m1.OriginalContent.PlainText())
	assert.Equal(t, "hello", m2.Content.PlainText())
}

func TestIsSelfMessage(t *testing.T) {
	c := newTestClassifier()
	ev := classify(t, c, addMsg(t, MsgText, selfWxid, "hi", ""))
	assert.True(t, IsSelfMessage(ev, selfWxid))

	ev = classify(t, c, addMsg(t, MsgText, groupID, selfWxid+":\nhi", ""))
	assert.True(t, IsSelfMessage(ev, selfWxid))

	ev = classify(t, c, addMsg(t, MsgText, groupID, "wxid_abc:\nhi", ""))
	assert.False(t, IsSelfMessage(ev, selfWxid))
	assert.False(t, IsSelfMessage(ev, ""))
}

func TestParsePayloadErrors(t *testing.T) {
	_, err := ParsePayload([]byte(`{`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParsePayload([]byte(`{"TypeName":"Nope"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParsePayload([]byte(`{"TypeName":"AddMsg","Data":{"FromUserName":{"string":"wxid_a"},"MsgType":999}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParsePayload([]byte(`{"TypeName":"AddMsg"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
