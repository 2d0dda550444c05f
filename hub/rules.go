package hub

import (
	"strconv"
	"strings"

	"gewe-hub/markup"
)

// messageLeaves 消息事件子类型，顺序即优先级
var messageLeaves = []leafRule[MessageEvent]{
	{LeafText, func(e *envelope) bool { return e.subType == MsgText }, buildText},
	{LeafGroupNoteText, func(e *envelope) bool { return e.isApp(AppGroupNote) }, buildGroupNoteText},
	{LeafImage, func(e *envelope) bool { return e.subType == MsgImage }, buildRawXML},
	{LeafVoice, func(e *envelope) bool { return e.subType == MsgVoice }, buildRawXML},
	{LeafLocation, func(e *envelope) bool { return e.subType == MsgLocation }, buildRawXML},
	{LeafVideo, func(e *envelope) bool { return e.subType == MsgVideo }, buildRawXML},
	{LeafEmoji, func(e *envelope) bool { return e.subType == MsgEmoji }, buildEmoji},
	{LeafPublicLink, func(e *envelope) bool { return e.isApp(AppLink) && !e.isGroupInvite() }, buildLink},
	{LeafFileUploading, func(e *envelope) bool { return e.isApp(AppFileSend) }, buildRawXML},
	{LeafFileDone, func(e *envelope) bool { return e.isApp(AppFileDone) }, buildFile},
	{LeafNameCard, func(e *envelope) bool { return e.subType == MsgNameCard }, buildNameCard},
	{LeafMiniProgram, func(e *envelope) bool { return e.isApp(AppMiniProgram, AppMiniProgram2) }, buildMiniApp},
	{LeafQuote, func(e *envelope) bool { return e.isApp(AppQuote) }, buildQuote},
	{LeafTransfer, func(e *envelope) bool { return e.isApp(AppTransfer) }, buildRawXML},
	{LeafRedPacket, func(e *envelope) bool { return e.isApp(AppRedPacket) }, buildRawXML},
	{LeafVideoChannel, func(e *envelope) bool { return e.isApp(AppVideoChannel) }, buildRawXML},
}

func (c *Classifier) buildMessage(env *envelope) (Event, error) {
	d := env.payload.AddMsg
	base := MessageEvent{
		MessageID:   d.MsgId,
		FromID:      d.FromUserName.String,
		SenderID:    ExtractSenderID(env.raw),
		ToID:        d.ToUserName.String,
		CreatedAt:   d.CreateTime,
		MessageType: d.MsgType,
		SequenceID:  d.MsgSeq,
		DedupID:     d.NewMsgId,
		PushContent: d.PushContent,
		RawContent:  env.content,
		ImgBuf:      d.ImgBuf,
		AtList:      parseAtList(d.MsgSource),
	}
	if base.SenderID == "" && !base.IsGroup() {
		base.SenderID = base.FromID
	}
	leaf, msg, err := matchLeaf(messageLeaves, env, base)
	if err != nil {
		return Event{}, err
	}
	msg.OriginalContent = msg.Content.Clone()

	ev := c.newEvent(env, KindMessage, leaf)
	if leaf == LeafText {
		msg.PlainText, ev.toMe = c.checkToMe(msg)
	}
	ev.message = &msg
	return ev, nil
}

// checkToMe 私聊、@了自己或以昵称开头都视为对机器人说话，昵称会从文本中去掉
func (c *Classifier) checkToMe(msg MessageEvent) (string, bool) {
	text := msg.RawContent
	toMe := !msg.IsGroup()
	if c.wxid != "" {
		for _, id := range msg.AtList {
			if id == c.wxid {
				toMe = true
			}
		}
	}
	if c.nicknames != nil {
		if loc := c.nicknames.FindStringIndex(text); loc != nil {
			c.log.Debug("检测到呼叫昵称", "nickname", strings.TrimSpace(text[:loc[1]]))
			toMe = true
			text = text[loc[1]:]
		}
	}
	return text, toMe
}

// parseAtList 消息源 atuserlist 中的wxid
func parseAtList(source string) []string {
	doc, err := markup.Parse(source)
	if err != nil {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(doc.Find("atuserlist").Content(), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func buildText(e *envelope, m MessageEvent) (MessageEvent, error) {
	m.Content = BuildTextContent(e.content)
	return m, nil
}

func buildRawXML(e *envelope, m MessageEvent) (MessageEvent, error) {
	m.Content = Message{XMLSegment{XML: e.content}}
	return m, nil
}

// buildGroupNoteText 群公告内容嵌在 announcement 中，可能已被展开也可能是转义后的文本
func buildGroupNoteText(e *envelope, m MessageEvent) (MessageEvent, error) {
	doc, _ := e.markup()
	m.Content = Message{TextSegment{Content: nestedText(doc.Find("appmsg", "announcement"), e.content,
		"datalist", "dataitem[datatype=1]", "datadesc")}}
	return m, nil
}

func buildEmoji(e *envelope, m MessageEvent) (MessageEvent, error) {
	doc, err := e.markup()
	if err != nil {
		return m, violation(LeafEmoji, "emoji", err)
	}
	emoji := doc.Find("emoji")
	if emoji == nil {
		return m, violation(LeafEmoji, "emoji", nil)
	}
	md5, _ := emoji.Attr("md5")
	size := 0
	if l, ok := emoji.Attr("len"); ok && l != "" {
		if size, err = strconv.Atoi(l); err != nil {
			return m, violation(LeafEmoji, "len", err)
		}
	}
	m.Content = Message{EmojiSegment{MD5: md5, Size: size}}
	return m, nil
}

func buildLink(e *envelope, m MessageEvent) (MessageEvent, error) {
	doc, _ := e.markup()
	appmsg := doc.Find("appmsg")
	m.Content = Message{LinkSegment{
		Title:    appmsg.Find("title").Content(),
		Desc:     appmsg.Find("des").Content(),
		URL:      appmsg.Find("url").Content(),
		ThumbURL: appmsg.Find("thumburl").Content(),
	}}
	return m, nil
}

func buildFile(e *envelope, m MessageEvent) (MessageEvent, error) {
	doc, _ := e.markup()
	m.Content = Message{FileSegment{Name: doc.Find("appmsg", "title").Content()}}
	return m, nil
}

func buildNameCard(e *envelope, m MessageEvent) (MessageEvent, error) {
	doc, err := e.markup()
	if err != nil {
		return m, violation(LeafNameCard, "msg", err)
	}
	msg := doc.Find("msg")
	id, ok := msg.Attr("username")
	if !ok {
		return m, violation(LeafNameCard, "username", nil)
	}
	nickname, _ := msg.Attr("nickname")
	m.Content = Message{NameCardSegment{ID: id, DisplayName: nickname}}
	return m, nil
}

func buildMiniApp(e *envelope, m MessageEvent) (MessageEvent, error) {
	doc, _ := e.markup()
	appmsg := doc.Find("appmsg")
	weapp := appmsg.Find("weappinfo")
	m.Content = Message{MiniAppSegment{
		AppID:       weapp.Find("appid").Content(),
		DisplayName: appmsg.Find("sourcedisplayname").Content(),
		PagePath:    weapp.Find("pagepath").Content(),
		CoverURL:    appmsg.Find("thumburl").Content(),
		Title:       appmsg.Find("title").Content(),
		OwnerID:     weapp.Find("username").Content(),
	}}
	return m, nil
}

// buildQuote 引用消息拆为引用片段与回复正文
func buildQuote(e *envelope, m MessageEvent) (MessageEvent, error) {
	doc, _ := e.markup()
	appmsg := doc.Find("appmsg")
	refer := appmsg.Find("refermsg")
	if refer == nil {
		return m, violation(LeafQuote, "refermsg", nil)
	}
	svrid, err := strconv.ParseInt(refer.Find("svrid").Content(), 10, 64)
	if err != nil {
		return m, violation(LeafQuote, "svrid", err)
	}
	createdAt, err := strconv.ParseInt(refer.Find("createtime").Content(), 10, 64)
	if err != nil {
		return m, violation(LeafQuote, "createtime", err)
	}
	quoted := refer.Find("content").Content()
	m.Content = Message{
		QuoteSegment{
			FromID:        refer.Find("fromusr").Content(),
			ToID:          refer.Find("chatusr").Content(),
			QuotedID:      svrid,
			QuotedContent: quoted,
			QuotedAt:      createdAt,
			DisplayName:   refer.Find("displayname").Content(),
		},
		TextSegment{Content: appmsg.Find("title").Content()},
	}
	m.Reply = &Reply{ID: svrid, Content: Message{TextSegment{Content: quoted}}}
	return m, nil
}

// nestedText 读取嵌套片段中的文本，找不到时返回fallback
func nestedText(node *markup.Node, fallback string, path ...string) string {
	if node == nil {
		return fallback
	}
	if found := node.Find(path...); found != nil {
		return found.Content()
	}
	nested, err := markup.Parse(node.Content())
	if err != nil {
		return fallback
	}
	if found := nested.Find(path...); found != nil {
		return found.Content()
	}
	return fallback
}

// noticeLeaves 通知事件子类型，顺序即优先级
var noticeLeaves = []leafRule[NoticeEvent]{
	{LeafPoke, func(e *envelope) bool { return e.isSys(SysPat) }, buildPoke},
	{LeafRevoke, func(e *envelope) bool { return e.isSys(SysRevoke) }, buildRevoke},
	{LeafGroupRemoved, func(e *envelope) bool { return e.isAddMsg(MsgGroupOp) && e.contains("移出群聊") }, nil},
	{LeafMemberRemoved, func(e *envelope) bool { return e.isSys(SysTemplate) && e.contains("移出了群聊") }, nil},
	{LeafGroupDismissed, func(e *envelope) bool { return e.isSys(SysTemplate) && e.contains("已解散该群聊") }, nil},
	{LeafGroupTitleChanged, func(e *envelope) bool {
		return e.isAddMsg(MsgGroupOp) && (e.contains("修改群名为") || e.contains("changed the group name to"))
	}, buildGroupRename},
	{LeafGroupOwnerChanged, func(e *envelope) bool { return e.isAddMsg(MsgGroupOp) && e.contains("已成为新群主") }, nil},
	{LeafGroupInfoChanged, func(e *envelope) bool { return e.payload.TypeName == TypeModContacts && e.isChatroom() }, buildContactInfo},
	{LeafGroupNote, func(e *envelope) bool { return e.isSys(SysAnnouncement) }, buildGroupNote},
	{LeafGroupTodo, func(e *envelope) bool { return e.isSys(SysRoomTools) }, nil},
	{LeafFriendInfoChanged, func(e *envelope) bool { return e.payload.TypeName == TypeModContacts && !e.isChatroom() }, buildContactInfo},
	{LeafFriendRemoved, func(e *envelope) bool { return e.payload.TypeName == TypeDelContacts && !e.isChatroom() }, nil},
	{LeafGroupQuit, func(e *envelope) bool { return e.payload.TypeName == TypeDelContacts && e.isChatroom() }, nil},
}

func (c *Classifier) buildNotice(env *envelope) (Event, error) {
	base := NoticeEvent{FromID: env.contactID()}
	if d := env.payload.AddMsg; d != nil {
		base.ToID = d.ToUserName.String
		base.RawContent = env.raw
	}
	leaf, notice, err := matchLeaf(noticeLeaves, env, base)
	if err != nil {
		return Event{}, err
	}
	ev := c.newEvent(env, KindNotice, leaf)
	ev.notice = &notice
	return ev, nil
}

// operatorID 系统消息中去掉群标记后的发送者
func operatorID(e *envelope) string {
	return ExtractSenderID(groupPrefix.ReplaceAllString(e.raw, ""))
}

func buildPoke(e *envelope, n NoticeEvent) (NoticeEvent, error) {
	doc, _ := e.markup()
	from := doc.Find("fromusername")
	if from == nil {
		return n, violation(LeafPoke, "fromusername", nil)
	}
	n.UserID = from.Content()
	n.Target = doc.Find("pattedusername").Content()
	return n, nil
}

func buildRevoke(e *envelope, n NoticeEvent) (NoticeEvent, error) {
	doc, _ := e.markup()
	revoke := doc.Find("revokemsg")
	n.UserID = operatorID(e)
	if n.UserID == "" && !n.IsGroup() {
		n.UserID = n.FromID
	}
	if id := revoke.Find("newmsgid").Content(); id != "" {
		v, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return n, violation(LeafRevoke, "newmsgid", err)
		}
		n.RevokedMsgID = v
	}
	n.ReplaceText = revoke.Find("replacemsg").Content()
	return n, nil
}

func buildGroupRename(e *envelope, n NoticeEvent) (NoticeEvent, error) {
	n.Operator, n.GroupName, _ = ParseGroupRename(e.content)
	return n, nil
}

func buildContactInfo(e *envelope, n NoticeEvent) (NoticeEvent, error) {
	n.NickName = e.payload.ModContacts.NickName.String
	n.Operator = e.payload.ModContacts.ChatRoomOwner
	return n, nil
}

func buildGroupNote(e *envelope, n NoticeEvent) (NoticeEvent, error) {
	doc, _ := e.markup()
	n.UserID = operatorID(e)
	n.Note = nestedText(doc.Find("xmlcontent"), e.raw, "datadesc")
	return n, nil
}

// requestLeaves 请求事件子类型
var requestLeaves = []leafRule[RequestEvent]{
	{LeafFriendRequest, func(e *envelope) bool { return e.isAddMsg(MsgFriendAdd) }, buildFriendRequest},
	{LeafGroupInvite, (*envelope).isGroupInvite, buildGroupInvite},
}

func (c *Classifier) buildRequest(env *envelope) (Event, error) {
	d := env.payload.AddMsg
	base := RequestEvent{
		FromID:     d.FromUserName.String,
		ToID:       d.ToUserName.String,
		RawContent: env.raw,
	}
	leaf, req, err := matchLeaf(requestLeaves, env, base)
	if err != nil {
		return Event{}, err
	}
	ev := c.newEvent(env, KindRequest, leaf)
	ev.request = &req
	return ev, nil
}

func buildFriendRequest(e *envelope, r RequestEvent) (RequestEvent, error) {
	doc, err := e.markup()
	if err != nil {
		return r, violation(LeafFriendRequest, "msg", err)
	}
	msg := doc.Find("msg")
	if msg == nil {
		return r, violation(LeafFriendRequest, "msg", nil)
	}
	sceneAttr, _ := msg.Attr("scene")
	scene, err := strconv.Atoi(sceneAttr)
	if err != nil {
		return r, violation(LeafFriendRequest, "scene", err)
	}
	v3, _ := msg.Attr("encryptusername")
	v4, _ := msg.Attr("ticket")
	greeting, _ := msg.Attr("content")
	r.Friend = &FriendRequest{Scene: scene, Option: FriendAdd, V3: v3, V4: v4, Greeting: greeting}
	return r, nil
}

// buildGroupInvite 邀请链接包在CDATA中，按链接文本自身去掉包裹
func buildGroupInvite(e *envelope, r RequestEvent) (RequestEvent, error) {
	doc, _ := e.markup()
	appmsg := doc.Find("appmsg")
	url := markup.UnwrapCDATA(appmsg.Find("url").Content())
	if url == "" {
		return r, violation(LeafGroupInvite, "url", nil)
	}
	r.Invite = &GroupInvite{URL: url, Title: appmsg.Find("title").Content()}
	return r, nil
}

func (c *Classifier) buildMeta(env *envelope) (Event, error) {
	leaf := LeafOffline
	if env.payload.TypeName == TypeTest {
		leaf = LeafConnectivityTest
	}
	return c.newEvent(env, KindMeta, leaf), nil
}
