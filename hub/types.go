package hub

import "github.com/eatmoreapple/openwechat"

type (
	// TypeName 回调推送类型
	TypeName string
	// MessageType AddMsg中的MsgType
	MessageType int
	// AppType appmsg>type
	AppType int
	// SystemMsgType sysmsg@type
	SystemMsgType string
	// Kind 事件大类
	Kind string
	// Leaf 事件细分类型
	Leaf string
)

const (
	TypeTest        TypeName = "Test"
	TypeAddMsg      TypeName = "AddMsg"
	TypeModContacts TypeName = "ModContacts"
	TypeDelContacts TypeName = "DelContacts"
	TypeOffline     TypeName = "Offline"
)

func (t TypeName) Valid() bool {
	switch t {
	case TypeTest, TypeAddMsg, TypeModContacts, TypeDelContacts, TypeOffline:
		return true
	}
	return false
}

// 消息类型与微信协议保持一致
const (
	MsgText      = MessageType(openwechat.MsgTypeText)
	MsgImage     = MessageType(openwechat.MsgTypeImage)
	MsgVoice     = MessageType(openwechat.MsgTypeVoice)
	MsgFriendAdd = MessageType(openwechat.MsgTypeVerify)
	MsgNameCard  = MessageType(openwechat.MsgTypeShareCard)
	MsgVideo     = MessageType(openwechat.MsgTypeVideo)
	MsgEmoji     = MessageType(openwechat.MsgTypeEmoticon)
	MsgLocation  = MessageType(openwechat.MsgTypeLocation)
	MsgAppMsg    = MessageType(openwechat.MsgTypeApp)
	MsgRePush    = MessageType(51)
	MsgGroupOp   = MessageType(openwechat.MsgTypeSys)
	MsgSystem    = MessageType(openwechat.MsgTypeRecalled)
)

func (t MessageType) Valid() bool {
	switch t {
	case MsgText, MsgImage, MsgVoice, MsgFriendAdd, MsgNameCard, MsgVideo, MsgEmoji,
		MsgLocation, MsgAppMsg, MsgRePush, MsgGroupOp, MsgSystem:
		return true
	}
	return false
}

const (
	AppTransfer     AppType = 2000
	AppRedPacket    AppType = 2001
	AppLink         AppType = 5
	AppFileSend     AppType = 74
	AppFileDone     AppType = 6
	AppMiniProgram  AppType = 33
	AppMiniProgram2 AppType = 36
	AppQuote        AppType = 57
	AppVideoChannel AppType = 51
	AppGroupNote    AppType = 87
)

const (
	SysRevoke       SystemMsgType = "revokemsg"
	SysPat          SystemMsgType = "pat"
	SysTemplate     SystemMsgType = "sysmsgtemplate"
	SysAnnouncement SystemMsgType = "mmchatroombarannouncememt"
	SysRoomTools    SystemMsgType = "roomtoolstips"
)

const (
	KindMessage Kind = "message"
	KindNotice  Kind = "notice"
	KindRequest Kind = "request"
	KindMeta    Kind = "meta"
)

// 消息
const (
	LeafText          Leaf = "text"
	LeafGroupNoteText Leaf = "group_note_text"
	LeafImage         Leaf = "image"
	LeafVoice         Leaf = "voice"
	LeafLocation      Leaf = "location"
	LeafVideo         Leaf = "video"
	LeafEmoji         Leaf = "emoji"
	LeafPublicLink    Leaf = "public_link"
	LeafFileUploading Leaf = "file_uploading"
	LeafFileDone      Leaf = "file"
	LeafNameCard      Leaf = "name_card"
	LeafMiniProgram   Leaf = "mini_program"
	LeafQuote         Leaf = "quote"
	LeafTransfer      Leaf = "transfer"
	LeafRedPacket     Leaf = "red_packet"
	LeafVideoChannel  Leaf = "video_channel"
)

// 通知
const (
	LeafPoke              Leaf = "poke"
	LeafRevoke            Leaf = "revoke"
	LeafGroupRemoved      Leaf = "group_removed"
	LeafMemberRemoved     Leaf = "member_removed"
	LeafGroupDismissed    Leaf = "group_dismissed"
	LeafGroupTitleChanged Leaf = "group_title_changed"
	LeafGroupOwnerChanged Leaf = "group_owner_changed"
	LeafGroupInfoChanged  Leaf = "group_info_changed"
	LeafGroupNote         Leaf = "group_note"
	LeafGroupTodo         Leaf = "group_todo"
	LeafFriendInfoChanged Leaf = "friend_info_changed"
	LeafFriendRemoved     Leaf = "friend_removed"
	LeafGroupQuit         Leaf = "group_quit"
)

// 请求与元事件
const (
	LeafFriendRequest    Leaf = "friend_request"
	LeafGroupInvite      Leaf = "group_invite"
	LeafOffline          Leaf = "offline"
	LeafConnectivityTest Leaf = "connectivity_test"
)

// FriendRequestOption 好友请求的处理方式
type FriendRequestOption int

const (
	FriendAdd    FriendRequestOption = 2
	FriendAgree  FriendRequestOption = 3
	FriendReject FriendRequestOption = 4
)
