package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SegmentType string

const (
	SegText     SegmentType = "text"
	SegAt       SegmentType = "at"
	SegAtAll    SegmentType = "at_all"
	SegImage    SegmentType = "image"
	SegVoice    SegmentType = "voice"
	SegVideo    SegmentType = "video"
	SegFile     SegmentType = "file"
	SegNameCard SegmentType = "namecard"
	SegLink     SegmentType = "link"
	SegEmoji    SegmentType = "emoji"
	SegAppMsg   SegmentType = "appmsg"
	SegMiniApp  SegmentType = "mp"
	SegQuote    SegmentType = "quote"
	SegRevoke   SegmentType = "revoke"
	SegForward  SegmentType = "forward"
	SegXML      SegmentType = "xml"
)

// ForwardKind 转发的消息种类
type ForwardKind string

const (
	ForwardFile    ForwardKind = "file"
	ForwardImage   ForwardKind = "image"
	ForwardVideo   ForwardKind = "video"
	ForwardURL     ForwardKind = "url"
	ForwardMiniApp ForwardKind = "miniapp"
)

// AtAllWxid 网关中@所有人使用的wxid
const AtAllWxid = "notify@all"

var ErrUnsendable = errors.New("segment cannot be sent")

type (
	// Segment 消息片段
	Segment interface {
		Type() SegmentType
	}

	// Message 有序的消息片段，顺序即展示顺序
	Message []Segment

	TextSegment struct {
		Content  string   `json:"content"`
		Mentions []string `json:"mentions,omitempty"`
	}
	// AtSegment 提及某人，Target为空时表示只知道群昵称
	AtSegment struct {
		Target string `json:"target"`
		Name   string `json:"name,omitempty"`
	}
	AtAllSegment struct{}
	ImageSegment struct {
		URL string `json:"url"`
	}
	VoiceSegment struct {
		URL        string `json:"url"`
		DurationMs int    `json:"durationMs"`
	}
	VideoSegment struct {
		URL         string `json:"url"`
		ThumbURL    string `json:"thumbUrl"`
		DurationSec int    `json:"durationSec"`
	}
	FileSegment struct {
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	NameCardSegment struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}
	LinkSegment struct {
		Title    string `json:"title"`
		Desc     string `json:"desc"`
		URL      string `json:"url"`
		ThumbURL string `json:"thumbUrl"`
	}
	EmojiSegment struct {
		MD5  string `json:"md5"`
		Size int    `json:"size"`
	}
	AppMsgSegment struct {
		XML string `json:"xml"`
	}
	MiniAppSegment struct {
		AppID       string `json:"appId"`
		DisplayName string `json:"displayName"`
		PagePath    string `json:"pagePath"`
		CoverURL    string `json:"coverUrl"`
		Title       string `json:"title"`
		OwnerID     string `json:"ownerId"`
	}
	QuoteSegment struct {
		FromID        string `json:"fromId"`
		ToID          string `json:"toId"`
		QuotedID      int64  `json:"quotedId,string"`
		QuotedContent string `json:"quotedContent"`
		QuotedAt      int64  `json:"quotedAt"`
		DisplayName   string `json:"displayName"`
	}
	RevokeSegment struct {
		MsgID     int64 `json:"msgId,string"`
		DedupID   int64 `json:"dedupId,string"`
		CreatedAt int64 `json:"createdAt"`
	}
	ForwardSegment struct {
		Kind     ForwardKind `json:"kind"`
		XML      string      `json:"xml"`
		CoverURL string      `json:"coverUrl,omitempty"`
	}
	// XMLSegment 收到的媒体类消息原文
	XMLSegment struct {
		XML string `json:"xml"`
	}
)

func (TextSegment) Type() SegmentType { return SegText }
func (AtSegment) Type() SegmentType { return SegAt }
func (AtAllSegment) Type() SegmentType { return SegAtAll }
func (ImageSegment) Type() SegmentType { return SegImage }
func (VoiceSegment) Type() SegmentType { return SegVoice }
func (VideoSegment) Type() SegmentType { return SegVideo }
func (FileSegment) Type() SegmentType { return SegFile }
func (NameCardSegment) Type() SegmentType { return SegNameCard }
func (LinkSegment) Type() SegmentType { return SegLink }
func (EmojiSegment) Type() SegmentType { return SegEmoji }
func (AppMsgSegment) Type() SegmentType { return SegAppMsg }
func (MiniAppSegment) Type() SegmentType { return SegMiniApp }
func (QuoteSegment) Type() SegmentType { return SegQuote }
func (RevokeSegment) Type() SegmentType { return SegRevoke }
func (ForwardSegment) Type() SegmentType { return SegForward }
func (XMLSegment) Type() SegmentType { return SegXML }

func Text(content string) Segment { return TextSegment{Content: content} }
func At(wxid string) Segment { return AtSegment{Target: wxid} }
func AtAll() Segment { return AtAllSegment{} }
func Image(url string) Segment { return ImageSegment{URL: url} }
func File(url, name string) Segment { return FileSegment{URL: url, Name: name} }
func AppMsg(xml string) Segment { return AppMsgSegment{XML: xml} }
func XML(xml string) Segment { return XMLSegment{XML: xml} }
func Emoji(md5 string, size int) Segment {
	return EmojiSegment{MD5: md5, Size: size}
}
func Forward(kind ForwardKind, xml string) Segment {
	return ForwardSegment{Kind: kind, XML: xml}
}

// PlainText 所有文本片段拼接的内容
func (m Message) PlainText() string {
	var sb strings.Builder
	for _, seg := range m {
		if t, ok := seg.(TextSegment); ok {
			sb.WriteString(t.Content)
		}
	}
	return sb.String()
}

// Has 是否包含某种片段
func (m Message) Has(t SegmentType) bool {
	for _, seg := range m {
		if seg.Type() == t {
			return true
		}
	}
	return false
}

// Clone 深拷贝，修改副本不影响原消息
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	out := make(Message, len(m))
	for i, seg := range m {
		if t, ok := seg.(TextSegment); ok && t.Mentions != nil {
			t.Mentions = append([]string(nil), t.Mentions...)
			seg = t
		}
		out[i] = seg
	}
	return out
}

type wireSegment struct {
	Type SegmentType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	wire := make([]wireSegment, 0, len(m))
	for _, seg := range m {
		data, err := json.Marshal(seg)
		if err != nil {
			return nil, err
		}
		wire = append(wire, wireSegment{Type: seg.Type(), Data: data})
	}
	return json.Marshal(wire)
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var wire []wireSegment
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	out := make(Message, 0, len(wire))
	for _, w := range wire {
		seg, err := decodeSegment(w)
		if err != nil {
			return err
		}
		out = append(out, seg)
	}
	*m = out
	return nil
}

func decodeSegment(w wireSegment) (Segment, error) {
	var seg Segment
	var err error
	switch w.Type {
	case SegText:
		seg, err = decodeAs[TextSegment](w.Data)
	case SegAt:
		seg, err = decodeAs[AtSegment](w.Data)
	case SegAtAll:
		seg = AtAllSegment{}
	case SegImage:
		seg, err = decodeAs[ImageSegment](w.Data)
	case SegVoice:
		seg, err = decodeAs[VoiceSegment](w.Data)
	case SegVideo:
		seg, err = decodeAs[VideoSegment](w.Data)
	case SegFile:
		seg, err = decodeAs[FileSegment](w.Data)
	case SegNameCard:
		seg, err = decodeAs[NameCardSegment](w.Data)
	case SegLink:
		seg, err = decodeAs[LinkSegment](w.Data)
	case SegEmoji:
		seg, err = decodeAs[EmojiSegment](w.Data)
	case SegAppMsg:
		seg, err = decodeAs[AppMsgSegment](w.Data)
	case SegMiniApp:
		seg, err = decodeAs[MiniAppSegment](w.Data)
	case SegQuote:
		seg, err = decodeAs[QuoteSegment](w.Data)
	case SegRevoke:
		seg, err = decodeAs[RevokeSegment](w.Data)
	case SegForward:
		seg, err = decodeAs[ForwardSegment](w.Data)
	case SegXML:
		seg, err = decodeAs[XMLSegment](w.Data)
	default:
		return nil, fmt.Errorf("unknown segment type %q", w.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s segment: %w", w.Type, err)
	}
	return seg, nil
}

func decodeAs[T Segment](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}

// 网关接口路径
const (
	PathPostText     = "/message/postText"
	PathPostImage    = "/message/postImage"
	PathPostVoice    = "/message/postVoice"
	PathPostVideo    = "/message/postVideo"
	PathPostFile     = "/message/postFile"
	PathPostNameCard = "/message/postNameCard"
	PathPostLink     = "/message/postLink"
	PathPostEmoji    = "/message/postEmoji"
	PathPostAppMsg   = "/message/postAppMsg"
	PathPostMiniApp  = "/message/postMiniApp"
	PathRevokeMsg    = "/message/revokeMsg"
)

var forwardPaths = map[ForwardKind]string{
	ForwardFile:    "/message/forwardFile",
	ForwardImage:   "/message/forwardImage",
	ForwardVideo:   "/message/forwardVideo",
	ForwardURL:     "/message/forwardUrl",
	ForwardMiniApp: "/message/forwardMiniApp",
}

// Payload 一次网关调用
type Payload struct {
	Path string
	Body map[string]any
}

// StampQuotes 未设置引用时间的引用片段使用at，返回新的消息
func (m Message) StampQuotes(at time.Time) Message {
	out := m.Clone()
	for i, seg := range out {
		if q, ok := seg.(QuoteSegment); ok && q.QuotedAt == 0 {
			q.QuotedAt = at.Unix()
			out[i] = q
		}
	}
	return out
}

// ToPayloads 将消息转换为按顺序执行的网关调用
// 连续的文本与@会合并为一次postText，引用后紧跟的文本作为引用消息的标题，引用不能带@
func (m Message) ToPayloads(toWxid string) ([]Payload, error) {
	var (
		payloads []Payload
		content  strings.Builder
		ats      []string
		inRun    bool
		quote    *QuoteSegment
	)
	flush := func() {
		if quote != nil {
			payloads = append(payloads, Payload{Path: PathPostAppMsg, Body: map[string]any{
				"toWxid": toWxid,
				"appmsg": QuoteAppMsg(*quote, content.String()),
			}})
		} else if inRun && (content.Len() > 0 || len(ats) > 0) {
			payloads = append(payloads, Payload{Path: PathPostText, Body: map[string]any{
				"toWxid":  toWxid,
				"content": content.String(),
				"ats":     strings.Join(ats, ","),
			}})
		}
		content.Reset()
		ats = nil
		inRun = false
		quote = nil
	}
	for _, seg := range m {
		switch s := seg.(type) {
		case TextSegment:
			inRun = true
			content.WriteString(s.Content)
			continue
		case AtSegment:
			if s.Target == "" {
				return nil, fmt.Errorf("%w: mention %q without wxid", ErrUnsendable, s.Name)
			}
			if quote != nil {
				return nil, fmt.Errorf("%w: mention %s inside quote", ErrUnsendable, s.Target)
			}
			inRun = true
			ats = append(ats, s.Target)
			continue
		case AtAllSegment:
			if quote != nil {
				return nil, fmt.Errorf("%w: mention all inside quote", ErrUnsendable)
			}
			inRun = true
			ats = append(ats, AtAllWxid)
			continue
		}
		flush()
		body := map[string]any{"toWxid": toWxid}
		var path string
		switch s := seg.(type) {
		case ImageSegment:
			path, body["imgUrl"] = PathPostImage, s.URL
		case VoiceSegment:
			path, body["voiceUrl"], body["voiceDuration"] = PathPostVoice, s.URL, s.DurationMs
		case VideoSegment:
			path, body["videoUrl"], body["thumbUrl"], body["videoDuration"] = PathPostVideo, s.URL, s.ThumbURL, s.DurationSec
		case FileSegment:
			path, body["fileUrl"], body["fileName"] = PathPostFile, s.URL, s.Name
		case NameCardSegment:
			path, body["nameCardWxid"], body["nickName"] = PathPostNameCard, s.ID, s.DisplayName
		case LinkSegment:
			path = PathPostLink
			body["title"], body["desc"], body["linkUrl"], body["thumbUrl"] = s.Title, s.Desc, s.URL, s.ThumbURL
		case EmojiSegment:
			path, body["emojiMd5"], body["emojiSize"] = PathPostEmoji, s.MD5, s.Size
		case AppMsgSegment:
			path, body["appmsg"] = PathPostAppMsg, s.XML
		case MiniAppSegment:
			path = PathPostMiniApp
			body["miniAppId"], body["displayName"], body["pagePath"] = s.AppID, s.DisplayName, s.PagePath
			body["coverImgUrl"], body["title"], body["userName"] = s.CoverURL, s.Title, s.OwnerID
		case RevokeSegment:
			path = PathRevokeMsg
			body["msgId"] = strconv.FormatInt(s.MsgID, 10)
			body["newMsgId"] = strconv.FormatInt(s.DedupID, 10)
			body["createTime"] = strconv.FormatInt(s.CreatedAt, 10)
		case ForwardSegment:
			p, ok := forwardPaths[s.Kind]
			if !ok {
				return nil, fmt.Errorf("%w: unknown forward kind %q", ErrUnsendable, s.Kind)
			}
			path, body["xml"] = p, s.XML
			if s.Kind == ForwardMiniApp {
				body["coverImgUrl"] = s.CoverURL
			}
		case QuoteSegment:
			q := s
			quote = &q
			inRun = true
			continue
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsendable, seg.Type())
		}
		payloads = append(payloads, Payload{Path: path, Body: body})
	}
	flush()
	return payloads, nil
}
