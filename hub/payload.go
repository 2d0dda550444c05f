package hub

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidPayload = errors.New("invalid payload")

type (
	// StringField 网关中 {"string": "..."} 形式的字段
	StringField struct {
		String string `json:"string"`
	}

	ImgBuf struct {
		Len    int    `json:"iLen"`
		Buffer string `json:"buffer,omitempty"`
	}

	AddMsgData struct {
		MsgId        int64       `json:"MsgId"`
		FromUserName StringField `json:"FromUserName"`
		ToUserName   StringField `json:"ToUserName"`
		MsgType      MessageType `json:"MsgType"`
		Content      StringField `json:"Content"`
		Status       int         `json:"Status"`
		ImgStatus    int         `json:"ImgStatus"`
		ImgBuf       ImgBuf      `json:"ImgBuf"`
		CreateTime   int64       `json:"CreateTime"`
		MsgSource    string      `json:"MsgSource"`
		PushContent  string      `json:"PushContent"`
		NewMsgId     int64       `json:"NewMsgId"`
		MsgSeq       int64       `json:"MsgSeq"`
	}

	ModContactsData struct {
		UserName      StringField `json:"UserName"`
		NickName      StringField `json:"NickName"`
		Remark        StringField `json:"Remark"`
		Alias         string      `json:"Alias"`
		Sex           int         `json:"Sex"`
		ChatRoomOwner string      `json:"ChatRoomOwner"`
	}

	DelContactsData struct {
		UserName           StringField `json:"UserName"`
		Username           string      `json:"username"`
		DeleteContactScene int         `json:"delete_contact_scene"`
	}

	// RawPayload 回调推送原文，解析后不再修改
	RawPayload struct {
		TestMsg  string   `json:"testMsg,omitempty"`
		Token    string   `json:"token,omitempty"`
		TypeName TypeName `json:"TypeName,omitempty"`
		Appid    string   `json:"Appid,omitempty"`
		Wxid     string   `json:"Wxid,omitempty"`
		// Data 原始的data字段
		Data json.RawMessage `json:"Data,omitempty"`

		AddMsg      *AddMsgData      `json:"-"`
		ModContacts *ModContactsData `json:"-"`
		DelContacts *DelContactsData `json:"-"`
	}
)

// ID 被删除联系人的id，兼容两种字段
func (d DelContactsData) ID() string {
	if d.UserName.String != "" {
		return d.UserName.String
	}
	return d.Username
}

// IsTest 是否为回调地址连通性测试
func (p RawPayload) IsTest() bool {
	return p.TypeName == TypeTest
}

// ParsePayload 解析回调推送
func ParsePayload(body []byte) (RawPayload, error) {
	var p RawPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return RawPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.TypeName == "" && p.TestMsg != "" {
		p.TypeName = TypeTest
		return p, nil
	}
	if !p.TypeName.Valid() {
		return RawPayload{}, fmt.Errorf("%w: unknown TypeName %q", ErrInvalidPayload, p.TypeName)
	}
	switch p.TypeName {
	case TypeAddMsg:
		var data AddMsgData
		if err := decodeData(p.Data, &data); err != nil {
			return RawPayload{}, err
		}
		if data.FromUserName.String == "" || !data.MsgType.Valid() {
			return RawPayload{}, fmt.Errorf("%w: AddMsg without sender or with MsgType %d", ErrInvalidPayload, data.MsgType)
		}
		p.AddMsg = &data
	case TypeModContacts:
		var data ModContactsData
		if err := decodeData(p.Data, &data); err != nil {
			return RawPayload{}, err
		}
		p.ModContacts = &data
	case TypeDelContacts:
		var data DelContactsData
		if err := decodeData(p.Data, &data); err != nil {
			return RawPayload{}, err
		}
		p.DelContacts = &data
	}
	return p, nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing Data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
