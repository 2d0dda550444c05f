package hub

import (
	"encoding/json"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"gewe-hub/pkg/lru"
)

type (
	// MessageManager 消息事件持久化，按NewMsgId去重
	MessageManager interface {
		Exist(dedupID int64) (bool, error)
		Save(Event) error
		Find(dedupID int64) (*JournalMessage, error)
	}

	JournalMessage struct {
		ID        string `gorm:"primaryKey;type:varchar(32)" json:"newMsgId"`
		MsgID     int64  `gorm:"column:msg_id" json:"msgId,string"`
		MsgType   int    `gorm:"type:int" json:"msgType"`
		Leaf      string `gorm:"type:varchar(32)" json:"leaf"`
		Time      int64  `gorm:"type:bigint" json:"time"`
		GID       string `gorm:"column:gid;type:varchar(64)" json:"gid,omitempty"`
		UID       string `gorm:"column:uid;type:varchar(64)" json:"uid"`
		Content   string `gorm:"" json:"content"`
		Segments  string `gorm:"" json:"segments"`
		CreatedAt int64  `gorm:"autoCreateTime:milli" json:"-"`
	}

	dbMessageManager struct {
		db           *gorm.DB
		existIdCache *lru.LRU[int64, struct{}]
	}
)

func (JournalMessage) TableName() string {
	return "message"
}

func NewMessageManager(db *gorm.DB) MessageManager {
	if err := db.AutoMigrate(JournalMessage{}); err != nil {
		panic(err)
	}
	return &dbMessageManager{
		db:           db,
		existIdCache: lru.New[int64, struct{}](1000),
	}
}

func (d *dbMessageManager) Exist(dedupID int64) (bool, error) {
	if d.existIdCache.Exist(dedupID) {
		return true, nil
	}
	err := d.db.Model(&JournalMessage{}).Where("id = ?", strconv.FormatInt(dedupID, 10)).Take(&JournalMessage{}).Error
	if err == nil {
		d.existIdCache.Put(dedupID, struct{}{})
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// Save 只保存消息事件，其它事件忽略
func (d *dbMessageManager) Save(ev Event) error {
	msg, ok := ev.Message()
	if !ok {
		return nil
	}
	segments, err := json.Marshal(msg.Content)
	if err != nil {
		return err
	}
	row := JournalMessage{
		ID:       strconv.FormatInt(msg.DedupID, 10),
		MsgID:    msg.MessageID,
		MsgType:  int(msg.MessageType),
		Leaf:     string(ev.Leaf()),
		Time:     msg.CreatedAt,
		UID:      msg.SenderID,
		Content:  msg.RawContent,
		Segments: string(segments),
	}
	if msg.IsGroup() {
		row.GID = msg.FromID
	}
	if err = d.db.Create(&row).Error; err != nil {
		return err
	}
	d.existIdCache.Put(msg.DedupID, struct{}{})
	return nil
}

func (d *dbMessageManager) Find(dedupID int64) (*JournalMessage, error) {
	var row JournalMessage
	err := d.db.Where("id = ?", strconv.FormatInt(dedupID, 10)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
