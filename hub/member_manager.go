package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"gewe-hub/db"
)

type (
	// ChatroomMember 网关返回的群成员
	ChatroomMember struct {
		Wxid        string `json:"wxid"`
		NickName    string `json:"nickName"`
		DisplayName string `json:"displayName,omitempty"`
	}

	// MemberLister 群成员来源
	MemberLister interface {
		ChatroomMembers(ctx context.Context, chatroomID string) ([]ChatroomMember, error)
	}

	MemberManager interface {
		// RefreshGroupMember 同步群成员，返回已离开的成员
		RefreshGroupMember(ctx context.Context, gid string) ([]GroupUser, error)
		GetGroupUsers(gid string) (map[string]GroupUser, error)
		LeaveGroupUser(gid string, uid string) error
		// Resolve 根据群名片或昵称查找wxid
		Resolve(ctx context.Context, gid string, name string) (string, bool)
		// ResolveMentions 补全消息中只有名字的@
		ResolveMentions(ctx context.Context, gid string, msg Message) Message
	}

	dbMemberManager struct {
		lister     MemberLister
		db         *gorm.DB
		cache      db.Storage
		cacheTTL   time.Duration
		refreshTTL time.Duration
		log        *slog.Logger
	}

	MemberManagerOption = func(*dbMemberManager)

	GroupUser struct {
		GID        string `gorm:"primaryKey;column:gid;type:varchar(40)" json:"gid"`  // 群id
		UID        string `gorm:"primaryKey;column:uid;type:varchar(64)" json:"uid"`  // 用户wxid
		Nickname   string `gorm:"type:varchar(255)" json:"nickname"`                  // 微信昵称
		CardName   string `gorm:"type:varchar(255)" json:"cardName"`                  // 群名片
		UpdateTime int64  `gorm:"autoCreateTime:milli;autoUpdateTime:milli" json:"-"` // 更新时间
		LeaveTime  int64  `gorm:"" json:"leaveTime"`                                  // 退群时间
	}
)

// WithRefreshInterval 同一个群两次同步的最小间隔
func WithRefreshInterval(d time.Duration) MemberManagerOption {
	return func(m *dbMemberManager) {
		m.refreshTTL = d
	}
}

func WithMemberLogger(log *slog.Logger) MemberManagerOption {
	return func(m *dbMemberManager) {
		m.log = log
	}
}

func NewMemberManager(lister MemberLister, db *gorm.DB, cache db.Storage, options ...MemberManagerOption) MemberManager {
	if err := db.AutoMigrate(GroupUser{}); err != nil {
		panic(err)
	}
	m := &dbMemberManager{
		lister:     lister,
		db:         db,
		cache:      cache,
		cacheTTL:   time.Hour,
		refreshTTL: 5 * time.Minute,
		log:        slog.Default(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

func (u GroupUser) names() []string {
	if u.CardName != "" && u.CardName != u.Nickname {
		return []string{u.CardName, u.Nickname}
	}
	return []string{u.Nickname}
}

func nameKey(gid, name string) string {
	return "member:" + gid + ":" + name
}

// GetGroupUsers 获取群成员
func (m *dbMemberManager) GetGroupUsers(gid string) (map[string]GroupUser, error) {
	var users []GroupUser
	db := m.db.Where("gid = ?", gid).Find(&users)
	if db.Error != nil {
		m.log.Error("查询群成员出错", "gid", gid, "error", db.Error)
		return nil, db.Error
	}
	userMap := make(map[string]GroupUser, len(users))
	for _, u := range users {
		userMap[u.UID] = u
	}
	return userMap, nil
}

// LeaveGroupUser 成员退群
func (m *dbMemberManager) LeaveGroupUser(gid string, uid string) error {
	return m.db.Model(&GroupUser{}).Where("gid = ? and uid = ?", gid, uid).Update("leave_time", time.Now().UnixMilli()).Error
}

func (m *dbMemberManager) RefreshGroupMember(ctx context.Context, gid string) ([]GroupUser, error) {
	members, err := m.lister.ChatroomMembers(ctx, gid)
	if err != nil {
		m.log.Error("获取群成员列表失败", "gid", gid, "error", err)
		return nil, err
	}
	groupMembers, err := m.GetGroupUsers(gid)
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		user, ok := groupMembers[member.Wxid]
		switch {
		case !ok:
			user = GroupUser{GID: gid, UID: member.Wxid, Nickname: member.NickName, CardName: member.DisplayName}
			if err = m.db.Create(&user).Error; err != nil {
				m.log.Error("添加群成员失败", "gid", gid, "uid", member.Wxid, "error", err)
				continue
			}
			m.log.Info("添加群成员", "gid", gid, "uid", member.Wxid, "nickname", member.NickName)
		case user.Nickname != member.NickName || user.CardName != member.DisplayName || user.LeaveTime > 0:
			user.Nickname, user.CardName, user.LeaveTime = member.NickName, member.DisplayName, 0
			err = m.db.Model(&GroupUser{}).Where("gid = ? and uid = ?", gid, member.Wxid).
				Updates(map[string]any{"nickname": user.Nickname, "card_name": user.CardName, "leave_time": 0}).Error
			if err != nil {
				m.log.Error("更新群成员信息失败", "gid", gid, "uid", member.Wxid, "error", err)
				continue
			}
			m.log.Info("更新群成员信息", "gid", gid, "uid", member.Wxid, "nickname", user.Nickname)
		}
		keys := make([]string, 0, 2)
		for _, name := range user.names() {
			keys = append(keys, nameKey(gid, name))
		}
		if err = m.cache.SaveKeysWithTTL(keys, member.Wxid, m.cacheTTL); err != nil {
			m.log.Warn("缓存群成员失败", "gid", gid, "uid", member.Wxid, "error", err)
		}
		delete(groupMembers, member.Wxid)
	}
	// 剩下为离开群的成员
	left := make([]GroupUser, 0, len(groupMembers))
	for uid, user := range groupMembers {
		if user.LeaveTime > 0 {
			continue
		}
		left = append(left, user)
		if err = m.LeaveGroupUser(gid, uid); err != nil {
			m.log.Error("标记退群成员失败", "gid", gid, "uid", uid, "error", err)
		} else {
			m.log.Info("成员已退群", "gid", gid, "uid", uid)
		}
	}
	return left, nil
}

func (m *dbMemberManager) lookup(gid, name string) (string, bool) {
	if wxid, err := m.cache.Get(nameKey(gid, name)); err == nil && wxid != "" {
		return wxid, true
	}
	var user GroupUser
	err := m.db.Where("gid = ? and leave_time = 0 and (card_name = ? or nickname = ?)", gid, name, name).Take(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			m.log.Error("查询群成员出错", "gid", gid, "name", name, "error", err)
		}
		return "", false
	}
	_ = m.cache.SaveWithTTL(nameKey(gid, name), user.UID, m.cacheTTL)
	return user.UID, true
}

func (m *dbMemberManager) Resolve(ctx context.Context, gid string, name string) (string, bool) {
	if matched, wxid := MatchName(name, " ", func(n string) (string, bool) { return m.lookup(gid, n) }); matched != "" {
		return wxid, true
	}
	// 未找到时同步一次群成员，同一个群在间隔内只同步一次
	if !m.cache.PutIfAbsentWithTTL("refresh:"+gid, "1", m.refreshTTL) {
		return "", false
	}
	if _, err := m.RefreshGroupMember(ctx, gid); err != nil {
		return "", false
	}
	if matched, wxid := MatchName(name, " ", func(n string) (string, bool) { return m.lookup(gid, n) }); matched != "" {
		return wxid, true
	}
	return "", false
}

func (m *dbMemberManager) ResolveMentions(ctx context.Context, gid string, msg Message) Message {
	out := msg.Clone()
	for i, seg := range out {
		at, ok := seg.(AtSegment)
		if !ok || at.Target != "" || at.Name == "" {
			continue
		}
		if wxid, ok := m.Resolve(ctx, gid, at.Name); ok {
			at.Target = wxid
			out[i] = at
		} else {
			m.log.Debug("未找到被@的成员", "gid", gid, "name", at.Name)
		}
	}
	return out
}
