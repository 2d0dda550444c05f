package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrEmptyCredentials = errors.New("用户名和密码不能为空")

type (
	// Manager 下游用户，用于HTTP接口、websocket和MQTT鉴权
	Manager struct {
		db *gorm.DB
	}
	User struct {
		ID       int    `gorm:"primarykey;AUTO_INCREMENT"`
		Username string `gorm:"unique"`
		Password string `gorm:"not null"`
	}
)

func (User) TableName() string {
	return "auth_user"
}

func NewAuthManager(db *gorm.DB) *Manager {
	if err := db.AutoMigrate(&User{}); err != nil {
		panic(err)
	}
	return &Manager{db: db}
}

func (m *Manager) CreateUser(username, password string) error {
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("生成密码失败: %w", err)
	}
	return m.db.Create(&User{Username: username, Password: string(hash)}).Error
}

// SetPassword 修改已有用户的密码
func (m *Manager) SetPassword(username, password string) error {
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("生成密码失败: %w", err)
	}
	res := m.db.Model(&User{}).Where("username = ?", username).Update("password", string(hash))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (m *Manager) FindUser(username string) (*User, error) {
	var user User
	err := m.db.Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (m *Manager) CheckUser(username, password string) bool {
	if username == "" {
		return false
	}
	user, err := m.FindUser(username)
	if err != nil || user == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil
}

func (m *Manager) DeleteUser(username string) error {
	return m.db.Delete(&User{}, "username = ?", username).Error
}

// HasUsers 没有任何用户时接口不做鉴权
func (m *Manager) HasUsers() (bool, error) {
	var count int64
	if err := m.db.Model(&User{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
