package auth

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewAuthManager(conn)
}

func TestManager(t *testing.T) {
	m := newTestManager(t)

	has, err := m.HasUsers()
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, m.CreateUser("alice", "secret"))
	assert.Error(t, m.CreateUser("alice", "other"), "用户名唯一")
	assert.ErrorIs(t, m.CreateUser("bob", ""), ErrEmptyCredentials)

	user, err := m.FindUser("alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.NotEqual(t, "secret", user.Password, "不保存明文密码")

	assert.True(t, m.CheckUser("alice", "secret"))
	assert.False(t, m.CheckUser("alice", "Secret"))
	assert.False(t, m.CheckUser("nobody", "secret"))
	assert.False(t, m.CheckUser("", ""))

	require.NoError(t, m.SetPassword("alice", "changed"))
	assert.False(t, m.CheckUser("alice", "secret"))
	assert.True(t, m.CheckUser("alice", "changed"))
	assert.ErrorIs(t, m.SetPassword("nobody", "x"), gorm.ErrRecordNotFound)

	has, err = m.HasUsers()
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, m.DeleteUser("alice"))
	user, err = m.FindUser("alice")
	require.NoError(t, err)
	assert.Nil(t, user)
}
