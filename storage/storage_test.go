package storage

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	s := NewLocalStorage(t.TempDir())
	s.now = func() time.Time { return time.Date(2024, 12, 25, 8, 0, 0, 0, time.Local) }

	resource, err := s.Save("../../cat.jpg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "2024/12/25/cat.jpg", resource)

	r, err := s.Reader(resource)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(b))
}

func TestReaderRejectsEscape(t *testing.T) {
	s := NewLocalStorage(t.TempDir())
	for _, name := range []string{"../secret", "/etc/passwd", "", "2024/../../x"} {
		_, err := s.Reader(name)
		assert.True(t, errors.Is(err, ErrInvalidName), name)
	}
	_, _, err := s.Writer("..")
	assert.ErrorIs(t, err, ErrInvalidName)
}
