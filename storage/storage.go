package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrInvalidName = errors.New("非法的资源名")

// Storage 下载的图片等资源，按日期分目录保存
type Storage interface {
	Reader(resource string) (io.ReadCloser, error)
	Writer(filename string) (io.WriteCloser, string, error)
	Save(filename string, data []byte) (string, error)
}

type LocalStorage struct {
	DataDir string
	now     func() time.Time
}

func NewLocalStorage(dataDir string) *LocalStorage {
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		panic(err)
	}
	return &LocalStorage{
		DataDir: dataDir,
		now:     time.Now,
	}
}

// resolve 资源名必须落在数据目录内
func (s *LocalStorage) resolve(resource string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(resource))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.DataDir, clean), nil
}

func (s *LocalStorage) Reader(resource string) (io.ReadCloser, error) {
	path, err := s.resolve(resource)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: resource, Err: err}
	}
	return os.Open(path)
}

// Writer 返回的resource用于之后的Reader
func (s *LocalStorage) Writer(filename string) (io.WriteCloser, string, error) {
	name := filepath.Base(filename)
	if name == "." || name == ".." || name == string(os.PathSeparator) {
		return nil, "", ErrInvalidName
	}
	resource := filepath.ToSlash(filepath.Join(s.now().Format("2006/01/02"), name))
	savePath := filepath.Join(s.DataDir, filepath.FromSlash(resource))
	if err := os.MkdirAll(filepath.Dir(savePath), os.ModePerm); err != nil {
		return nil, resource, err
	}
	file, err := os.Create(savePath)
	if err != nil {
		return nil, resource, err
	}
	return file, resource, nil
}

func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	w, resource, err := s.Writer(filename)
	if err != nil {
		return resource, err
	}
	if _, err = w.Write(data); err != nil {
		_ = w.Close()
		return resource, err
	}
	return resource, w.Close()
}
