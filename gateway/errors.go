package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrActionFailed = errors.New("gateway action failed")
	ErrNetwork      = errors.New("gateway network error")
)

// ActionFailed 网关返回了非200的ret
type ActionFailed struct {
	Path string
	Ret  int
	Msg  string
}

func (e *ActionFailed) Error() string {
	return fmt.Sprintf("调用API失败 %s: ret=%d msg=%s", e.Path, e.Ret, e.Msg)
}

func (e *ActionFailed) Is(target error) bool { return target == ErrActionFailed }

// NetworkError 请求未完成或HTTP状态码非200
type NetworkError struct {
	Path   string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("请求网关失败 %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("请求网关失败 %s: status %d", e.Path, e.Status)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
