package gateway

import (
	"errors"
	"fmt"
)

// ErrTransport 连接/请求层面的失败（可重试，不致命）。
var ErrTransport = errors.New("transport error")

// MalformedPayloadError 负载不符合约定格式；该消息被丢弃，已有数据保留。
type MalformedPayloadError struct {
	Source string
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s payload: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s payload: %s", e.Source, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

func malformed(source, reason string, err error) error {
	return &MalformedPayloadError{Source: source, Reason: reason, Err: err}
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// IsMalformed 判断错误链中是否包含 MalformedPayloadError。
func IsMalformed(err error) bool {
	var m *MalformedPayloadError
	return errors.As(err, &m)
}

// IsTransport 判断是否为传输层错误。
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
