// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// ErrorTypeTransport 传输层错误：网络请求失败、推送通道断开。
	// 处理原则：记录日志并保留最近一次成功的派生状态。
	ErrorTypeTransport ErrorType = "transport_error"

	// ErrorTypeDecode 解码错误：畸形 JSON 消息、文本模式不匹配。
	// 处理原则：按条目隔离，单条失败不得中断整批处理。
	ErrorTypeDecode ErrorType = "decode_error"

	// ErrorTypeLogical 逻辑错误：后端对指令返回失败。
	// 处理原则：原样上报给调用方展示，不自动重试。
	ErrorTypeLogical ErrorType = "logical_error"

	// ErrorTypeValidation 参数校验错误
	ErrorTypeValidation ErrorType = "validation_error"

	// ErrorTypeNotFound 资源不存在
	ErrorTypeNotFound ErrorType = "not_found"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建指定类型的 AppError
func New(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
	}
}

// NewTransportError 创建传输错误
func NewTransportError(message string, originalError error) *AppError {
	return New(ErrorTypeTransport, message, originalError)
}

// NewDecodeError 创建解码错误
func NewDecodeError(message string, originalError error) *AppError {
	return New(ErrorTypeDecode, message, originalError)
}

// NewLogicalError 创建逻辑错误
func NewLogicalError(message string, originalError error) *AppError {
	return New(ErrorTypeLogical, message, originalError)
}

// NewValidationError 创建校验错误
func NewValidationError(message string, originalError error) *AppError {
	return New(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return New(ErrorTypeNotFound, message, originalError)
}

// TypeOf 返回错误的分类，非 AppError 一律视为传输错误
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeTransport
}

// Is 判断错误是否属于指定类型
func Is(err error, errType ErrorType) bool {
	return TypeOf(err) == errType
}
