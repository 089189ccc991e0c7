package models

import "errors"

// 错误分类：全部为非致命错误，下一轮 check-in 重试
var (
	// ErrTransport 连接失败或超时
	ErrTransport = errors.New("transport error")
	// ErrDecode 报文无法识别或解析失败
	ErrDecode = errors.New("decode error")
	// ErrValidation 报文缺少 success/status 等必需标记
	ErrValidation = errors.New("validation error")
	// ErrPersistence 身份存储写入失败
	ErrPersistence = errors.New("persistence error")
	// ErrUpdateFailed 固件更新执行失败
	ErrUpdateFailed = errors.New("update execution failure")
)
