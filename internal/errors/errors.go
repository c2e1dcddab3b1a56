package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// 错误码定义
const (
	// 通用错误码 (1000-1999)
	ErrUnknown          = 1000 // 未知错误
	ErrInvalidParam     = 1001 // 参数无效
	ErrNotFound         = 1002 // 资源不存在
	ErrTimeout          = 1003 // 操作超时
	ErrInternalError    = 1004 // 内部错误
	ErrNotImplemented   = 1005 // 功能未实现
	ErrOperationAborted = 1006 // 操作被中止

	// 配方错误码 (2000-2999)
	ErrUnknownTag      = 2000 // 未知标签
	ErrDuplicateTag    = 2001 // 标签已注册
	ErrRecipeInvalid   = 2002 // 配方数据无效
	ErrRecipeIntegrity = 2003 // 配方数据完整性校验失败
	ErrPumpOutOfRange  = 2004 // 泵索引越界
	ErrAmountInvalid   = 2005 // 用量无效
	ErrRecipeLoad      = 2006 // 配方文件加载失败

	// 硬件错误码 (3000-3999)
	ErrSerialOpen      = 3000 // 串口打开失败
	ErrSerialRead      = 3001 // 串口读取失败
	ErrSerialWrite     = 3002 // 串口写入失败
	ErrGrblTimeout     = 3003 // GRBL响应超时
	ErrGrblFault       = 3004 // GRBL返回错误
	ErrDeviceBusy      = 3005 // 设备忙
	ErrGpioAccess      = 3006 // GPIO访问失败
	ErrSensorRead      = 3007 // 传感器读取失败
	ErrHardwareGeneral = 3008 // 硬件错误
	ErrMediaPlayer     = 3009 // 视频播放器错误

	// 安全错误码 (4000-4999)
	ErrSafetyAbort   = 4000 // 安全中断（出酒中杯子被移走）
	ErrCupAbsent     = 4001 // 杯子不存在
	ErrEmergencyStop = 4002 // 紧急停止
	ErrCupWaitExpire = 4003 // 等待放杯超时

	// 数据库错误码 (5000-5999)
	ErrDatabaseConnection = 5000 // 数据库连接失败
	ErrDatabaseQuery      = 5001 // 数据库查询失败
	ErrDatabaseInsert     = 5002 // 数据库插入失败
	ErrDatabaseUpdate     = 5003 // 数据库更新失败
	ErrDatabaseMigration  = 5004 // 数据库迁移失败

	// 配置错误码 (6000-6999)
	ErrConfigLoad     = 6000 // 配置加载失败
	ErrConfigInvalid  = 6001 // 配置无效
	ErrConfigNotFound = 6002 // 配置项不存在

	// 认证错误码 (7000-7999)
	ErrUnauthorized  = 7000 // 未授权
	ErrTokenInvalid  = 7001 // 令牌无效
	ErrTokenExpired  = 7002 // 令牌过期
	ErrLoginFailed   = 7003 // 登录失败
	ErrPermissionDen = 7004 // 权限不足
)

// errorMessages 错误码对应的默认消息
var errorMessages = map[int]string{
	ErrUnknown:          "未知错误",
	ErrInvalidParam:     "参数无效",
	ErrNotFound:         "资源不存在",
	ErrTimeout:          "操作超时",
	ErrInternalError:    "内部错误",
	ErrNotImplemented:   "功能未实现",
	ErrOperationAborted: "操作被中止",

	ErrUnknownTag:      "未知标签",
	ErrDuplicateTag:    "标签已注册",
	ErrRecipeInvalid:   "配方数据无效",
	ErrRecipeIntegrity: "配方数据完整性校验失败",
	ErrPumpOutOfRange:  "泵索引越界",
	ErrAmountInvalid:   "用量无效",
	ErrRecipeLoad:      "配方文件加载失败",

	ErrSerialOpen:      "串口打开失败",
	ErrSerialRead:      "串口读取失败",
	ErrSerialWrite:     "串口写入失败",
	ErrGrblTimeout:     "GRBL响应超时",
	ErrGrblFault:       "GRBL返回错误",
	ErrDeviceBusy:      "设备忙",
	ErrGpioAccess:      "GPIO访问失败",
	ErrSensorRead:      "传感器读取失败",
	ErrHardwareGeneral: "硬件错误",
	ErrMediaPlayer:     "视频播放器错误",

	ErrSafetyAbort:   "安全中断",
	ErrCupAbsent:     "杯子不存在",
	ErrEmergencyStop: "紧急停止",
	ErrCupWaitExpire: "等待放杯超时",

	ErrDatabaseConnection: "数据库连接失败",
	ErrDatabaseQuery:      "数据库查询失败",
	ErrDatabaseInsert:     "数据库插入失败",
	ErrDatabaseUpdate:     "数据库更新失败",
	ErrDatabaseMigration:  "数据库迁移失败",

	ErrConfigLoad:     "配置加载失败",
	ErrConfigInvalid:  "配置无效",
	ErrConfigNotFound: "配置项不存在",

	ErrUnauthorized:  "未授权",
	ErrTokenInvalid:  "令牌无效",
	ErrTokenExpired:  "令牌过期",
	ErrLoginFailed:   "登录失败",
	ErrPermissionDen: "权限不足",
}

// AppError 应用错误类型
type AppError struct {
	Code    int    // 错误码
	Message string // 错误消息
	Details string // 详细信息
	Cause   error  // 原始错误
	Stack   string // 堆栈信息
}

// Error 实现error接口
func (e *AppError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%d] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (原因: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap 支持errors.Is和errors.As
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New 创建新的应用错误
func New(code int, details ...string) *AppError {
	msg, ok := errorMessages[code]
	if !ok {
		msg = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: msg,
		Stack:   getStack(),
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	return err
}

// Newf 创建带格式化详情的应用错误
func Newf(code int, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装已有错误
func Wrap(err error, code int, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	var appErr *AppError
	if errors.As(err, &appErr) {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ")
		}
		return appErr
	}

	msg, ok := errorMessages[code]
	if !ok {
		msg = errorMessages[ErrUnknown]
	}

	wrapped := &AppError{
		Code:    code,
		Message: msg,
		Cause:   err,
		Stack:   getStack(),
	}

	if len(details) > 0 {
		wrapped.Details = strings.Join(details, "; ")
	}

	return wrapped
}

// Wrapf 包装已有错误并格式化详情
func Wrapf(err error, code int, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is 判断错误是否为指定错误码
func Is(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode 获取错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrUnknown
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	code := GetCode(err)
	switch code {
	case ErrTimeout, ErrGrblTimeout, ErrSerialRead, ErrSerialWrite,
		ErrDeviceBusy, ErrSensorRead, ErrDatabaseConnection:
		return true
	default:
		return false
	}
}

// IsCritical 判断错误是否严重（需要进入错误状态并人工干预）
func IsCritical(err error) bool {
	code := GetCode(err)
	switch code {
	case ErrSerialOpen, ErrGrblFault, ErrEmergencyStop,
		ErrHardwareGeneral, ErrDatabaseMigration:
		return true
	default:
		return false
	}
}

// IsSafety 判断错误是否为安全中断类错误
func IsSafety(err error) bool {
	code := GetCode(err)
	switch code {
	case ErrSafetyAbort, ErrCupAbsent, ErrEmergencyStop:
		return true
	default:
		return false
	}
}

// getStack 获取堆栈信息
func getStack() string {
	var sb strings.Builder
	// 跳过前3个调用帧
	for i := 3; i < 8; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s\n\t%s:%d\n", fn.Name(), file, line))
	}
	return sb.String()
}
