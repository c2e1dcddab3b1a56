package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误处理测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}

// TestNew 测试创建错误
func (s *ErrorsTestSuite) TestNew() {
	err := New(ErrUnknownTag)
	s.Require().NotNil(err)
	s.Equal(ErrUnknownTag, err.Code)
	s.Equal("未知标签", err.Message)
	s.Empty(err.Details)
	s.NotEmpty(err.Stack)
}

// TestNewWithDetails 测试带详情的错误
func (s *ErrorsTestSuite) TestNewWithDetails() {
	err := New(ErrUnknownTag, "tag=999999999")
	s.Equal("tag=999999999", err.Details)
	s.Contains(err.Error(), "[2000]")
	s.Contains(err.Error(), "tag=999999999")
}

// TestNewf 测试格式化错误
func (s *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrPumpOutOfRange, "泵索引 %d 超出范围 [0, %d)", 12, 10)
	s.Equal(ErrPumpOutOfRange, err.Code)
	s.Contains(err.Details, "12")
}

// TestNewUnknownCode 测试未知错误码
func (s *ErrorsTestSuite) TestNewUnknownCode() {
	err := New(99999)
	s.Equal("未知错误", err.Message)
}

// TestWrap 测试包装错误
func (s *ErrorsTestSuite) TestWrap() {
	cause := fmt.Errorf("read /dev/ttyUSB0: input/output error")
	err := Wrap(cause, ErrSerialRead)
	s.Require().NotNil(err)
	s.Equal(ErrSerialRead, err.Code)
	s.Equal(cause, err.Cause)
	s.Contains(err.Error(), "原因")
}

// TestWrapNil 测试包装nil错误
func (s *ErrorsTestSuite) TestWrapNil() {
	err := Wrap(nil, ErrSerialRead)
	s.Nil(err)
}

// TestWrapAppError 测试包装AppError保留原始错误码
func (s *ErrorsTestSuite) TestWrapAppError() {
	inner := New(ErrSafetyAbort, "杯子被移走")
	outer := Wrap(inner, ErrInternalError)
	s.Equal(ErrSafetyAbort, outer.Code)
}

// TestUnwrap 测试errors.Is兼容性
func (s *ErrorsTestSuite) TestUnwrap() {
	cause := fmt.Errorf("底层错误")
	err := Wrap(cause, ErrGrblTimeout)
	s.True(errors.Is(err, cause))
}

// TestIs 测试错误码判断
func (s *ErrorsTestSuite) TestIs() {
	err := New(ErrDuplicateTag)
	s.True(Is(err, ErrDuplicateTag))
	s.False(Is(err, ErrUnknownTag))
	s.False(Is(fmt.Errorf("普通错误"), ErrDuplicateTag))
}

// TestGetCode 测试获取错误码
func (s *ErrorsTestSuite) TestGetCode() {
	s.Equal(ErrGrblFault, GetCode(New(ErrGrblFault)))
	s.Equal(ErrUnknown, GetCode(fmt.Errorf("普通错误")))
}

// TestIsRetryable 测试可重试判断
func (s *ErrorsTestSuite) TestIsRetryable() {
	s.True(IsRetryable(New(ErrGrblTimeout)))
	s.True(IsRetryable(New(ErrSerialRead)))
	s.False(IsRetryable(New(ErrUnknownTag)))
	s.False(IsRetryable(New(ErrSafetyAbort)))
}

// TestIsCritical 测试严重错误判断
func (s *ErrorsTestSuite) TestIsCritical() {
	s.True(IsCritical(New(ErrGrblFault)))
	s.True(IsCritical(New(ErrEmergencyStop)))
	s.False(IsCritical(New(ErrTimeout)))
}

// TestIsSafety 测试安全中断判断
func (s *ErrorsTestSuite) TestIsSafety() {
	s.True(IsSafety(New(ErrSafetyAbort)))
	s.True(IsSafety(New(ErrCupAbsent)))
	s.False(IsSafety(New(ErrGrblFault)))
}

// TestErrorChain 测试多层包装链
func TestErrorChain(t *testing.T) {
	base := fmt.Errorf("连接被拒绝")
	wrapped := Wrap(base, ErrDatabaseConnection, "dsn=coffeeman.db")

	assert.Equal(t, ErrDatabaseConnection, GetCode(wrapped))
	assert.True(t, errors.Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "dsn=coffeeman.db")
}
