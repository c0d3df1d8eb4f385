package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Feature labels shown with connection notices and inline errors.
const (
	LabelAnalyze  = "학습 결과 분석"
	LabelQuiz     = "퀴즈 생성"
	LabelTopic    = "토픽 생성"
	LabelDaily    = "오늘의 표현 갱신"
	LabelDialogue = "대화 생성"
)

var (
	ErrEmptyInput    = errors.New("orchestrator: input text is empty")
	ErrNoResult      = errors.New("orchestrator: no analysis result")
	ErrNoQuiz        = errors.New("orchestrator: no quiz loaded")
	ErrInProgress    = errors.New("orchestrator: operation already in progress")
	ErrNothingFailed = errors.New("orchestrator: no failed action to retry")
	ErrEmptyTopic    = errors.New("orchestrator: empty topic")
)

// ConnectionIssue is the persistent notice raised when a feature failed to
// reach the API. It carries the failed action so it can be replayed as is.
type ConnectionIssue struct {
	Label string
	Err   error
	retry func(context.Context) error
}

// FeatureError is a non-network failure of one feature call.
type FeatureError struct {
	Label string
	Err   error
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Label, e.Err)
}

func (e *FeatureError) Unwrap() error { return e.Err }

// Message is the inline text shown next to the feature that failed.
func (e *FeatureError) Message() string {
	return e.Label + " 중 문제가 발생했습니다. 잠시 후 다시 시도해주세요."
}

// IsConnectionError reports whether err means the API could not be reached
// at all, as opposed to the API answering with a failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fetch") || strings.Contains(msg, "connection")
}

func isRateLimited(err error) bool {
	var rl interface{ IsRateLimited() bool }
	return errors.As(err, &rl) && rl.IsRateLimited()
}
