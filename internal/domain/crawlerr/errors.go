// Package crawlerr 定义爬取过程中的错误分类.
// Configuration/Authentication 不重试; Navigation/Network 在发生处指数退避重试;
// Captcha 每个挑战有限次重试; AntiBotDetected 驱动补救循环; Extraction 按条目跳过;
// Persistence 只要有一个后端成功就继续.
package crawlerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAuthentication
	KindNavigation
	KindNetwork
	KindCaptcha
	KindAntiBotDetected
	KindExtraction
	KindPersistence
	KindInterrupted
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindConfiguration:   "configuration",
	KindAuthentication:  "authentication",
	KindNavigation:      "navigation",
	KindNetwork:         "network",
	KindCaptcha:         "captcha",
	KindAntiBotDetected: "anti_bot_detected",
	KindExtraction:      "extraction",
	KindPersistence:     "persistence",
	KindInterrupted:     "interrupted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// 用于 errors.Is 比较的哨兵值
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrAuthentication  = &Error{Kind: KindAuthentication}
	ErrNavigation      = &Error{Kind: KindNavigation}
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrCaptcha         = &Error{Kind: KindCaptcha}
	ErrAntiBotDetected = &Error{Kind: KindAntiBotDetected}
	ErrExtraction      = &Error{Kind: KindExtraction}
	ErrPersistence     = &Error{Kind: KindPersistence}
	ErrInterrupted     = &Error{Kind: KindInterrupted}
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按 Kind 匹配,使 errors.Is(err, crawlerr.ErrCaptcha) 成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf 返回错误链中第一个 *Error 的 Kind
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable 只有导航和网络错误在发生处重试
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNavigation, KindNetwork:
		return true
	default:
		return false
	}
}

// Fatal 需要回退到编排器并终止本次运行的错误
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindAuthentication, KindCaptcha, KindAntiBotDetected, KindPersistence, KindUnknown:
		return true
	default:
		return false
	}
}
