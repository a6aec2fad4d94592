package model

type SignalKind string

const (
	SignalBlockingPhrase SignalKind = "blocking_phrase"
	SignalCaptchaWidget  SignalKind = "captcha_widget"
	SignalAutomation     SignalKind = "automation_marker"
	SignalHTTPStatus     SignalKind = "http_status"
	SignalTitle          SignalKind = "suspicious_title"
	SignalURL            SignalKind = "suspicious_url"
	SignalHoneypot       SignalKind = "honeypot"
	SignalGlobals        SignalKind = "suspicious_global"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityBlock
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	default:
		return "block"
	}
}

// DetectionEvent 传感器扫描产生的临时结果,不做持久化
type DetectionEvent struct {
	Kind     SignalKind
	Evidence string
	Severity Severity
}
