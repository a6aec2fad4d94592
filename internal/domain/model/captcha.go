package model

type CaptchaKind string

const (
	CaptchaText     CaptchaKind = "text"
	CaptchaSlider   CaptchaKind = "slider"
	CaptchaRotate   CaptchaKind = "rotate"
	CaptchaClick    CaptchaKind = "click"
	CaptchaExternal CaptchaKind = "external_challenge"
)

// CaptchaChallenge 页面上检测到的验证码,解决或放弃后丢弃
type CaptchaChallenge struct {
	Kind         CaptchaKind
	Instruction  string
	Assets       map[string][]byte
	AttemptCount int
}

// CaptchaOutcome 一次 solve 的结果
type CaptchaOutcome struct {
	Success  bool
	Evidence map[string]any
}

func (c *CaptchaChallenge) AddAsset(name string, data []byte) {
	if c.Assets == nil {
		c.Assets = make(map[string][]byte)
	}
	c.Assets[name] = data
}
