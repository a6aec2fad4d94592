package config

import (
	"net/http/cookiejar"
	"time"
)

// Range 随机等待区间,单位毫秒
type Range struct {
	MinMs int `json:"min_ms"`
	MaxMs int `json:"max_ms"`
}

func (r Range) Min() time.Duration { return time.Duration(r.MinMs) * time.Millisecond }
func (r Range) Max() time.Duration { return time.Duration(r.MaxMs) * time.Millisecond }

// 节奏类型
const (
	PacePageLoad     = "page_load"
	PaceBetweenItems = "between_items"
	PaceBeforeClick  = "before_click"
	PaceTyping       = "typing"
	PaceCooldown     = "cooldown"
)

type TextCaptcha struct {
	ContainerSelector string `json:"container_selector"`
	ImageSelector     string `json:"image_selector"`
	InputSelector     string `json:"input_selector"`
	SubmitSelector    string `json:"submit_selector"`
	ErrorSelector     string `json:"error_selector"`
	MinLength         int    `json:"min_length"`
}

type SliderCaptcha struct {
	ContainerSelector  string  `json:"container_selector"`
	BackgroundSelector string  `json:"background_selector"`
	PieceSelector      string  `json:"piece_selector"`
	HandleSelector     string  `json:"handle_selector"`
	SuccessSelector    string  `json:"success_selector"`
	MatchThreshold     float64 `json:"match_threshold"`
	EdgeThreshold      float64 `json:"edge_threshold"`
	MinOffset          int     `json:"min_offset"`
	OffsetCorrection   int     `json:"offset_correction"`
	StepsMin           int     `json:"steps_min"`
	StepsMax           int     `json:"steps_max"`
	StepDelayMinMs     int     `json:"step_delay_min_ms"`
	StepDelayMaxMs     int     `json:"step_delay_max_ms"`
}

type RotateCaptcha struct {
	ContainerSelector   string            `json:"container_selector"`
	ImageSelector       string            `json:"image_selector"`
	HandleSelector      string            `json:"handle_selector"`
	InstructionSelector string            `json:"instruction_selector"`
	SuccessSelector     string            `json:"success_selector"`
	ReferenceSelectors  map[string]string `json:"reference_selectors"`
	AngleSearchStep     float64           `json:"angle_search_step"`
	MinSteps            int               `json:"min_steps"`
	MaxSteps            int               `json:"max_steps"`
	AllowFallback       bool              `json:"allow_fallback"`
}

type ClickCaptcha struct {
	ContainerSelector   string   `json:"container_selector"`
	ImageSelector       string   `json:"image_selector"`
	InstructionSelector string   `json:"instruction_selector"`
	SubmitSelector      string   `json:"submit_selector"`
	SuccessSelector     string   `json:"success_selector"`
	Targets             []string `json:"targets"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	MaxClicks           int      `json:"max_clicks"`
	DwellMinMs          int      `json:"dwell_min_ms"`
	DwellMaxMs          int      `json:"dwell_max_ms"`
}

type ExternalChallenge struct {
	CheckboxSelectors  []string `json:"checkbox_selectors"`
	InvisibleSelectors []string `json:"invisible_selectors"`
	ScoreMarkers       []string `json:"score_markers"`
	TokenSelectors     []string `json:"token_selectors"`
	MaxPolls           int      `json:"max_polls"`
	PollIntervalMs     int      `json:"poll_interval_ms"`
	UseTokenService    bool     `json:"use_token_service"`
}

type Config struct {
	Log struct {
		Level       string   `json:"level"`
		Development bool     `json:"development"`
		OutputPaths []string `json:"output_paths"`
	} `json:"log"`

	Browser struct {
		// rod 或 chromedp
		Driver             string `json:"driver"`
		PageTimeoutSeconds int    `json:"page_timeout_seconds"`
		PoolSize           int    `json:"pool_size"`
	} `json:"browser"`

	Rod struct {
		UserMode                         bool   `json:"user_mode"`
		BasicRemoteDebuggingPort         int    `json:"basic_remote_debugging_port"`
		UserDataDir                      string `json:"user_data_dir"`
		Headless                         bool   `json:"headless"`
		DisableBlinkFeatures             string `json:"disable_blink_features"`
		Incognito                        bool   `json:"incognito"`
		DisableDevShmUsage               bool   `json:"disable_dev_shm_usage"`
		NoSandbox                        bool   `json:"no_sandbox"`
		Leakless                         bool   `json:"leakless"`
		Bin                              string `json:"bin"`
		Trace                            bool   `json:"trace"`
		DisableBackgroundNetworking      bool   `json:"disable_background_networking"`
		DisableBackgroundTimerThrottling bool   `json:"disable_background_timer_throttling"`
	} `json:"rod"`

	Chromedp struct {
		LifeTime             int    `json:"life_time"`
		UserDataDir          string `json:"user_data_dir"`
		Headless             bool   `json:"headless"`
		DisableBlinkFeatures string `json:"disable_blink_features"`
		Incognito            bool   `json:"incognito"`
		DisableDevShmUsage   bool   `json:"disable_dev_shm_usage"`
		NoSandbox            bool   `json:"no_sandbox"`
	} `json:"chromedp"`

	Colly struct {
		UserAgent        string             `json:"user_agent"`
		IgnoreRobotsTxt  bool               `json:"ignore_robots_txt"`
		Delay            int                `json:"delay"`
		RandomDelay      int                `json:"random_delay"`
		TimeoutSeconds   int                `json:"timeout_seconds"`
		CookieJarOptions *cookiejar.Options `json:"cookie_jar_options"`
	} `json:"colly"`

	Navigation struct {
		MaxAttempts       int     `json:"max_attempts"`
		InitialBackoffMs  int     `json:"initial_backoff_ms"`
		MaxBackoffMs      int     `json:"max_backoff_ms"`
		Multiplier        float64 `json:"multiplier"`
		RequestsPerMinute float64 `json:"requests_per_minute"`
		Burst             int     `json:"burst"`
	} `json:"navigation"`

	Pacing map[string]Range `json:"pacing"`

	Fingerprint struct {
		// round_robin 或 weighted
		Strategy    string   `json:"strategy"`
		PoolSize    int      `json:"pool_size"`
		ProfileFile string   `json:"profile_file"`
		Proxies     []string `json:"proxies"`
	} `json:"fingerprint"`

	Detection struct {
		BlockingPhrases       []string `json:"blocking_phrases"`
		CaptchaMarkers        []string `json:"captcha_markers"`
		SuspiciousTitles      []string `json:"suspicious_titles"`
		SuspiciousURLPatterns []string `json:"suspicious_url_patterns"`
		BlockingStatusCodes   []int    `json:"blocking_status_codes"`
		SuspiciousGlobals     []string `json:"suspicious_globals"`
		HoneypotBlocking      bool     `json:"honeypot_blocking"`
	} `json:"detection"`

	Remediation struct {
		MaxRetries int      `json:"max_retries"`
		Strategies []string `json:"strategies"`
		Cooldown   Range    `json:"cooldown"`
	} `json:"remediation"`

	Captcha struct {
		MaxAttempts int               `json:"max_attempts"`
		Order       []string          `json:"order"`
		Text        TextCaptcha       `json:"text"`
		Slider      SliderCaptcha     `json:"slider"`
		Rotate      RotateCaptcha     `json:"rotate"`
		Click       ClickCaptcha      `json:"click"`
		External    ExternalChallenge `json:"external"`
		ManualInput bool              `json:"manual_input"`
		Service     struct {
			BaseURL        string `json:"base_url"`
			APIKey         string `json:"api_key"`
			TimeoutSeconds int    `json:"timeout_seconds"`
			PollIntervalMs int    `json:"poll_interval_ms"`
			MaxPolls       int    `json:"max_polls"`
		} `json:"service"`
		Model struct {
			Enabled bool   `json:"enabled"`
			Host    string `json:"host"`
			Port    int    `json:"port"`
			Model   string `json:"model"`
		} `json:"model"`
	} `json:"captcha"`

	Checkpoint struct {
		Dir                  string `json:"dir"`
		BackupDir            string `json:"backup_dir"`
		FlushIntervalSeconds int    `json:"flush_interval_seconds"`
		BackupOnSave         bool   `json:"backup_on_save"`
		MaxBackups           int    `json:"max_backups"`
	} `json:"checkpoint"`

	Storage struct {
		// file, elasticsearch, redis, minio
		Backends []string `json:"backends"`
		FileDir  string   `json:"file_dir"`
	} `json:"storage"`

	Elasticsearch struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		Address     string `json:"address"`
		IndexPrefix string `json:"index_prefix"`
		Embed       bool   `json:"embed"`
	} `json:"elasticsearch"`

	Redis struct {
		Addr      string `json:"addr"`
		Password  string `json:"password"`
		DB        int    `json:"db"`
		KeyPrefix string `json:"key_prefix"`
	} `json:"redis"`

	MinIO struct {
		Endpoint  string `json:"endpoint"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
		Bucket    string `json:"bucket"`
		UseSSL    bool   `json:"use_ssl"`
	} `json:"minio"`

	Embedder struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Model     string `json:"model"`
		BatchSize int    `json:"batch_size"`
	} `json:"embedder"`

	Metrics struct {
		Listen string `json:"listen"`
	} `json:"metrics"`
}
