package solverapi

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/vision"
	"github.com/go-resty/resty/v2"
)

// Client 外部验证码识别服务: 文字识别, 目标检测, 令牌类挑战
type Client interface {
	Transcribe(ctx context.Context, image []byte) (string, error)
	DetectObjects(ctx context.Context, image []byte, targets []string) ([]vision.Detection, error)
	SolveToken(ctx context.Context, req TokenRequest) (string, error)
}

type TokenRequest struct {
	Kind    string `json:"kind"`
	SiteKey string `json:"site_key"`
	PageURL string `json:"page_url"`
}

type client struct {
	http         *resty.Client
	pollInterval time.Duration
	maxPolls     int
}

type transcribeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

type detectResponse struct {
	Detections []struct {
		Label      string    `json:"label"`
		Box        []float64 `json:"box"`
		Confidence float64   `json:"confidence"`
	} `json:"detections"`
	Error string `json:"error"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Token  string `json:"token"`
	Error  string `json:"error"`
}

func InitClient(cfg *config.Config) Client {
	sc := cfg.Captcha.Service
	http := resty.New().
		SetBaseURL(sc.BaseURL).
		SetTimeout(time.Duration(sc.TimeoutSeconds) * time.Second).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if sc.APIKey != "" {
		http.SetAuthToken(sc.APIKey)
	}
	return &client{
		http:         http,
		pollInterval: time.Duration(sc.PollIntervalMs) * time.Millisecond,
		maxPolls:     sc.MaxPolls,
	}
}

func (c *client) check(op string, resp *resty.Response, err error, apiErr string) error {
	if err != nil {
		return crawlerr.New(crawlerr.KindNetwork, op, err)
	}
	switch {
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return crawlerr.Newf(crawlerr.KindAuthentication, op, "识别服务拒绝访问: %s", resp.Status())
	case resp.IsError():
		return crawlerr.Newf(crawlerr.KindNetwork, op, "识别服务返回错误: %s", resp.Status())
	case apiErr != "":
		return crawlerr.Newf(crawlerr.KindCaptcha, op, "识别服务失败: %s", apiErr)
	}
	return nil
}

func (c *client) Transcribe(ctx context.Context, image []byte) (string, error) {
	var out transcribeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"image": base64.StdEncoding.EncodeToString(image)}).
		SetResult(&out).
		SetError(&out).
		Post("/transcribe")
	if err := c.check("transcribe captcha", resp, err, out.Error); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *client) DetectObjects(ctx context.Context, image []byte, targets []string) ([]vision.Detection, error) {
	var out detectResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"image":   base64.StdEncoding.EncodeToString(image),
			"targets": targets,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/detect")
	if err := c.check("detect objects", resp, err, out.Error); err != nil {
		return nil, err
	}
	dets := make([]vision.Detection, 0, len(out.Detections))
	for _, d := range out.Detections {
		box := vision.BoxFromSlice(d.Box)
		if box.Empty() {
			continue
		}
		dets = append(dets, vision.Detection{Label: d.Label, Box: box, Confidence: d.Confidence, Source: "service"})
	}
	return dets, nil
}

// SolveToken 提交任务后按固定间隔轮询,最多 maxPolls 次
func (c *client) SolveToken(ctx context.Context, req TokenRequest) (string, error) {
	var task taskResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&task).
		SetError(&task).
		Post("/token")
	if err := c.check("submit token task", resp, err, task.Error); err != nil {
		return "", err
	}
	if task.Token != "" {
		return task.Token, nil
	}

	for range c.maxPolls {
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}

		var res taskResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("id", task.TaskID).
			SetResult(&res).
			SetError(&res).
			Get("/token/{id}")
		if err := c.check("poll token task", resp, err, res.Error); err != nil {
			return "", err
		}
		if res.Status == "ready" && res.Token != "" {
			return res.Token, nil
		}
	}
	return "", crawlerr.Newf(crawlerr.KindCaptcha, "poll token task", "任务 %s 在 %d 次轮询后仍未完成", task.TaskID, c.maxPolls)
}
