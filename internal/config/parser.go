package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/spf13/viper"
)

const EnvPrefix = "STEALTHCRAWL"

func ParseConfig(byteConfig []byte) (*Config, error) {
	var cfg Config
	err := json.Unmarshal(byteConfig, &cfg)
	if err != nil {
		return nil, crawlerr.New(crawlerr.KindConfiguration, "parse config", err)
	}
	cfg.SetDefaults()
	for _, dir := range []*string{&cfg.Chromedp.UserDataDir, &cfg.Rod.UserDataDir} {
		if *dir == "" {
			continue
		}
		absPath, err := filepath.Abs(*dir)
		if err != nil {
			return nil, crawlerr.New(crawlerr.KindConfiguration, "resolve user data dir", err)
		}
		*dir = absPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load 读取配置文件(json/yaml/toml),环境变量 STEALTHCRAWL_<SECTION>_<KEY> 可覆盖同名字段.
// 文件为空时使用 fallback(一般是内嵌的默认配置).
func Load(path string, fallback []byte) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigType("json")
		if err := v.ReadConfig(strings.NewReader(string(fallback))); err != nil {
			return nil, crawlerr.New(crawlerr.KindConfiguration, "read embedded config", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, crawlerr.New(crawlerr.KindConfiguration, "read config file", fmt.Errorf("%s: %w", path, err))
		}
	}

	// viper 的 key 与 json tag 一致(小写蛇形),转回 json 后复用 ParseConfig 的默认值与校验
	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, crawlerr.New(crawlerr.KindConfiguration, "encode settings", err)
	}
	return ParseConfig(raw)
}
