package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	defaultConfig []byte
	// exitCode 由 run 子命令根据运行状态设置
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:           "stealthcrawl",
	Short:         "stealthcrawl 按站点模板分页爬取,自动处理反爬检测和验证码,支持断点续爬",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径(json/yaml/toml),为空时使用内置配置")
}

// ExecuteContext 返回进程退出码: 完成 0, 失败 1, 中断 3
func ExecuteContext(ctx context.Context, embedded []byte) int {
	defaultConfig = embedded
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			return 1
		}
	}
	return exitCode
}
