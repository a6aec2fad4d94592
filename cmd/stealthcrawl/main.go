package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"

	"github.com/LouYuanbo1/stealthcrawler/cmd/stealthcrawl/commands"
)

// 默认配置,--config 未指定时使用
//
//go:embed appconfig/appconfig.json
var appConfig []byte

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := commands.ExecuteContext(ctx, appConfig)
	stop()
	os.Exit(code)
}
