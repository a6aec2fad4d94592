package commands

import (
	"encoding/json"
	"fmt"

	"github.com/LouYuanbo1/stealthcrawler/internal/service/checkpoint"
	"github.com/spf13/cobra"
)

var stateCrawlerID string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "查看或清除检查点",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "打印检查点及其来源(primary/backup/fresh)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		cp, err := checkpoint.Open(a.cfg, stateCrawlerID, nil, a.log)
		if err != nil {
			return err
		}
		defer cp.Close()

		st, err := cp.GetState(cmd.Context())
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("序列化状态失败: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "source: %s\n%s\n", cp.Recovered(), data)
		return nil
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "删除检查点和全部备份",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		cp, err := checkpoint.Open(a.cfg, stateCrawlerID, nil, a.log)
		if err != nil {
			return err
		}
		defer cp.Close()

		if err := cp.ClearState(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已清除 %s\n", stateCrawlerID)
		return nil
	},
}

func init() {
	stateCmd.PersistentFlags().StringVar(&stateCrawlerID, "crawler-id", "", "检查点标识")
	_ = stateCmd.MarkPersistentFlagRequired("crawler-id")
	stateCmd.AddCommand(stateShowCmd, stateClearCmd)
	rootCmd.AddCommand(stateCmd)
}
