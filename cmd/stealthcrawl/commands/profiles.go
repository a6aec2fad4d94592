package commands

import (
	"fmt"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/service/fingerprint"
	"github.com/spf13/cobra"
)

var profilesFlags struct {
	count int
	out   string
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "管理指纹文件",
}

var profilesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "随机生成指纹并写入文件",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		out := profilesFlags.out
		if out == "" {
			out = a.cfg.Fingerprint.ProfileFile
		}
		if out == "" {
			return fmt.Errorf("需要 --out 或 fingerprint.profile_file")
		}
		count := profilesFlags.count
		if count <= 0 {
			count = a.cfg.Fingerprint.PoolSize
		}
		pool, err := fingerprint.InitPool(a.cfg.Fingerprint.Strategy, fingerprint.GenerateProfiles(count, nil, time.Now()), nil)
		if err != nil {
			return err
		}
		if err := pool.Save(out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已生成 %d 个指纹: %s\n", count, out)
		return nil
	},
}

func init() {
	profilesInitCmd.Flags().IntVar(&profilesFlags.count, "count", 0, "指纹数量,默认 fingerprint.pool_size")
	profilesInitCmd.Flags().StringVar(&profilesFlags.out, "out", "", "输出文件,默认 fingerprint.profile_file")
	profilesCmd.AddCommand(profilesInitCmd)
	rootCmd.AddCommand(profilesCmd)
}
