package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/checkpoint"
	"github.com/spf13/cobra"
)

var recordsFlags struct {
	crawlerID string
	filters   []string
	limit     int
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "查询已保存的记录",
}

var recordsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "按字段相等条件查询记录,每行输出一条 JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := parseFilter(recordsFlags.filters)
		if err != nil {
			return err
		}
		if recordsFlags.crawlerID != "" {
			filter["metadata.crawler_id"] = recordsFlags.crawlerID
		}

		ctx := cmd.Context()
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		id := recordsFlags.crawlerID
		if id == "" {
			id = "records-query"
		}
		cp, err := checkpoint.Open(a.cfg, id, store, a.log)
		if err != nil {
			return err
		}
		defer cp.Close()

		docs, err := cp.QueryRecords(ctx, filter)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for i, doc := range docs {
			if recordsFlags.limit > 0 && i >= recordsFlags.limit {
				break
			}
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("输出记录失败: %w", err)
			}
		}
		return nil
	},
}

// parseFilter 把 k=v 解析成过滤条件,值按 JSON 解析失败时作为字符串
func parseFilter(pairs []string) (persistence.Filter, error) {
	filter := persistence.Filter{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("过滤条件格式应为 key=value: %q", pair)
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		filter[k] = val
	}
	return filter, nil
}

func init() {
	f := recordsQueryCmd.Flags()
	f.StringVar(&recordsFlags.crawlerID, "crawler-id", "", "只查询该爬取的记录")
	f.StringArrayVar(&recordsFlags.filters, "filter", nil, "字段过滤 key=value,字段支持点号路径")
	f.IntVar(&recordsFlags.limit, "limit", 0, "最多输出条数,0 表示不限")
	recordsCmd.AddCommand(recordsQueryCmd)
	rootCmd.AddCommand(recordsCmd)
}
