package extract

// Item 列表页中的一条数据, Index 为文档顺序下标
type Item struct {
	Index     int
	Data      map[string]any
	DetailURL string
	// Err 非 nil 表示该条目提取失败,应跳过
	Err error
}

type Extractor interface {
	// List 按文档顺序提取列表项,单条失败记录在 Item.Err 中
	List(pageURL, html string) ([]Item, error)
	// Detail 提取详情页字段
	Detail(pageURL, html string) (map[string]any, error)
	// NextPage 是否存在下一页,模板使用链接翻页时同时返回其地址
	NextPage(pageURL, html string, itemCount int) (string, bool)
}
