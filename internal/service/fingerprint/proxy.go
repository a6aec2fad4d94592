package fingerprint

import "sync"

type ProxyPool interface {
	// Next 没有代理时返回空字符串
	Next() string
	Len() int
}

type proxyPool struct {
	mu      sync.Mutex
	proxies []string
	cursor  int
}

func InitProxyPool(proxies []string) ProxyPool {
	return &proxyPool{proxies: append([]string(nil), proxies...)}
}

func (pp *proxyPool) Next() string {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if len(pp.proxies) == 0 {
		return ""
	}
	proxy := pp.proxies[pp.cursor]
	pp.cursor = (pp.cursor + 1) % len(pp.proxies)
	return proxy
}

func (pp *proxyPool) Len() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.proxies)
}
