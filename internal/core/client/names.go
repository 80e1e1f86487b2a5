package client

import (
	"net"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NameCache remembers reverse DNS lookups for peer addresses so that repeated
// connections from the same host don't each pay for a lookup. Failed lookups
// are cached too.
type NameCache struct {
	cacheInstance *gocache.Cache
	lookup        func(addr string) ([]string, error)
}

func NewNameCache(ttl time.Duration) *NameCache {
	return &NameCache{
		cacheInstance: gocache.New(ttl, 2*ttl),
		lookup:        net.LookupAddr,
	}
}

// Name returns the first host name registered for ip, or ip itself if it
// doesn't resolve.
func (n *NameCache) Name(ip string) string {
	if name, found := n.cacheInstance.Get(ip); found {
		return name.(string)
	}

	name := ip
	if names, err := n.lookup(ip); err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	}
	n.cacheInstance.SetDefault(ip, name)
	return name
}
