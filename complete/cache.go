package complete

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/Paranoid-AF/quill/gateway"
)

type cacheKey struct {
	kind   gateway.Kind
	prompt string
}

// resultCache holds successful completion results for a short time, so that
// retyping the same prefix does not launch another process.
type resultCache struct {
	cache *ttlcache.Cache[cacheKey, gateway.Result]
}

func newResultCache(ttl time.Duration) *resultCache {
	c := ttlcache.New[cacheKey, gateway.Result](
		ttlcache.WithTTL[cacheKey, gateway.Result](ttl),
		ttlcache.WithDisableTouchOnHit[cacheKey, gateway.Result](),
		ttlcache.WithCapacity[cacheKey, gateway.Result](512),
	)
	go c.Start()
	return &resultCache{cache: c}
}

func (rc *resultCache) get(kind gateway.Kind, prompt string) (gateway.Result, bool) {
	item := rc.cache.Get(cacheKey{kind, prompt})
	if item == nil {
		return gateway.Result{}, false
	}
	return item.Value(), true
}

// put stores res if it is worth reusing. Failures and empty lists are not.
func (rc *resultCache) put(kind gateway.Kind, prompt string, res gateway.Result) {
	switch res.Kind {
	case gateway.OK:
	case gateway.Suggestions:
		if len(res.Items) == 0 {
			return
		}
	default:
		return
	}
	rc.cache.Set(cacheKey{kind, prompt}, res, ttlcache.DefaultTTL)
}

func (rc *resultCache) close() {
	rc.cache.Stop()
}
