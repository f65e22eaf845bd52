package complete

import (
	"context"
	"sync"
)

// Token identifies one issued completion request. Tokens come from a
// single counter, so they increase within every site and are never reused,
// even after a site has been pruned.
type Token uint64

// Correlator tracks the current token of every completion site. A result
// is rendered only if its token is still the site's current one when it
// resolves.
type Correlator struct {
	mu sync.Mutex
	// cancelSuperseded cancels the context of a request as soon as a newer
	// one is issued for the same site.
	cancelSuperseded bool

	next  Token
	sites map[string]siteEntry
}

type siteEntry struct {
	token  Token
	cancel context.CancelFunc
}

// NewCorrelator creates an empty correlator.
func NewCorrelator(cancelSuperseded bool) *Correlator {
	return &Correlator{
		cancelSuperseded: cancelSuperseded,
		sites:            make(map[string]siteEntry),
	}
}

// SetCancelSuperseded changes whether issuing a token cancels the request
// it supersedes. Requests already in flight keep running either way.
func (c *Correlator) SetCancelSuperseded(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelSuperseded = on
}

// Issue makes a new token current for site and returns it together with a
// context for the request. The returned CancelFunc must be called once the
// request is finished.
func (c *Correlator) Issue(parent context.Context, site string) (Token, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.sites[site]; ok && c.cancelSuperseded {
		prev.cancel()
	}
	c.next++
	tok := c.next
	c.sites[site] = siteEntry{token: tok, cancel: cancel}
	return tok, ctx, cancel
}

// IsCurrent reports whether tok is the latest token issued for site.
func (c *Correlator) IsCurrent(site string, tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.sites[site]
	return ok && cur.token == tok
}

// Resolve reports whether tok is still current for site. A current token
// resolving leaves the site with nothing in flight, so the site is
// forgotten.
func (c *Correlator) Resolve(site string, tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.sites[site]
	if !ok || cur.token != tok {
		return false
	}
	delete(c.sites, site)
	return true
}

// Pending returns the number of sites with a request in flight.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sites)
}
