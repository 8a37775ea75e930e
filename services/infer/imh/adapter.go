// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package imh

import (
	"sort"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// SiteStats reports cache efficiency for one call site.
type SiteStats struct {
	Site    string  `json:"site"`
	Hits    int     `json:"hits"`
	Total   int     `json:"total"`
	HitRate float64 `json:"hit_rate"`
	Cached  bool    `json:"cached"`
}

type siteStats struct {
	hits, total int
	cached      bool
}

// CacheAdapter decides, per call site, whether caching is worth it.
//
// A site is flagged once the run is past its warm-up (elapsed iterations
// above iterFuseLength), the site has seen at least fuseLength lookups and
// its hit rate is below minHitRate. Flagged sites are turned off by Adapt.
type CacheAdapter struct {
	minHitRate     float64
	fuseLength     int
	iterFuseLength int

	stats    map[string]*siteStats
	toRemove map[string]struct{}

	// elapsed returns the number of iterations completed so far.
	elapsed func() int
}

// NewCacheAdapter creates an adapter. elapsed reports completed iterations.
func NewCacheAdapter(minHitRate float64, fuseLength, iterFuseLength int, elapsed func() int) *CacheAdapter {
	if elapsed == nil {
		elapsed = func() int { return 0 }
	}
	return &CacheAdapter{
		minHitRate:     minHitRate,
		fuseLength:     fuseLength,
		iterFuseLength: iterFuseLength,
		stats:          make(map[string]*siteStats),
		toRemove:       make(map[string]struct{}),
		elapsed:        elapsed,
	}
}

func (c *CacheAdapter) site(a ppl.Address) *siteStats {
	id := a.Site()
	s, ok := c.stats[id]
	if !ok {
		s = &siteStats{cached: true}
		c.stats[id] = s
	}
	return s
}

// ShouldCache reports whether calls at address a are cached.
func (c *CacheAdapter) ShouldCache(a ppl.Address) bool {
	return c.site(a).cached
}

func (c *CacheAdapter) registerHit(n *CallNode) {
	s := c.site(n.address)
	s.hits++
	s.total++
	recordCacheLookup(n.d.ctx, true)
	c.check(n, s)
}

func (c *CacheAdapter) registerMiss(n *CallNode) {
	s := c.site(n.address)
	s.total++
	recordCacheLookup(n.d.ctx, false)
	c.check(n, s)
}

func (c *CacheAdapter) check(n *CallNode, s *siteStats) {
	if n.parent == nil {
		return
	}
	if c.elapsed() > c.iterFuseLength &&
		s.total >= c.fuseLength &&
		float64(s.hits)/float64(s.total) < c.minHitRate {
		c.toRemove[n.address.Site()] = struct{}{}
	}
}

// Pending reports whether any site is waiting to be turned off.
func (c *CacheAdapter) Pending() bool {
	return len(c.toRemove) > 0
}

// Adapt turns off every flagged site and removes their nodes from the tree
// rooted at root. It returns the flagged sites and the number of nodes
// removed.
func (c *CacheAdapter) Adapt(root *CallNode) (sites []string, removed int) {
	if len(c.toRemove) == 0 || root == nil {
		return nil, 0
	}
	for id := range c.toRemove {
		c.stats[id].cached = false
		sites = append(sites, id)
	}
	sort.Strings(sites)

	stack := []node{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		call, ok := cur.(*CallNode)
		if !ok {
			continue
		}
		for i := len(call.st.cur.children) - 1; i >= 0; i-- {
			stack = append(stack, call.st.cur.children[i])
		}
		if _, flagged := c.toRemove[call.address.Site()]; flagged && call.removeFromCache() {
			removed++
		}
	}
	c.toRemove = make(map[string]struct{})
	return sites, removed
}

// Report returns per-site statistics ordered by site.
func (c *CacheAdapter) Report() []SiteStats {
	out := make([]SiteStats, 0, len(c.stats))
	for id, s := range c.stats {
		rate := 0.0
		if s.total > 0 {
			rate = float64(s.hits) / float64(s.total)
		}
		out = append(out, SiteStats{Site: id, Hits: s.hits, Total: s.total, HitRate: rate, Cached: s.cached})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}
