// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInfer/pkg/ux"
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/runstore"
)

const (
	histogramWidth = 40
	maxBars        = 25
)

func renderRun(p *ux.Printer, run *runstore.Run) {
	p.Title(fmt.Sprintf("%s: %d samples x %d chains", run.Model, run.Options.Samples, len(run.Chains)))
	if run.Marginal != nil {
		entries := run.Marginal.Entries()
		bars := make([]ux.Bar, 0, min(len(entries), maxBars))
		for i, e := range entries {
			if i == maxBars {
				break
			}
			note := ""
			if e.Count > 0 {
				note = "(" + strconv.Itoa(e.Count) + ")"
			}
			bars = append(bars, ux.Bar{Label: e.Key, Value: e.Prob, Note: note})
		}
		p.Histogram(bars, histogramWidth)
		if hidden := len(entries) - len(bars); hidden > 0 {
			p.Field("hidden", fmt.Sprintf("%d more values", hidden))
		}
		if mean, err := run.Marginal.Mean(); err == nil {
			p.Field("mean", fmt.Sprintf("%.4f", mean))
		}
	}

	p.Field("acceptance", fmt.Sprintf("%.4f", run.AcceptanceRatio))
	p.Box("MAP", fmt.Sprintf("%v (score %.4f)", run.MAP.Value, run.MAP.Score))
	p.Field("duration", run.Duration.Round(time.Millisecond))
	if run.ID != "" {
		p.Field("run id", run.ID)
	}

	if len(run.Chains) > 1 {
		rows := make([][]string, 0, len(run.Chains))
		for _, c := range run.Chains {
			rows = append(rows, []string{
				strconv.Itoa(c.Chain),
				strconv.FormatUint(c.Seed, 10),
				strconv.Itoa(c.Accepted),
				strconv.Itoa(c.Rejected),
				fmt.Sprintf("%.4f", c.AcceptanceRatio),
				strconv.Itoa(c.InitRestarts),
			})
		}
		p.Table([]string{"chain", "seed", "accepted", "rejected", "ratio", "restarts"}, rows)
	}

	if stats := mergeCacheStats(run.Chains); len(stats) > 0 {
		rows := make([][]string, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, []string{
				s.Site,
				strconv.Itoa(s.Hits),
				strconv.Itoa(s.Total),
				fmt.Sprintf("%.4f", s.HitRate),
				strconv.FormatBool(s.Cached),
			})
		}
		p.Table([]string{"call site", "hits", "lookups", "hit rate", "cached"}, rows)
	}
	if disabled := disabledSites(run.Chains); len(disabled) > 0 {
		p.Warning("caching turned off at " + strings.Join(disabled, ", "))
	}
}

// mergeCacheStats sums per-site cache statistics over chains. A site is
// reported cached only if every chain kept it cached.
func mergeCacheStats(chains []runstore.ChainSummary) []imh.SiteStats {
	bySite := make(map[string]*imh.SiteStats)
	for _, c := range chains {
		for _, s := range c.CacheStats {
			m, ok := bySite[s.Site]
			if !ok {
				m = &imh.SiteStats{Site: s.Site, Cached: true}
				bySite[s.Site] = m
			}
			m.Hits += s.Hits
			m.Total += s.Total
			m.Cached = m.Cached && s.Cached
		}
	}
	out := make([]imh.SiteStats, 0, len(bySite))
	for _, s := range bySite {
		if s.Total > 0 {
			s.HitRate = float64(s.Hits) / float64(s.Total)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

func disabledSites(chains []runstore.ChainSummary) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range chains {
		for _, s := range c.SitesDisabled {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
