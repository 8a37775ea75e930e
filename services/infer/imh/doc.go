// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package imh implements incremental Metropolis-Hastings.
//
// A Driver runs a probabilistic program once and records its execution as a
// tree of cache nodes: one ChoiceNode per random choice, one FactorNode per
// soft condition and one CallNode per cached function call. Each MH proposal
// changes a single choice and resumes execution from that choice's
// continuation. Calls whose inputs did not change are skipped, and a call
// whose return value and output store did not change stops the re-execution
// early.
//
// # Speculation
//
// Every node keeps its mutable state in a snapshot. The first write to a
// node during a proposal saves a backup and records the node on the driver's
// touched list. Rejecting a proposal restores every touched node, accepting
// it discards the backups.
//
// # Adaptation
//
// A CacheAdapter tracks the hit rate of every call site and stops caching
// sites whose hit rate stays below a threshold. This only affects speed; the
// stationary distribution is unchanged.
//
// # Thread Safety
//
// A Driver and its cache tree belong to a single goroutine. Run independent
// chains with independent drivers.
package imh
