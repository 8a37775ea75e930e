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
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/exp/rand"

	"github.com/AleutianAI/AleutianInfer/services/infer/aggregation"
	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// DriverState is the phase of an MH run.
type DriverState int

const (
	StateIdle DriverState = iota
	StateRunning
	StateProposing
	StateReconcilingAccept
	StateReconcilingReject
	StateFinished
)

// String implements fmt.Stringer.
func (s DriverState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateProposing:
		return "proposing"
	case StateReconcilingAccept:
		return "reconciling_accept"
	case StateReconcilingReject:
		return "reconciling_reject"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// IterationInfo describes one completed MH iteration.
type IterationInfo struct {
	Iteration  int
	Accepted   bool
	Recorded   bool
	Score      float64
	AcceptProb float64
	NumChoices int
	Value      ppl.Value
}

// Result is the outcome of a run.
type Result struct {
	// Marginal is the histogram of recorded values, or a point mass on the
	// MAP value when JustSample or OnlyMAP is set.
	Marginal *aggregation.Marginal

	// Counts is the raw histogram, for merging independent chains.
	Counts *aggregation.Count

	MAP     aggregation.Sample
	Samples []aggregation.Sample

	Iterations      int
	Recorded        int
	Accepted        int
	Rejected        int
	AcceptanceRatio float64

	// InitRestarts counts rejection-sampling restarts before the first
	// trace with non-zero probability.
	InitRestarts int

	CacheStats    []SiteStats
	SitesDisabled []string
	Duration      time.Duration
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithIterationHook registers fn to be called after every iteration's
// accept/reject decision and sample recording.
func WithIterationHook(fn func(IterationInfo)) DriverOption {
	return func(d *Driver) { d.hook = fn }
}

// WithStore sets the store the program starts with.
func WithStore(s ppl.Store) DriverOption {
	return func(d *Driver) { d.store = s.Clone() }
}

// WithAddress sets the root address. Defaults to "root".
func WithAddress(a ppl.Address) DriverOption {
	return func(d *Driver) { d.address = a }
}

// WithArgs sets the arguments the program is called with.
func WithArgs(args ...ppl.Value) DriverOption {
	return func(d *Driver) { d.args = args }
}

// WithRand overrides the random source built from Options.Seed.
func WithRand(r *rand.Rand) DriverOption {
	return func(d *Driver) {
		if r != nil {
			d.rng = r
		}
	}
}

// Driver runs incremental MH over one program. It is the Handler installed
// on the Env while Run executes.
//
// Thread Safety: not safe for concurrent use.
type Driver struct {
	opts    Options
	env     *ppl.Env
	program *ppl.Fn
	store   ppl.Store
	address ppl.Address
	args    []ppl.Value
	rng     *rand.Rand
	logger  *slog.Logger
	hook    func(IterationInfo)
	ctx     context.Context

	cmp      *ppl.FnComparator
	registry ChoiceRegistry
	adapter  *CacheAdapter

	cacheRoot *CallNode
	nodeStack []*CallNode
	touched   []node
	exitStep  ppl.Step
	exitCont  ppl.Cont

	score       float64
	oldScore    float64
	hasOldScore bool
	fwdPropLP   float64
	rvsPropLP   float64

	iterations      int
	totalIterations int
	accepted        int
	rejected        int
	recorded        int
	initRestarts    int
	state           DriverState
	ran             bool

	counts   *aggregation.Count
	best     *aggregation.Max
	disabled []string
	result   *Result
}

var _ ppl.Handler = (*Driver)(nil)

// NewDriver prepares an MH run of program on env.
//
// Inputs:
//   - env: the environment the program runs on. The driver pushes itself
//     on env for the duration of Run.
//   - program: the program entry point.
//   - opts: run options. DoFullRerun implies DontAdapt.
//
// Outputs:
//   - *Driver: ready to Run.
//   - error: ErrNilEnv, ErrNilProgram or ErrInvalidOptions.
func NewDriver(env *ppl.Env, program *ppl.Fn, opts Options, options ...DriverOption) (*Driver, error) {
	if env == nil {
		return nil, ErrNilEnv
	}
	if program == nil {
		return nil, ErrNilProgram
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.DoFullRerun {
		opts.DontAdapt = true
	}
	registry, err := NewRegistry(opts.Registry)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		opts:            opts,
		env:             env,
		program:         program,
		store:           ppl.Store{},
		address:         "root",
		rng:             rand.New(rand.NewSource(opts.Seed)),
		logger:          slog.Default(),
		ctx:             context.Background(),
		cmp:             ppl.NewFnComparator(),
		registry:        registry,
		iterations:      opts.Iterations(),
		totalIterations: opts.Iterations(),
		counts:          aggregation.NewCount(),
		best:            aggregation.NewMax(opts.JustSample),
	}
	d.adapter = NewCacheAdapter(opts.CacheMinHitRate, opts.CacheFuseLength, opts.CacheIterFuseLength,
		func() int { return d.totalIterations - d.iterations })
	d.exitStep = d.exit
	d.exitCont = func(ppl.Store, ppl.Value) ppl.Step { return d.exitStep }
	for _, o := range options {
		o(d)
	}
	return d, nil
}

// Run executes the MH chain to completion.
//
// Outputs:
//   - *Result: the marginal, MAP, acceptance statistics and cache report.
//   - error: the context error if ctx ends first, ErrInvariant if the cache
//     tree became inconsistent, ErrAlreadyRun on a second call.
func (d *Driver) Run(ctx context.Context) (res *Result, err error) {
	if d.ran {
		return nil, ErrAlreadyRun
	}
	d.ran = true

	ctx, span := startRunSpan(ctx, d.opts)
	defer span.End()
	d.ctx = ctx
	start := time.Now()

	d.env.Push(d)
	defer d.env.Pop()
	defer d.env.SetContext(d.env.SetContext(ctx))

	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InvariantError)
			if !ok {
				panic(r)
			}
			res, err = nil, fmt.Errorf("imh run: %w", ie)
			span.RecordError(err)
			span.SetStatus(codes.Error, "invariant violated")
			d.logger.ErrorContext(ctx, "incremental MH aborted", "error", err, "state", d.state.String())
		}
	}()

	d.logger.InfoContext(ctx, "incremental MH starting",
		"iterations", d.totalIterations,
		"samples", d.opts.Samples,
		"burn", d.opts.Burn,
		"lag", d.opts.Lag,
		"full_rerun", d.opts.DoFullRerun,
		"registry", d.opts.Registry,
	)
	d.state = StateRunning
	if err := ppl.Trampoline(ctx, d.restart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run interrupted")
		return nil, fmt.Errorf("imh run: %w", err)
	}
	if d.result == nil {
		panic(invariantf("run", "", "program finished without reaching the final iteration"))
	}

	d.result.Duration = time.Since(start)
	recordRunDuration(ctx, d.result.Duration, d.opts.DoFullRerun)
	span.SetAttributes(
		attribute.Int("imh.accepted", d.result.Accepted),
		attribute.Float64("imh.acceptance_ratio", d.result.AcceptanceRatio),
	)
	d.logger.InfoContext(ctx, "incremental MH finished",
		"accepted", d.result.Accepted,
		"rejected", d.result.Rejected,
		"acceptance_ratio", d.result.AcceptanceRatio,
		"sites_disabled", len(d.result.SitesDisabled),
		"duration", d.result.Duration,
	)
	return d.result, nil
}

// State returns the current phase.
func (d *Driver) State() DriverState { return d.state }

// Score returns the log-probability of the current trace.
func (d *Driver) Score() float64 { return d.score }

// NumChoices returns the number of live random choices.
func (d *Driver) NumChoices() int { return d.registry.Size() }

// Adapter returns the cache adapter.
func (d *Driver) Adapter() *CacheAdapter { return d.adapter }

// Sample implements ppl.Handler.
func (d *Driver) Sample(_ *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, dist ppl.Distribution) ppl.Step {
	if n := d.lookup(a, KindChoice); n != nil {
		c := n.(*ChoiceNode)
		c.registerInputChanges(s, k, dist)
		return c.execute()
	}
	parent := d.enclosing("sample", a)
	c := newChoiceNode(d, parent, s, k, a, dist)
	d.logDebug(3, c, "new choice")
	parent.insertChild(c)
	return c.execute()
}

// Factor implements ppl.Handler.
func (d *Driver) Factor(_ *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, score float64) ppl.Step {
	if n := d.lookup(a, KindFactor); n != nil {
		f := n.(*FactorNode)
		f.registerInputChanges(s, k, score)
		return f.execute()
	}
	parent := d.enclosing("factor", a)
	f := newFactorNode(d, parent, s, k, a, score)
	d.logDebug(3, f, "new factor")
	parent.insertChild(f)
	return f.execute()
}

// Call implements ppl.Handler. Sites the adapter turned off run their body
// directly; their choices attach to the nearest cached caller.
func (d *Driver) Call(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, fn *ppl.Fn, args []ppl.Value) ppl.Step {
	if !d.adapter.ShouldCache(a) {
		return fn.Body(env, s, k, a, args...)
	}
	return d.callCached(s, k, a, fn, args)
}

func (d *Driver) callCached(s ppl.Store, k ppl.Cont, a ppl.Address, fn *ppl.Fn, args []ppl.Value) ppl.Step {
	if n := d.lookup(a, KindCall); n != nil {
		c := n.(*CallNode)
		c.registerInputChanges(s, k, fn, args)
		return c.execute()
	}
	if d.cacheRoot == nil {
		d.cacheRoot = newCallNode(d, nil, s, k, a, fn, args)
		return d.cacheRoot.execute()
	}
	parent := d.enclosing("call", a)
	c := newCallNode(d, parent, s, k, a, fn, args)
	d.logDebug(3, c, "new call")
	parent.insertChild(c)
	return c.execute()
}

// lookup finds the cached node for address a, or nil if a new node must be
// created.
func (d *Driver) lookup(a ppl.Address, kind NodeKind) node {
	var found node
	switch {
	case d.cacheRoot == nil:
		return nil
	case len(d.nodeStack) == 0:
		if a != d.cacheRoot.address {
			panic(invariantf("lookup", string(a), "wrong address for cache root lookup, root is %s", d.cacheRoot.address))
		}
		found = d.cacheRoot
	default:
		// The first execution creates every node; there is nothing to find.
		if !d.initialized() {
			return nil
		}
		found = d.nodeStack[len(d.nodeStack)-1].findChild(a)
		if found == nil {
			return nil
		}
	}
	if found.kind() != kind {
		panic(invariantf("lookup", string(a), "cached node is a %s, expected a %s", found.kind(), kind))
	}
	return found
}

// enclosing returns the call node new nodes attach to.
func (d *Driver) enclosing(op string, a ppl.Address) *CallNode {
	if len(d.nodeStack) == 0 {
		panic(invariantf(op, string(a), "no enclosing cached call"))
	}
	return d.nodeStack[len(d.nodeStack)-1]
}

func (d *Driver) popStack() *CallNode {
	n := len(d.nodeStack)
	if n == 0 {
		return nil
	}
	top := d.nodeStack[n-1]
	d.nodeStack[n-1] = nil
	d.nodeStack = d.nodeStack[:n-1]
	return top
}

// restoreStackUpTo rebuilds the node stack as the path from the root to n.
func (d *Driver) restoreStackUpTo(n *CallNode) {
	d.nodeStack = d.nodeStack[:0]
	for p := n; p != nil; p = p.parent {
		d.nodeStack = append(d.nodeStack, p)
	}
	for i, j := 0, len(d.nodeStack)-1; i < j; i, j = i+1, j-1 {
		d.nodeStack[i], d.nodeStack[j] = d.nodeStack[j], d.nodeStack[i]
	}
}

func (d *Driver) initialized() bool {
	return d.iterations < d.totalIterations
}

func (d *Driver) adjustScore(old, updated float64) {
	if old == updated {
		return
	}
	d.score += updated - old
}

func (d *Driver) addChoice(c *ChoiceNode) {
	d.registry.Add(c)
	d.fwdPropLP += c.st.cur.score
}

func (d *Driver) removeChoice(c *ChoiceNode) {
	d.logDebug(3, c, "kill choice")
	d.registry.Remove(c)
	d.rvsPropLP += c.st.cur.score
	d.score -= c.st.cur.score
}

// restart discards the cache and runs the program from scratch.
func (d *Driver) restart() ppl.Step {
	reg, err := NewRegistry(d.opts.Registry)
	if err != nil {
		panic(invariantf("restart", "", "%v", err))
	}
	d.cacheRoot = nil
	d.registry = reg
	d.touched = d.touched[:0]
	d.score, d.fwdPropLP, d.rvsPropLP = 0, 0, 0
	d.logDebug(1, nil, "run from start")
	return d.runFromStart()
}

// runFromStart re-enters the program at the cache root.
func (d *Driver) runFromStart() ppl.Step {
	d.nodeStack = d.nodeStack[:0]
	return d.callCached(d.store, d.exitCont, d.address, d.program, d.args)
}

func (d *Driver) logDebug(level int, n node, format string, args ...any) {
	if d.opts.DebugLevel < level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if n == nil {
		d.logger.Debug(msg)
		return
	}
	d.logger.Debug(msg, "kind", n.kind().String(), "address", string(n.base().address), "depth", n.base().depth)
}

// AcceptanceProbability is the MH acceptance probability of a
// trans-dimensional single-site proposal.
//
// The proposal picks one of oldN choices uniformly and the reverse move
// picks one of curN. fwdPropLP and rvsPropLP are the log-probabilities of
// the forward and reverse moves, including freshly sampled and discarded
// choices. Without a previous trace the result is 1; a current score of
// -Inf gives 0. A NaN result signals corrupted scores.
func AcceptanceProbability(curScore, oldScore float64, hasOld bool, curN, oldN int, rvsPropLP, fwdPropLP float64) float64 {
	if !hasOld {
		return 1
	}
	if math.IsInf(curScore, -1) {
		return 0
	}
	fw, bw := fwdPropLP, rvsPropLP
	// A program without choices re-runs deterministically; there is no
	// selection term on either side.
	if curN > 0 || oldN > 0 {
		fw -= math.Log(float64(oldN))
		bw -= math.Log(float64(curN))
	}
	p := math.Exp(curScore - oldScore + bw - fw)
	if math.IsNaN(p) {
		return p
	}
	return math.Min(1, p)
}

// exit is reached at the end of every execution: the program returned, or a
// proposal stopped early because the outcome was already known.
func (d *Driver) exit() ppl.Step {
	if d.iterations <= 0 {
		return d.finish()
	}
	// Rejection initialization: keep restarting until a trace has
	// non-zero probability.
	if !d.initialized() && math.IsInf(d.score, -1) {
		d.initRestarts++
		d.logDebug(1, nil, "initial trace has zero probability; restarting")
		return d.restart()
	}

	iternum := d.totalIterations - d.iterations
	d.logProgress(iternum)
	d.iterations--
	d.registry.PostProposal()

	p := AcceptanceProbability(d.score, d.oldScore, d.hasOldScore,
		d.registry.Size(), d.registry.OldSize(), d.rvsPropLP, d.fwdPropLP)
	if math.IsNaN(p) {
		panic(invariantf("accept", "", "acceptance probability is NaN (score %v, old score %v, fwd %v, rvs %v)",
			d.score, d.oldScore, d.fwdPropLP, d.rvsPropLP))
	}
	accepted := d.rng.Float64() < p
	if accepted {
		d.state = StateReconcilingAccept
		for i := len(d.touched) - 1; i >= 0; i-- {
			d.touched[i].discardSnapshot()
		}
		d.accepted++
	} else {
		d.state = StateReconcilingReject
		d.score = d.oldScore
		for i := len(d.touched) - 1; i >= 0; i-- {
			d.touched[i].restoreSnapshot()
		}
		d.registry.RestoreOnReject()
		d.rejected++
	}
	d.logDebug(1, nil, "iteration %d: acceptance probability %v, accepted %v, choices %d, touched %d",
		iternum, p, accepted, d.registry.Size(), len(d.touched))
	clear(d.touched)
	d.touched = d.touched[:0]
	recordProposal(d.ctx, accepted)

	val := d.cacheRoot.st.cur.retval
	recorded := iternum%(d.opts.Lag+1) == 0 && iternum >= d.opts.Burn
	if recorded {
		d.counts.Add(val, d.score)
		d.best.Add(val, d.score)
		d.recorded++
	}
	if d.hook != nil {
		d.hook(IterationInfo{
			Iteration:  iternum,
			Accepted:   accepted,
			Recorded:   recorded,
			Score:      d.score,
			AcceptProb: p,
			NumChoices: d.registry.Size(),
			Value:      val,
		})
	}

	if d.opts.DebugLevel >= 2 {
		if ie := d.checkInvariants(); ie != nil {
			panic(ie)
		}
	}
	if d.opts.DebugLevel >= MaxDebugLevel {
		d.logger.Debug("cache status", "tree", d.DumpString())
	}

	if d.opts.adapting() && d.adapter.Pending() {
		_, span := startAdaptSpan(d.ctx, iternum)
		sites, removed := d.adapter.Adapt(d.cacheRoot)
		span.SetAttributes(attribute.StringSlice("imh.sites", sites), attribute.Int("imh.nodes_removed", removed))
		span.End()
		d.disabled = append(d.disabled, sites...)
		recordSitesDisabled(d.ctx, len(sites))
		d.logger.InfoContext(d.ctx, "cache adapter disabled call sites", "sites", sites, "nodes_removed", removed, "iteration", iternum)
		if d.opts.DebugLevel >= MaxDebugLevel {
			d.logger.Debug("post-adaptation cache status", "tree", d.DumpString())
		}
	}

	if d.iterations == 0 {
		return d.finish()
	}

	// Prepare the next proposal.
	d.state = StateProposing
	d.oldScore = d.score
	d.hasOldScore = true
	d.registry.PreProposal()
	d.fwdPropLP, d.rvsPropLP = 0, 0
	if c := d.registry.Random(d.rng); c != nil {
		d.logDebug(1, c, "proposal to %s", c.st.cur.dist.Kind())
		return c.propose()
	}
	return d.runFromStart()
}

func (d *Driver) logProgress(iternum int) {
	if !d.opts.Verbose || d.iterations%d.opts.VerboseLag != 0 {
		return
	}
	if iternum > d.opts.Burn {
		d.logger.InfoContext(d.ctx, "incremental MH iteration",
			"iteration", iternum-d.opts.Burn,
			"of", d.totalIterations-d.opts.Burn)
		return
	}
	d.logger.InfoContext(d.ctx, "incremental MH burn-in", "iteration", iternum, "of", d.opts.Burn)
}

// finish builds the result.
func (d *Driver) finish() ppl.Step {
	d.state = StateFinished

	var marginal *aggregation.Marginal
	var err error
	if d.opts.JustSample || d.opts.OnlyMAP {
		marginal, err = d.best.Marginal()
	} else {
		marginal, err = d.counts.Marginal()
	}
	if err != nil {
		panic(invariantf("finish", "", "building marginal: %v", err))
	}
	best, _ := d.best.MAP()

	res := &Result{
		Marginal:      marginal,
		Counts:        d.counts,
		MAP:           best,
		Samples:       d.best.Samples(),
		Iterations:    d.totalIterations,
		Recorded:      d.recorded,
		Accepted:      d.accepted,
		Rejected:      d.rejected,
		InitRestarts:  d.initRestarts,
		CacheStats:    d.adapter.Report(),
		SitesDisabled: d.disabled,
	}
	if d.totalIterations > 0 {
		res.AcceptanceRatio = float64(d.accepted) / float64(d.totalIterations)
	}
	if d.opts.DebugLevel >= 5 {
		d.logger.Debug("acceptance ratio", "ratio", res.AcceptanceRatio)
		for _, s := range res.CacheStats {
			d.logger.Debug("cache site", "site", s.Site, "hits", s.Hits, "total", s.Total, "cached", s.Cached)
		}
	}
	d.result = res
	return nil
}
