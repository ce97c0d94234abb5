// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package streamdag is the orchestrator/library surface (C9): the
// stable entry point wiring the node pool/builder, broker, executor,
// stream synchronizer and session manager into the operations
// initialize/create_dag/add_node/connect/finalize/start/publish/
// subscribe/stop/destroy/shutdown, plus the session-manager and
// unit-factory surface supplemented from original_source/.
//
// Runtime owns no package-level singleton (spec.md §9): every method is
// on a *Runtime value a caller constructs with New.
package streamdag

import (
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/rs/zerolog"

	"code.hybscloud.com/streamdag/broker"
	"code.hybscloud.com/streamdag/config"
	"code.hybscloud.com/streamdag/dag"
	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/executor"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/message"
	"code.hybscloud.com/streamdag/numa"
	"code.hybscloud.com/streamdag/session"
	"code.hybscloud.com/streamdag/streamsync"
	"code.hybscloud.com/streamdag/unit"
)

// StopMode selects how stop() winds a running DAG down.
type StopMode uint8

const (
	// Drain lets every already-queued message finish flowing before
	// workers exit.
	Drain StopMode = iota
	// Cancel stops dispatch immediately; in-flight nodes finish their
	// current Process call but nothing new is dispatched.
	Cancel
)

// running is the bookkeeping Start/Stop/Destroy need for one DAG
// instance: its executor (one per instance, not shared across the
// Runtime, so no instance's ready queue or worker deques ever observe
// another instance's nodes) and the routes wired into it.
type running struct {
	inst *dag.Instance
	exec *executor.Executor
}

// Runtime is the orchestrator: the single object a caller constructs to
// get a working streamdag instance (initialize()).
type Runtime struct {
	cfg    config.Config
	log    zerolog.Logger
	binder numa.Binder

	builder  *dag.Builder
	br       *broker.Broker
	sessions *session.Manager
	sync     *streamsync.Synchronizer
	mux      *streamsync.Multiplexer

	mu   sync.Mutex
	dags map[ids.DagId]*running

	extMu    sync.Mutex
	extSubs  map[ids.NodeId]ids.SubscriptionId
	extTopic map[string]ids.NodeId

	factoriesMu sync.Mutex
	factories   map[unit.Kind]func() unit.ProcessingUnit

	seq atomix.Uint64
}

// New initializes a Runtime per cfg (initialize()). binder and filler
// may both be nil: binder defaults to numa.NoopBinder{}, and a nil
// filler makes any Linear/Cubic FillStrategy behave like OldTick rather
// than panicking (streamsync.New's own documented fallback).
func New(cfg config.Config, log zerolog.Logger, binder numa.Binder, filler unit.Filler) *Runtime {
	if binder == nil {
		binder = numa.NoopBinder{}
	}
	builder := dag.NewBuilder(cfg.NodePoolCapacity, cfg.NodePoolCapacity, cfg.MaxFanIn, cfg.MaxFanOut)
	br := broker.New(cfg.QueueCapacity)
	sync := streamsync.New(cfg, filler)

	r := &Runtime{
		cfg:       cfg,
		log:       log,
		binder:    binder,
		builder:   builder,
		br:        br,
		sessions:  session.NewManager(builder, cfg.MaxSessions),
		sync:      sync,
		mux:       streamsync.NewMultiplexer(sync),
		dags:      make(map[ids.DagId]*running),
		extSubs:   make(map[ids.NodeId]ids.SubscriptionId),
		extTopic:  make(map[string]ids.NodeId),
		factories: make(map[unit.Kind]func() unit.ProcessingUnit),
	}
	r.log.Debug().
		Int("node_pool_capacity", cfg.NodePoolCapacity).
		Int("max_sessions", cfg.MaxSessions).
		Str("execution_mode", cfg.ExecutionMode.String()).
		Msg("streamdag: runtime initialized")
	return r
}

// Sync returns the Runtime's stream synchronizer (C6), so a caller can
// register streams and feed it ticks directly (the synchronizer is not
// wired automatically into the node graph: a unit that wants aligned
// ticks calls OnTick itself from its Process method).
func (r *Runtime) Sync() *streamsync.Synchronizer { return r.sync }

// Mux returns the Runtime's stream multiplexer (C10), routing raw
// stream identities to synchronizer slots.
func (r *Runtime) Mux() *streamsync.Multiplexer { return r.mux }

// RegisterUnitKind registers a factory for kind, so AddNodeFromKind can
// construct a ProcessingUnit without the caller holding a live instance
// (supplemented from original_source/Core_ProcessingUnitFactory.h).
func (r *Runtime) RegisterUnitKind(kind unit.Kind, factory func() unit.ProcessingUnit) {
	r.factoriesMu.Lock()
	defer r.factoriesMu.Unlock()
	r.factories[kind] = factory
}

// CreateSession allocates a new session (supplemented C0).
func (r *Runtime) CreateSession() (ids.SessionId, error) {
	s, err := r.sessions.CreateSession()
	if err != nil {
		r.log.Warn().Err(err).Msg("streamdag: create_session failed")
		return 0, err
	}
	r.log.Debug().Stringer("session", idStringer(s)).Msg("streamdag: session created")
	return s, nil
}

// DestroySession destroys every DAG session owns and releases its slot.
func (r *Runtime) DestroySession(s ids.SessionId) error {
	dags, _ := r.sessions.Dags(s)
	if err := r.sessions.DestroySession(s); err != nil {
		r.log.Warn().Err(err).Msg("streamdag: destroy_session failed")
		return err
	}
	r.mu.Lock()
	for _, d := range dags {
		delete(r.dags, d)
	}
	r.mu.Unlock()
	r.log.Debug().Stringer("session", idStringer(s)).Msg("streamdag: session destroyed")
	return nil
}

// CreateDag reserves a DAG instance slot owned by session (create_dag(),
// supplemented with session ownership per C0).
func (r *Runtime) CreateDag(s ids.SessionId) (ids.DagId, error) {
	d, inst, err := r.builder.CreateDag()
	if err != nil {
		r.log.Warn().Err(err).Msg("streamdag: create_dag failed")
		return 0, err
	}
	if err := r.sessions.AttachDag(s, d); err != nil {
		_ = r.builder.Destroy(d)
		r.log.Warn().Err(err).Msg("streamdag: create_dag rejected, unknown session")
		return 0, err
	}
	r.mu.Lock()
	r.dags[d] = &running{inst: inst}
	r.mu.Unlock()
	r.log.Debug().Stringer("dag", idStringer(d)).Msg("streamdag: dag created")
	return d, nil
}

func (r *Runtime) checkOwnership(s ids.SessionId, d ids.DagId) error {
	if !r.sessions.Owns(s, d) {
		return errs.ErrUnknownDag
	}
	return nil
}

// AddNode allocates a node of kind into dag, wired to u.
func (r *Runtime) AddNode(s ids.SessionId, d ids.DagId, kind unit.Kind, u unit.ProcessingUnit) (ids.NodeId, error) {
	if err := r.checkOwnership(s, d); err != nil {
		return 0, err
	}
	n, err := r.builder.AddNode(d, kind, u)
	if err != nil {
		r.log.Warn().Err(err).Stringer("dag", idStringer(d)).Msg("streamdag: add_node failed")
		return 0, err
	}
	r.log.Debug().Stringer("dag", idStringer(d)).Stringer("node", idStringer(n)).Str("kind", kind.String()).Msg("streamdag: node added")
	return n, nil
}

// AddNodeFromKind is AddNode using a unit constructed from the factory
// previously registered for kind via RegisterUnitKind.
func (r *Runtime) AddNodeFromKind(s ids.SessionId, d ids.DagId, kind unit.Kind) (ids.NodeId, error) {
	r.factoriesMu.Lock()
	factory, ok := r.factories[kind]
	r.factoriesMu.Unlock()
	if !ok {
		return 0, errs.ErrSchemaMismatch
	}
	return r.AddNode(s, d, kind, factory())
}

// Connect wires a directed edge src -> dst within dag.
//
// spec.md's connect() carries an explicit src_port/dst_port pair; this
// runtime's dag.Builder.Connect assigns ports implicitly as the
// ascending-NodeId position within each node's Outputs/Inputs array (the
// same deterministic order Finalize's cycle detection relies on), so
// ports are not caller-chosen. A node with fan-out > 1 selects among its
// downstream edges by message.Dest == message.BroadcastNode (replicate
// to every edge) or an explicit DestPort matching that position.
func (r *Runtime) Connect(s ids.SessionId, d ids.DagId, src, dst ids.NodeId) error {
	if err := r.checkOwnership(s, d); err != nil {
		return err
	}
	if err := r.builder.Connect(d, src, dst); err != nil {
		r.log.Warn().Err(err).Stringer("dag", idStringer(d)).Msg("streamdag: connect failed")
		return err
	}
	r.log.Debug().Stringer("dag", idStringer(d)).Stringer("src", idStringer(src)).Stringer("dst", idStringer(dst)).Msg("streamdag: connected")
	return nil
}

// Finalize validates dag is acyclic and transitions it to Finalized.
func (r *Runtime) Finalize(s ids.SessionId, d ids.DagId) error {
	if err := r.checkOwnership(s, d); err != nil {
		return err
	}
	if err := r.builder.Finalize(d); err != nil {
		r.log.Warn().Err(err).Stringer("dag", idStringer(d)).Msg("streamdag: finalize failed")
		return err
	}
	r.log.Debug().Stringer("dag", idStringer(d)).Msg("streamdag: dag finalized")
	return nil
}

// nodeTopic is the internal broker topic a non-source node's input
// queue is addressed by. Source nodes (fan-in zero) have no internal
// producer to wire automatically: the caller must itself call Subscribe
// on whatever topic it intends to Publish external ticks to, and that
// SubscriptionId becomes the node's route input (see wireRoutes).
func nodeTopic(d ids.DagId, n ids.NodeId) string {
	return fmt.Sprintf("streamdag/dag:%d/node:%d", uint64(d), uint64(n))
}

// wireRoutes assembles every node's executor.Route for a just-finalized
// instance: an auto-generated subscription for every node with at least
// one input edge, and the caller-registered external subscription (if
// any) for source nodes. OnAttach is also called here, immediately
// before the first dispatch, per unit.ProcessingUnit's contract.
func (r *Runtime) wireRoutes(d ids.DagId, inst *dag.Instance, exec *executor.Executor) error {
	nodes := inst.Nodes()
	for _, id := range nodes {
		node, err := r.builder.Pool().Get(id)
		if err != nil {
			return err
		}

		var route executor.Route
		if node.FanIn() > 0 {
			route.Input = r.br.Subscribe(nodeTopic(d, id), id, r.cfg.BlockOnFull)
		} else {
			r.extMu.Lock()
			route.Input = r.extSubs[id]
			r.extMu.Unlock()
		}
		for i := 0; i < node.FanOut(); i++ {
			route.OutputTopic[i] = nodeTopic(d, node.Outputs[i])
		}
		exec.SetRoute(id, route)

		hint := unit.NumaHint{Node: numa.WorkerNode(int(id.Index()), r.cfg.NumaNodes)}
		node.Unit.OnAttach(id, d, hint)
	}
	return nil
}

// Start finalizes wiring and launches dag's worker pool (start(DagId)).
// dag must already be Finalized.
func (r *Runtime) Start(s ids.SessionId, d ids.DagId) error {
	if err := r.checkOwnership(s, d); err != nil {
		return err
	}
	r.mu.Lock()
	run, ok := r.dags[d]
	r.mu.Unlock()
	if !ok {
		return errs.ErrUnknownDag
	}

	exec := executor.New(r.builder.Pool(), r.br, r.binder, r.cfg.ExecutionMode, r.cfg.WorkerCount, r.cfg.RateMinGap)
	if err := r.wireRoutes(d, run.inst, exec); err != nil {
		r.log.Error().Err(err).Stringer("dag", idStringer(d)).Msg("streamdag: start failed wiring routes")
		return err
	}

	r.mu.Lock()
	run.exec = exec
	r.mu.Unlock()

	exec.Start(run.inst)
	run.inst.MarkRunning()
	r.log.Debug().Stringer("dag", idStringer(d)).Msg("streamdag: dag started")
	return nil
}

// Publish fans msg out to every subscriber of topic (publish(topic,
// Message)). A zero msg.Seq is stamped with the Runtime's own monotonic
// counter; a caller that wants its own sequencing should set Seq itself
// before calling Publish.
func (r *Runtime) Publish(topic string, msg message.Message) broker.PublishOutcome {
	if msg.Seq == 0 {
		msg.Seq = ids.MessageSeq(r.seq.AddAcqRel(1))
	}
	out := r.br.Publish(topic, msg, time.Time{})
	r.armExternalTarget(topic)
	return out
}

// PublishWithDeadline is Publish for a caller that wants a bounded wait
// on a BlockProducer=true subscription rather than retrying forever.
func (r *Runtime) PublishWithDeadline(topic string, msg message.Message, deadline time.Time) broker.PublishOutcome {
	if msg.Seq == 0 {
		msg.Seq = ids.MessageSeq(r.seq.AddAcqRel(1))
	}
	out := r.br.Publish(topic, msg, deadline)
	r.armExternalTarget(topic)
	return out
}

// armExternalTarget signals the executor driving topic's destination
// node, when topic is a caller-registered external feed (Subscribe was
// called directly against a source node rather than an internal
// node-to-node topic). Internal topics are re-armed through the
// executor's own publishAndAdvance path and need no help here.
func (r *Runtime) armExternalTarget(topic string) {
	r.extMu.Lock()
	node, ok := r.extTopic[topic]
	r.extMu.Unlock()
	if !ok {
		return
	}
	n, err := r.builder.Pool().Get(node)
	if err != nil {
		return
	}
	r.mu.Lock()
	run, ok := r.dags[n.Dag]
	r.mu.Unlock()
	if !ok || run.exec == nil {
		return
	}
	run.exec.Arm(node)
}

// Subscribe attaches a per-subscription SPSC queue for node on topic
// (subscribe(topic, NodeId) -> SubscriptionId). Intended for a caller
// that feeds ticks into a source node (fan-in zero) from outside the
// DAG: call Subscribe before Start so wireRoutes picks up the
// subscription as that node's route input.
func (r *Runtime) Subscribe(topic string, node ids.NodeId) ids.SubscriptionId {
	id := r.br.Subscribe(topic, node, r.cfg.BlockOnFull)
	r.extMu.Lock()
	r.extSubs[node] = id
	r.extTopic[topic] = node
	r.extMu.Unlock()
	r.log.Debug().Str("topic", topic).Stringer("node", idStringer(node)).Msg("streamdag: subscribed")
	return id
}

// Unsubscribe tombstones id and removes it from its topic's delivery list.
func (r *Runtime) Unsubscribe(id ids.SubscriptionId) error {
	return r.br.Unsubscribe(id)
}

// Stop transitions dag's RunState per mode and blocks until every
// worker goroutine has exited (stop(DagId, mode: Drain|Cancel)).
func (r *Runtime) Stop(s ids.SessionId, d ids.DagId, mode StopMode) error {
	if err := r.checkOwnership(s, d); err != nil {
		return err
	}
	r.mu.Lock()
	run, ok := r.dags[d]
	r.mu.Unlock()
	if !ok {
		return errs.ErrUnknownDag
	}
	if run.exec == nil {
		return errs.ErrNotRunning
	}

	switch mode {
	case Drain:
		run.inst.SetRunState(dag.RunDraining)
	default:
		run.inst.SetRunState(dag.RunCancelled)
	}
	run.exec.Wait()
	if mode == Drain {
		run.inst.MarkDrained()
	}
	r.log.Debug().Stringer("dag", idStringer(d)).Bool("drained", mode == Drain).Msg("streamdag: dag stopped")
	return nil
}

// Destroy releases dag's nodes back to the pool (destroy(DagId)).
// Idempotent: destroying an already-destroyed or unknown DagId returns
// ErrUnknownDag rather than panicking.
func (r *Runtime) Destroy(s ids.SessionId, d ids.DagId) error {
	if err := r.checkOwnership(s, d); err != nil {
		return err
	}
	if err := r.builder.Destroy(d); err != nil {
		r.log.Warn().Err(err).Stringer("dag", idStringer(d)).Msg("streamdag: destroy failed")
		return err
	}
	r.mu.Lock()
	delete(r.dags, d)
	r.mu.Unlock()
	r.log.Debug().Stringer("dag", idStringer(d)).Msg("streamdag: dag destroyed")
	return nil
}

// Shutdown cancels and destroys every DAG instance the Runtime still
// tracks, regardless of which session owns it. Intended for process
// teardown, not for a single session's cleanup (use DestroySession for
// that).
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	dags := make([]ids.DagId, 0, len(r.dags))
	for d := range r.dags {
		dags = append(dags, d)
	}
	r.mu.Unlock()

	for _, d := range dags {
		r.mu.Lock()
		run := r.dags[d]
		r.mu.Unlock()
		if run == nil {
			continue
		}
		if run.exec != nil {
			run.inst.SetRunState(dag.RunCancelled)
			run.exec.Wait()
		}
		_ = r.builder.Destroy(d)
		r.mu.Lock()
		delete(r.dags, d)
		r.mu.Unlock()
	}
	r.log.Debug().Int("dags_torn_down", len(dags)).Msg("streamdag: runtime shutdown")
}

// idStringer adapts any fmt.Stringer id type for zerolog's Stringer
// field helper without importing ids' concrete types into every log
// call site.
type idStringer = fmt.Stringer
