package rctx

import (
	"sync"

	"tokenforge/internal/token"
)

// AdapterFactory constructs a fresh Model Adapter (and its underlying
// model-context resource) for one node. The Environment is the resource
// that conceptually owns the shared model weights; each node gets its own
// adapter/context instance from this factory (SPEC_FULL.md §5).
type AdapterFactory func(cfg NodeConfig) (token.Adapter, error)

// EnvCallbacks is the Environment's observable side-effect channel.
type EnvCallbacks struct {
	OnContextCreate  func(n *Node)
	OnContextDestroy func(n *Node)
	OnRecursion      func(parent, child *Node)
}

// Environment is the pool of context nodes sharing one model
// (SPEC_FULL.md §3, §4.6). A coarse mutex guards the pool, roots list, and
// counters during creation and destruction, per §5.
type Environment struct {
	mu sync.Mutex

	newAdapter AdapterFactory
	config     EnvConfig

	contexts map[ctxID]*Node
	roots    []*Node
	nextID   ctxID

	stats Stats

	callbacks EnvCallbacks
}

// NewEnvironment creates an empty environment. newAdapter is called once
// per node creation (root, spawn, fork, or peer).
func NewEnvironment(newAdapter AdapterFactory, cfg EnvConfig) *Environment {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxContexts == 0 {
		cfg.MaxContexts = DefaultMaxContexts
	}
	if cfg.MailboxCapacity == 0 {
		cfg.MailboxCapacity = defaultMailboxCapacity
	}
	return &Environment{
		newAdapter: newAdapter,
		config:     cfg,
		contexts:   make(map[ctxID]*Node),
	}
}

// SetCallbacks installs the environment's lifecycle callback set.
func (e *Environment) SetCallbacks(cb EnvCallbacks) {
	e.mu.Lock()
	e.callbacks = cb
	e.mu.Unlock()
}

// Stats returns a snapshot of the monotonic counters described in §3.
func (e *Environment) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Environment) resolveConfig(cfg, parent NodeConfig, haveParent bool) NodeConfig {
	if cfg.NCtx == 0 {
		if haveParent {
			cfg.NCtx = parent.NCtx
		} else {
			cfg.NCtx = e.config.DefaultNCtx
		}
	}
	if cfg.NBatch == 0 {
		if haveParent {
			cfg.NBatch = parent.NBatch
		} else {
			cfg.NBatch = e.config.DefaultNBatch
		}
	}
	if cfg.NThreads == 0 {
		if haveParent {
			cfg.NThreads = parent.NThreads
		} else {
			cfg.NThreads = e.config.DefaultNThreads
		}
	}
	if cfg.Completion.NPredict == 0 {
		cfg.Completion = DefaultCompletionParams()
	}
	return cfg
}

// allocNode constructs a bare Node, adapter, and editor and registers it in
// the pool. Returns nil on capacity exhaustion or adapter failure, cleaning
// up any partial allocation along the way (mirrors rllm_alloc_context /
// rllm_spawn_child's cleanup-on-failure chains).
func (e *Environment) allocNode(relation Relation, cfg NodeConfig) (*Node, error) {
	if uint32(len(e.contexts)) >= e.config.MaxContexts {
		return nil, ErrMaxContexts
	}
	adapter, err := e.newAdapter(cfg)
	if err != nil {
		return nil, ErrModel
	}
	id := e.nextID
	e.nextID++
	n := &Node{
		id:       id,
		relation: relation,
		state:    StateIdle,
		config:   cfg,
		editor:   token.NewEditor(adapter),
		adapter:  adapter,
		mailbox:  newMailbox(e.config.MailboxCapacity),
	}
	e.contexts[id] = n
	e.stats.TotalContextsCreated++
	return n, nil
}

func (e *Environment) fireCreate(n *Node) {
	cb := e.callbacks.OnContextCreate
	if cb != nil {
		cb(n)
	}
}

// CreateRoot allocates a fresh root node with no parent.
func (e *Environment) CreateRoot(cfg NodeConfig) (*Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg = e.resolveConfig(cfg, NodeConfig{}, false)
	n, err := e.allocNode(RelationRoot, cfg)
	if err != nil {
		return nil, err
	}
	n.depth = 0
	e.roots = append(e.roots, n)
	e.fireCreate(n)
	return n, nil
}

// SpawnChild creates a child of parent, bootstrapping it per cfg.ShareMode.
// Fails with ErrMaxDepth if the child would reach or exceed MaxDepth.
func (e *Environment) SpawnChild(parent *Node, cfg NodeConfig) (*Node, error) {
	if parent == nil {
		return nil, ErrInvalidParent
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if parent.depth+1 >= e.config.MaxDepth {
		return nil, ErrMaxDepth
	}

	cfg = e.resolveConfig(cfg, parent.config, true)
	n, err := e.allocNode(RelationChild, cfg)
	if err != nil {
		return nil, err
	}
	n.depth = parent.depth + 1
	n.parent = parent

	if err := e.applyShareMode(parent, n, cfg.ShareMode); err != nil {
		delete(e.contexts, n.id)
		_ = n.adapter.Close()
		e.stats.TotalContextsCreated--
		return nil, err
	}

	parent.addChild(n)

	if n.depth > e.stats.PeakDepth {
		e.stats.PeakDepth = n.depth
	}
	e.stats.TotalRecursions++

	e.fireCreate(n)
	if cb := e.callbacks.OnRecursion; cb != nil {
		cb(parent, n)
	}
	return n, nil
}

// applyShareMode copies KV state and/or tokens from parent into child per
// SPEC_FULL.md §4.6. KV_Read and KV_Copy (and Tokens_Read/Tokens_Copy)
// behave identically here — see §9's aliasing note.
func (e *Environment) applyShareMode(parent, child *Node, mode ShareMode) error {
	switch mode {
	case ShareNone:
		return nil
	case ShareKVRead, ShareKVCopy:
		return copyKVState(parent, child)
	case ShareTokensRead, ShareTokensCopy:
		return copyTokens(parent, child)
	case ShareFull:
		if err := copyKVState(parent, child); err != nil {
			return err
		}
		return copyTokens(parent, child)
	}
	return nil
}

func copyKVState(parent, child *Node) error {
	size := parent.adapter.StateSize()
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	n, err := parent.adapter.StateSave(buf)
	if err != nil {
		return ErrModel
	}
	if err := child.adapter.StateLoad(buf[:n]); err != nil {
		return ErrModel
	}
	return nil
}

func copyTokens(parent, child *Node) error {
	count := parent.editor.GetTokenCount(token.DefaultSeq)
	if count == 0 {
		return nil
	}
	toks := make([]token.Token, count)
	if _, err := parent.editor.GetTokens(token.Range{Start: 0, End: token.Position(count)}, toks); err != nil {
		return ErrMemory
	}
	if err := child.editor.InsertTokens(0, toks); err != nil {
		return ErrMemory
	}
	return nil
}

// Fork spawns a node sharing source's parent with Full sharing and
// relation Fork (maps onto rllm_fork, which forks against the source's
// *parent*, not the source's own children).
func (e *Environment) Fork(source *Node) (*Node, error) {
	if source == nil {
		return nil, ErrInvalidContext
	}
	parent := source.Parent()
	if parent == nil {
		return nil, ErrInvalidParent
	}
	cfg := source.Config()
	cfg.ShareMode = ShareFull

	n, err := e.SpawnChild(parent, cfg)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.relation = RelationFork
	n.mu.Unlock()
	return n, nil
}

// CreatePeer creates an independent sibling of peer, attached to peer's
// parent (or promoted to a root if peer has none).
func (e *Environment) CreatePeer(peer *Node, cfg NodeConfig) (*Node, error) {
	if peer == nil {
		return nil, ErrInvalidContext
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	parentCfg := peer.Config()
	haveParent := peer.Parent() != nil
	cfg = e.resolveConfig(cfg, parentCfg, haveParent)

	n, err := e.allocNode(RelationPeer, cfg)
	if err != nil {
		return nil, err
	}
	n.depth = peer.Depth()
	n.parent = peer.Parent()

	if n.parent != nil {
		n.parent.addChild(n)
	} else {
		e.roots = append(e.roots, n)
	}

	e.fireCreate(n)
	return n, nil
}

// Destroy recursively destroys n (children first), then detaches it from
// its parent or the roots list and removes it from the pool.
func (e *Environment) Destroy(n *Node) error {
	if n == nil {
		return ErrInvalidContext
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyLocked(n)
}

func (e *Environment) destroyLocked(n *Node) error {
	if _, ok := e.contexts[n.id]; !ok {
		return ErrInvalidContext
	}

	if cb := e.callbacks.OnContextDestroy; cb != nil {
		cb(n)
	}

	for _, child := range n.Children() {
		_ = e.destroyLocked(child)
	}

	if parent := n.Parent(); parent != nil {
		parent.removeChild(n)
	}
	for i, r := range e.roots {
		if r == n {
			e.roots = append(e.roots[:i], e.roots[i+1:]...)
			break
		}
	}

	delete(e.contexts, n.id)
	_ = n.adapter.Close()
	return nil
}

// GetContext looks up a node by ID.
func (e *Environment) GetContext(id uint32) (*Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.contexts[ctxID(id)]
	return n, ok
}

// Roots returns a snapshot of the current root list.
func (e *Environment) Roots() []*Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Node, len(e.roots))
	copy(out, e.roots)
	return out
}

// Len reports the number of live nodes in the pool.
func (e *Environment) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.contexts)
}

// recordTokens adds to the environment-wide token-processed counter. Nothing
// in the package calls it, so Stats.TotalTokensProcessed stays at zero.
func (e *Environment) recordTokens(n uint64) {
	e.mu.Lock()
	e.stats.TotalTokensProcessed += n
	e.mu.Unlock()
}
