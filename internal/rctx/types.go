// Package rctx implements the Recursive Context Environment (SPEC_FULL.md
// §4.6-§4.8): a hierarchy of Token Editor-backed context nodes, spawned with
// four relationship kinds and three KV/token inheritance modes, messaging
// between nodes over a bounded per-node mailbox, and a synchronous
// generation driver layered on the Model Adapter's sampler primitives.
package rctx

import "tokenforge/internal/token"

// ctxID names a node within one Environment. IDs are assigned sequentially
// starting at 0, so the first root gets ID 0.
type ctxID uint32

// InvalidCtxID is the all-ones ID, available as a "no such node" marker;
// GetContext reports a miss through its boolean result instead.
const InvalidCtxID ctxID = ^ctxID(0)

// Relation classifies how a node came to exist relative to the rest of the
// tree (SPEC_FULL.md §3).
type Relation int

const (
	RelationRoot Relation = iota
	RelationChild
	RelationFork
	RelationPeer
)

func (r Relation) String() string {
	switch r {
	case RelationRoot:
		return "root"
	case RelationChild:
		return "child"
	case RelationFork:
		return "fork"
	case RelationPeer:
		return "peer"
	default:
		return "unknown"
	}
}

// State is a node's execution state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateWaiting
	StateComplete
	StateError
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// ShareMode selects how a spawned child bootstraps from its parent
// (SPEC_FULL.md §4.6). Per §9's "Tokens-inherit and KV-inherit share-mode
// aliasing" note, Read and Copy behave identically (always copying); the
// distinction is preserved in the API for a future copy-on-write
// optimization.
type ShareMode int

const (
	ShareNone ShareMode = iota
	ShareKVRead
	ShareKVCopy
	ShareTokensRead
	ShareTokensCopy
	ShareFull
)

// CompletionParams configures one run of the generation driver
// (SPEC_FULL.md §4.6, maps to the original rllm_completion_params_t).
type CompletionParams struct {
	NPredict      uint32
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	Stream        bool
	TimeoutMs     uint32
}

// DefaultCompletionParams mirrors the original's rllm_default_completion_params.
func DefaultCompletionParams() CompletionParams {
	return CompletionParams{
		NPredict:      256,
		Temperature:   0.8,
		TopP:          0.95,
		TopK:          40,
		RepeatPenalty: 1.1,
		Stream:        false,
		TimeoutMs:     0,
	}
}

// NodeConfig configures one context node (maps to rllm_ctx_config_t).
// Zero fields are inherited from the parent (or from the Environment's
// defaults for a root) at spawn time.
type NodeConfig struct {
	NCtx            uint32
	NBatch          uint32
	NThreads        uint32
	ShareMode       ShareMode
	Completion      CompletionParams
	InheritPrompt   bool
	InheritSampling bool
}

// DefaultNodeConfig mirrors the original's rllm_default_ctx_config.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		NCtx:       2048,
		NBatch:     512,
		NThreads:   4,
		ShareMode:  ShareNone,
		Completion: DefaultCompletionParams(),
	}
}

// EnvConfig configures an Environment (maps to rllm_env_config_t).
type EnvConfig struct {
	MaxDepth         uint32
	MaxContexts      uint32
	DefaultNCtx      uint32
	DefaultNBatch    uint32
	DefaultNThreads  uint32
	EnableLogging    bool
	EnableMetrics    bool
	MailboxCapacity  int
}

// Default recursion/pool bounds, taken from the original source's
// RLLM_MAX_DEPTH / RLLM_MAX_CONTEXTS constants.
const (
	DefaultMaxDepth        = 32
	DefaultMaxContexts     = 64
	defaultMailboxCapacity = 32
)

// DefaultEnvConfig mirrors the original's rllm_default_env_config.
func DefaultEnvConfig() EnvConfig {
	return EnvConfig{
		MaxDepth:        DefaultMaxDepth,
		MaxContexts:     DefaultMaxContexts,
		DefaultNCtx:     2048,
		DefaultNBatch:   512,
		DefaultNThreads: 4,
		EnableMetrics:   true,
		MailboxCapacity: defaultMailboxCapacity,
	}
}

// MsgType classifies an inter-context Message (SPEC_FULL.md §4.7).
type MsgType int

const (
	MsgTokens MsgType = iota
	MsgText
	MsgCompletion
	MsgEmbedding
	MsgControl
	MsgQuery
	MsgResponse
)

// Message is one entry in a node's mailbox. Data is caller-owned on send
// (send_message copies it) and becomes receiver-owned once dequeued.
type Message struct {
	Type     MsgType
	Sender   ctxID
	Receiver ctxID
	SeqNum   uint32
	Tokens   []token.Token
	Data     []byte
}

// Stats mirrors rllm_get_stats: monotonic counters tracked by an Environment.
type Stats struct {
	TotalTokensProcessed uint64
	TotalContextsCreated uint64
	TotalRecursions      uint64
	PeakDepth            uint32
}
