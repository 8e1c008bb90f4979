package rctx

import (
	"sync"
	"time"

	"tokenforge/internal/token"
)

// NodeCallbacks is the observable side-effect channel for one node
// (SPEC_FULL.md §7): nodes themselves never print.
type NodeCallbacks struct {
	OnToken    func(tok token.Token)
	OnComplete func(final State)
	OnMessage  func(msg Message)
}

// Node is one vertex of the context tree (SPEC_FULL.md §3): it owns an
// Editor, the underlying adapter/model-context resource, a bounded mailbox,
// and its place in the parent/child hierarchy. Mutated only by its owning
// thread of control, per §5's single-threaded-per-node scheduling model;
// the mutex here guards the bookkeeping fields (state, children, parent)
// against the Environment's coarser operations, not against concurrent use
// of the Editor itself.
type Node struct {
	mu sync.Mutex

	id       ctxID
	relation Relation
	state    State

	parent   *Node
	children []*Node
	depth    uint32

	editor  *token.Editor
	adapter token.Adapter
	config  NodeConfig

	mailbox *mailbox

	startTime       time.Time
	endTime         time.Time
	tokensGenerated uint32

	callbacks NodeCallbacks
}

// ID returns the node's environment-unique identifier.
func (n *Node) ID() uint32 { return uint32(n.id) }

// Relation reports how this node relates to the rest of the tree.
func (n *Node) Relation() Relation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.relation
}

// State reports the node's current execution state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Depth reports the node's distance from its root (0 for a root node).
func (n *Node) Depth() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.depth
}

// Parent returns the node's parent, or nil for a root.
func (n *Node) Parent() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

// Children returns a snapshot of the node's current children.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Root walks up to the root of this node's tree.
func (n *Node) Root() *Node {
	cur := n
	for {
		p := cur.Parent()
		if p == nil {
			return cur
		}
		cur = p
	}
}

// Editor returns the node's Token Editor façade.
func (n *Node) Editor() *token.Editor { return n.editor }

// Config returns the configuration the node was created or spawned with.
func (n *Node) Config() NodeConfig {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.config
}

// SetCallbacks installs the node's observable-side-effect channel.
func (n *Node) SetCallbacks(cb NodeCallbacks) {
	n.mu.Lock()
	n.callbacks = cb
	n.mu.Unlock()
}

// TokensGenerated reports how many tokens the most recent (or in-flight)
// completion has appended.
func (n *Node) TokensGenerated() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokensGenerated
}

// Elapsed reports the duration of the most recent completion.
func (n *Node) Elapsed() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endTime.Before(n.startTime) {
		return 0
	}
	return n.endTime.Sub(n.startTime)
}

func (n *Node) addChild(child *Node) {
	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()
}

func (n *Node) removeChild(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// SetPrompt clears the editor and tokenizes+inserts prompt in its place.
func (n *Node) SetPrompt(prompt string) error {
	if err := n.editor.Clear(token.DefaultSeq); err != nil {
		return err
	}
	toks, err := n.editor.Tokenize(prompt, true)
	if err != nil {
		return err
	}
	return n.editor.InsertTokens(0, toks)
}

// AppendPrompt tokenizes text (without a BOS) and appends it to the editor.
func (n *Node) AppendPrompt(text string) error {
	toks, err := n.editor.Tokenize(text, false)
	if err != nil {
		return err
	}
	return n.editor.InsertTokens(token.Position(n.editor.GetTokenCount(token.DefaultSeq)), toks)
}

// Text detokenizes the entire current buffer.
func (n *Node) Text() (string, error) {
	count := n.editor.GetTokenCount(token.DefaultSeq)
	toks := make([]token.Token, count)
	if _, err := n.editor.GetTokens(token.Range{Start: 0, End: token.Position(count)}, toks); err != nil {
		return "", err
	}
	return n.editor.Detokenize(toks)
}

// SendMessage enqueues msg on this node's mailbox, stamping Sender/Receiver
// and firing OnMessage. Data is copied so the caller remains free to reuse
// its buffer.
func (n *Node) SendMessage(from *Node, msg Message) error {
	msg.Sender = from.id
	msg.Receiver = n.id
	if msg.Data != nil {
		msg.Data = append([]byte(nil), msg.Data...)
	}
	if msg.Tokens != nil {
		msg.Tokens = append([]token.Token(nil), msg.Tokens...)
	}
	if err := n.mailbox.send(msg); err != nil {
		return err
	}
	n.mu.Lock()
	cb := n.callbacks.OnMessage
	n.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
	return nil
}

// SendTokens is a thin wrapper over SendMessage for a Tokens payload.
func (n *Node) SendTokens(from *Node, toks []token.Token) error {
	return n.SendMessage(from, Message{Type: MsgTokens, Tokens: toks})
}

// SendText is a thin wrapper over SendMessage for a Text payload.
func (n *Node) SendText(from *Node, text string) error {
	return n.SendMessage(from, Message{Type: MsgText, Data: []byte(text)})
}

// HasMessages reports whether a message is pending without consuming it.
func (n *Node) HasMessages() bool { return n.mailbox.hasMessages() }

// RecvMessage dequeues the oldest pending message, blocking up to timeout
// (0 = wait indefinitely).
func (n *Node) RecvMessage(timeout time.Duration) (Message, error) {
	return n.mailbox.recv(timeout)
}
