package rctx

import (
	"testing"
	"time"

	"tokenforge/internal/token"
)

func TestSetPromptAndText(t *testing.T) {
	root := newTestRoot(t)
	if err := root.SetPrompt("hello"); err != nil {
		t.Fatalf("SetPrompt: %v", err)
	}
	got, err := root.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "hello" {
		t.Fatalf("Text() = %q, want %q", got, "hello")
	}
}

func TestAppendPromptExtendsBuffer(t *testing.T) {
	root := newTestRoot(t)
	if err := root.SetPrompt("hello"); err != nil {
		t.Fatalf("SetPrompt: %v", err)
	}
	if err := root.AppendPrompt("world"); err != nil {
		t.Fatalf("AppendPrompt: %v", err)
	}
	got, err := root.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "helloworld" {
		t.Fatalf("Text() = %q, want %q", got, "helloworld")
	}
}

func TestSendMessageDeliversToReceiver(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, err := env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}

	var received Message
	child.SetCallbacks(NodeCallbacks{
		OnMessage: func(msg Message) { received = msg },
	})

	if err := child.SendText(root, "ping"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !child.HasMessages() {
		t.Fatal("HasMessages: want true after SendText")
	}
	if received.Sender != root.id || received.Receiver != child.id {
		t.Fatalf("OnMessage stamped Sender=%v Receiver=%v, want %v/%v", received.Sender, received.Receiver, root.id, child.id)
	}
	if string(received.Data) != "ping" {
		t.Fatalf("Data = %q, want %q", received.Data, "ping")
	}

	msg, err := child.RecvMessage(time.Second)
	if err != nil {
		t.Fatalf("RecvMessage: %v", err)
	}
	if string(msg.Data) != "ping" {
		t.Fatalf("RecvMessage data = %q, want %q", msg.Data, "ping")
	}
	if child.HasMessages() {
		t.Fatal("HasMessages: want false after draining the only message")
	}
}

func TestSendTokensCopiesSlice(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, err := env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}

	toks := []token.Token{1, 2, 3}
	if err := child.SendTokens(root, toks); err != nil {
		t.Fatalf("SendTokens: %v", err)
	}
	toks[0] = 99 // mutate caller's slice after send

	msg, err := child.RecvMessage(time.Second)
	if err != nil {
		t.Fatalf("RecvMessage: %v", err)
	}
	if msg.Tokens[0] != 1 {
		t.Fatalf("Tokens[0] = %v, want 1 (send should copy, not alias)", msg.Tokens[0])
	}
}

func TestRootOfDeepTree(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, err := env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}
	grandchild, err := env.SpawnChild(child, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild grandchild: %v", err)
	}
	if grandchild.Root() != root {
		t.Fatal("Root() of a grandchild should return the tree root")
	}
}
