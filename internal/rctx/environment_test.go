package rctx

import (
	"testing"

	"tokenforge/internal/modeladapter"
	"tokenforge/internal/token"
)

func stubFactory(cfg NodeConfig) (token.Adapter, error) {
	return modeladapter.NewStub(64), nil
}

func newTestEnv(t *testing.T, cfg EnvConfig) *Environment {
	t.Helper()
	return NewEnvironment(stubFactory, cfg)
}

func TestCreateRoot(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if root.Relation() != RelationRoot {
		t.Fatalf("relation = %v, want root", root.Relation())
	}
	if root.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", root.Depth())
	}
	if root.Parent() != nil {
		t.Fatal("root should have no parent")
	}
	if env.Len() != 1 {
		t.Fatalf("env.Len() = %d, want 1", env.Len())
	}
	if got, ok := env.GetContext(root.ID()); !ok || got != root {
		t.Fatal("GetContext did not find the freshly created root")
	}
}

func TestSpawnChildDepthAndParentage(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, err := env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}
	if child.Depth() != 1 {
		t.Fatalf("child depth = %d, want 1", child.Depth())
	}
	if child.Parent() != root {
		t.Fatal("child.Parent() != root")
	}
	kids := root.Children()
	if len(kids) != 1 || kids[0] != child {
		t.Fatalf("root.Children() = %v, want [child]", kids)
	}
}

func TestSpawnChildRespectsMaxDepth(t *testing.T) {
	cfg := DefaultEnvConfig()
	cfg.MaxDepth = 2
	env := newTestEnv(t, cfg)

	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, err := env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild depth 1: %v", err)
	}
	if _, err := env.SpawnChild(child, DefaultNodeConfig()); err == nil {
		t.Fatal("SpawnChild depth 2: want ErrMaxDepth, got nil")
	}
}

func TestSpawnChildRespectsMaxContexts(t *testing.T) {
	cfg := DefaultEnvConfig()
	cfg.MaxContexts = 2
	env := newTestEnv(t, cfg)

	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if _, err := env.SpawnChild(root, DefaultNodeConfig()); err != nil {
		t.Fatalf("second context: %v", err)
	}
	if _, err := env.SpawnChild(root, DefaultNodeConfig()); err == nil {
		t.Fatal("third context: want ErrMaxContexts, got nil")
	}
}

func TestSpawnChildTokensCopy(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if err := root.SetPrompt("hello"); err != nil {
		t.Fatalf("SetPrompt: %v", err)
	}

	cfg := DefaultNodeConfig()
	cfg.ShareMode = ShareTokensCopy
	child, err := env.SpawnChild(root, cfg)
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}

	parentText, err := root.Text()
	if err != nil {
		t.Fatalf("root.Text: %v", err)
	}
	childText, err := child.Text()
	if err != nil {
		t.Fatalf("child.Text: %v", err)
	}
	if childText != parentText {
		t.Fatalf("child text = %q, want %q (tokens-copy share mode)", childText, parentText)
	}
}

func TestForkSharesSourceParent(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, err := env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}

	fork, err := env.Fork(child)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if fork.Relation() != RelationFork {
		t.Fatalf("fork relation = %v, want fork", fork.Relation())
	}
	if fork.Parent() != root {
		t.Fatal("fork should share child's parent (root), not become child's child")
	}
}

func TestForkWithoutParentFails(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if _, err := env.Fork(root); err == nil {
		t.Fatal("Fork of a root (no parent): want ErrInvalidParent, got nil")
	}
}

func TestCreatePeerIsSiblingOfPeer(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, err := env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}

	peer, err := env.CreatePeer(child, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}
	if peer.Relation() != RelationPeer {
		t.Fatalf("peer relation = %v, want peer", peer.Relation())
	}
	if peer.Parent() != root {
		t.Fatal("peer should share child's parent")
	}
	if peer.Depth() != child.Depth() {
		t.Fatalf("peer depth = %d, want %d (same as sibling)", peer.Depth(), child.Depth())
	}
}

func TestDestroyRemovesFromPoolAndParent(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	child, err := env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}

	if err := env.Destroy(child); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, ok := env.GetContext(child.ID()); ok {
		t.Fatal("destroyed child still present in pool")
	}
	if len(root.Children()) != 0 {
		t.Fatal("destroyed child still listed under parent")
	}
}

func TestDestroyCascadesToDescendants(t *testing.T) {
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

	if err := env.Destroy(root); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if env.Len() != 0 {
		t.Fatalf("env.Len() = %d, want 0 after destroying root", env.Len())
	}
	if _, ok := env.GetContext(grandchild.ID()); ok {
		t.Fatal("grandchild survived destruction of its ancestor")
	}
	if len(env.Roots()) != 0 {
		t.Fatal("roots list still references the destroyed root")
	}
}

func TestStatsTrackCreationAndDepth(t *testing.T) {
	env := newTestEnv(t, DefaultEnvConfig())
	root, err := env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if _, err := env.SpawnChild(root, DefaultNodeConfig()); err != nil {
		t.Fatalf("SpawnChild: %v", err)
	}

	stats := env.Stats()
	if stats.TotalContextsCreated != 2 {
		t.Fatalf("TotalContextsCreated = %d, want 2", stats.TotalContextsCreated)
	}
	if stats.TotalRecursions != 1 {
		t.Fatalf("TotalRecursions = %d, want 1", stats.TotalRecursions)
	}
	if stats.PeakDepth != 1 {
		t.Fatalf("PeakDepth = %d, want 1", stats.PeakDepth)
	}
}
