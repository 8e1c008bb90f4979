package rctx

import (
	"strconv"
	"strings"
	"testing"
)

func buildTestTree(t *testing.T) (env *Environment, root, childA, childB, grandchild *Node) {
	t.Helper()
	env = newTestEnv(t, DefaultEnvConfig())
	var err error
	root, err = env.CreateRoot(DefaultNodeConfig())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	childA, err = env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild A: %v", err)
	}
	childB, err = env.SpawnChild(root, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild B: %v", err)
	}
	grandchild, err = env.SpawnChild(childA, DefaultNodeConfig())
	if err != nil {
		t.Fatalf("SpawnChild grandchild: %v", err)
	}
	return env, root, childA, childB, grandchild
}

func TestWalkTreeVisitsParentBeforeChildren(t *testing.T) {
	_, root, childA, childB, grandchild := buildTestTree(t)

	var order []uint32
	depths := map[uint32]uint32{}
	WalkTree(root, func(n *Node, depth uint32) {
		order = append(order, n.ID())
		depths[n.ID()] = depth
	})

	if len(order) != 4 {
		t.Fatalf("visited %d nodes, want 4", len(order))
	}
	if order[0] != root.ID() {
		t.Fatalf("first visited = %d, want root %d", order[0], root.ID())
	}
	if depths[root.ID()] != 0 {
		t.Fatalf("root depth = %d, want 0", depths[root.ID()])
	}
	if depths[childA.ID()] != 1 || depths[childB.ID()] != 1 {
		t.Fatal("direct children should be visited at depth 1")
	}
	if depths[grandchild.ID()] != 2 {
		t.Fatalf("grandchild depth = %d, want 2", depths[grandchild.ID()])
	}

	// childA must precede grandchild since it is grandchild's parent.
	posA, posG := -1, -1
	for i, id := range order {
		if id == childA.ID() {
			posA = i
		}
		if id == grandchild.ID() {
			posG = i
		}
	}
	if posA == -1 || posG == -1 || posA > posG {
		t.Fatal("childA must be visited before its own child")
	}
}

func TestCountDescendants(t *testing.T) {
	_, root, childA, childB, _ := buildTestTree(t)

	if got := CountDescendants(root); got != 3 {
		t.Fatalf("CountDescendants(root) = %d, want 3", got)
	}
	if got := CountDescendants(childA); got != 1 {
		t.Fatalf("CountDescendants(childA) = %d, want 1", got)
	}
	if got := CountDescendants(childB); got != 0 {
		t.Fatalf("CountDescendants(childB) = %d, want 0", got)
	}
}

func TestFindContext(t *testing.T) {
	_, root, _, _, grandchild := buildTestTree(t)

	found := FindContext(root, func(n *Node) bool {
		return n.ID() == grandchild.ID()
	})
	if found != grandchild {
		t.Fatal("FindContext did not locate the grandchild")
	}

	notFound := FindContext(root, func(n *Node) bool { return false })
	if notFound != nil {
		t.Fatal("FindContext should return nil when no node matches")
	}
}

func TestPrintTreeIncludesEveryNode(t *testing.T) {
	_, root, childA, childB, grandchild := buildTestTree(t)

	out := PrintTree(root)
	for _, n := range []*Node{root, childA, childB, grandchild} {
		want := "#" + strconv.FormatUint(uint64(n.ID()), 10)
		if !strings.Contains(out, want) {
			t.Fatalf("PrintTree output missing node id %s:\n%s", want, out)
		}
	}
}
