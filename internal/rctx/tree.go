package rctx

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tokenforge/internal/token"
)

// WalkTree visits root and every descendant in depth-first, parent-before-
// children order, passing each node's distance from root (grounded on
// rllm_walk_tree).
func WalkTree(root *Node, visit func(n *Node, depth uint32)) {
	if root == nil {
		return
	}
	visit(root, 0)
	walkChildren(root, 1, visit)
}

func walkChildren(n *Node, depth uint32, visit func(*Node, uint32)) {
	for _, c := range n.Children() {
		visit(c, depth)
		walkChildren(c, depth+1, visit)
	}
}

// FindContext returns the first node in root's subtree (depth-first,
// pre-order) for which predicate reports true, or nil if none match
// (grounded on rllm_find_context).
func FindContext(root *Node, predicate func(n *Node) bool) *Node {
	if root == nil {
		return nil
	}
	var found *Node
	WalkTree(root, func(n *Node, _ uint32) {
		if found == nil && predicate(n) {
			found = n
		}
	})
	return found
}

// CountDescendants counts every node in n's subtree excluding n itself
// (grounded on rllm_count_descendants).
func CountDescendants(n *Node) int {
	if n == nil {
		return 0
	}
	count := 0
	for _, c := range n.Children() {
		count += 1 + CountDescendants(c)
	}
	return count
}

var (
	treeIDStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF")).
			Bold(true)

	treeRelationStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#4ECDC4"))

	treeStateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	treeErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	treeMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666680"))
)

// PrintTree renders root's subtree as an indented, color-coded listing
// (grounded on rllm_print_tree, styled with the project's lipgloss palette).
func PrintTree(root *Node) string {
	var b strings.Builder
	WalkTree(root, func(n *Node, depth uint32) {
		b.WriteString(strings.Repeat("  ", int(depth)))
		if depth > 0 {
			b.WriteString("└─ ")
		}

		b.WriteString(treeIDStyle.Render(formatCtxID(n.ID())))
		b.WriteString(" ")
		b.WriteString(treeRelationStyle.Render("[" + n.Relation().String() + "]"))
		b.WriteString(" ")

		if len(n.Children()) == 0 {
			b.WriteString(treeMetaStyle.Render("(leaf)"))
		} else {
			b.WriteString(treeMetaStyle.Render("(has-children)"))
		}
		b.WriteString(" ")

		state := n.State()
		stateStyle := treeStateStyle
		if state == StateError {
			stateStyle = treeErrorStyle
		}
		b.WriteString(stateStyle.Render(state.String()))

		count := n.Editor().GetTokenCount(token.DefaultSeq)
		b.WriteString(" ")
		b.WriteString(treeMetaStyle.Render(formatTokenCount(count)))
		b.WriteString("\n")
	})
	return b.String()
}

func formatCtxID(id uint32) string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}

func formatTokenCount(n int) string {
	return "(" + strconv.Itoa(n) + " tok)"
}
