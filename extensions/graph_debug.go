package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/m1gwings/treedrawer/tree"

	"github.com/ducklens/reactiveq"
)

// GraphDebugHandler is a slog.Handler that, on an Error-level record,
// renders the query cache's derivation graph (which queries were derived
// via Where/Limit/Offset/Paginate from which) as a tree using
// m1gwings/treedrawer. Directly adapted from the teacher's
// GraphDebugExtension, retargeted from an executor dependency graph to a
// query derivation graph sourced from Cache.ExportDerivationGraph.
type GraphDebugHandler struct {
	cache *reactiveq.Cache
	next  slog.Handler
}

// NewGraphDebugHandler wraps next, a base handler (use slog.NewJSONHandler
// for machine-readable output, NewHumanHandler for formatted output, or
// NewSilentHandler for tests).
func NewGraphDebugHandler(cache *reactiveq.Cache, next slog.Handler) *GraphDebugHandler {
	return &GraphDebugHandler{cache: cache, next: next}
}

func (h *GraphDebugHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *GraphDebugHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelError {
		record.AddAttrs(slog.String("derivation_graph", h.formatGraph()))
	}
	return h.next.Handle(ctx, record)
}

func (h *GraphDebugHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GraphDebugHandler{cache: h.cache, next: h.next.WithAttrs(attrs)}
}

func (h *GraphDebugHandler) WithGroup(name string) slog.Handler {
	return &GraphDebugHandler{cache: h.cache, next: h.next.WithGroup(name)}
}

func (h *GraphDebugHandler) formatGraph() string {
	graph := h.cache.ExportDerivationGraph()
	if len(graph) == 0 {
		return "\n(empty - no derived queries tracked)"
	}

	var sb strings.Builder
	if horiz := h.tryHorizontalTree(graph); horiz != "" {
		sb.WriteString("\n")
		sb.WriteString(horiz)
		sb.WriteString("\n")
	}

	sb.WriteString("\nDetailed View:\n")

	parents := make([]string, 0, len(graph))
	for parent := range graph {
		parents = append(parents, parent)
	}
	sort.Strings(parents)

	for _, parent := range parents {
		children := append([]string(nil), graph[parent]...)
		sort.Strings(children)
		if len(children) == 0 {
			sb.WriteString(fmt.Sprintf("  %s (no derived children)\n", parent))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %s\n", parent))
		for i, child := range children {
			if i == len(children)-1 {
				sb.WriteString(fmt.Sprintf("    └─> %s\n", child))
			} else {
				sb.WriteString(fmt.Sprintf("    ├─> %s\n", child))
			}
		}
	}

	return sb.String()
}

func (h *GraphDebugHandler) tryHorizontalTree(graph map[string][]string) string {
	parents := make(map[string]bool)
	children := make(map[string]bool)
	for p, cs := range graph {
		parents[p] = true
		for _, c := range cs {
			children[c] = true
		}
	}

	var roots []string
	for p := range parents {
		if !children[p] {
			roots = append(roots, p)
		}
	}
	sort.Strings(roots)
	if len(roots) == 0 {
		return ""
	}

	var root *tree.Tree
	if len(roots) == 1 {
		root = buildTree(roots[0], graph, make(map[string]bool))
	} else {
		root = tree.NewTree(tree.NodeString("Derived Queries"))
		for _, r := range roots {
			if child := buildTree(r, graph, make(map[string]bool)); child != nil {
				addTreeAsChild(root, child)
			}
		}
	}
	if root == nil {
		return ""
	}
	return root.String()
}

func buildTree(hash string, graph map[string][]string, visited map[string]bool) *tree.Tree {
	if visited[hash] {
		return nil
	}
	visited[hash] = true

	node := tree.NewTree(tree.NodeString(hash))
	children := append([]string(nil), graph[hash]...)
	sort.Strings(children)
	for _, child := range children {
		if childTree := buildTree(child, graph, visited); childTree != nil {
			addTreeAsChild(node, childTree)
		}
	}
	return node
}

func addTreeAsChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		addTreeAsChild(newChild, grandchild)
	}
}

// SilentHandler discards everything; useful in tests that exercise
// GraphDebugHandler without wanting output.
type SilentHandler struct{}

func NewSilentHandler() *SilentHandler { return &SilentHandler{} }

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool { return false }
func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error { return nil }
func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler             { return h }
func (h *SilentHandler) WithGroup(name string) slog.Handler                  { return h }

// HumanHandler formats records for readability, with special-cased
// handling of the derivation_graph attribute so it prints with real line
// breaks instead of being JSON-escaped.
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
}

func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{writer: writer, level: level}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == "derivation_graph" {
			_, writeErr = fmt.Fprintf(h.writer, "  derivation graph:%s\n", a.Value.String())
		} else {
			_, writeErr = fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, a.Value)
		}
		return writeErr == nil
	})
	return writeErr
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *HumanHandler) WithGroup(name string) slog.Handler       { return h }
