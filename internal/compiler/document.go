package compiler

// SupportedVersion is the single workflow document schema version this
// compiler accepts.
const SupportedVersion = "0.1"

// nodeKind distinguishes the handful of node types the grammar allows.
type nodeKind string

const (
	nodeRoot     nodeKind = "root"
	nodeChain    nodeKind = "chain"
	nodeFragment nodeKind = "fragment"
	nodeParallel nodeKind = "parallel"
)

// node is the parser's abstract syntax tree: a named block with positional
// string arguments and property (key=value) arguments, plus nested
// children. The grammar is uniform enough that one struct serves every
// node kind; Validate/flatten interpret it per kind.
type node struct {
	kind     nodeKind
	args     []string
	props    map[string]string
	children []*node
}

func newNode(kind nodeKind) *node {
	return &node{kind: kind, props: map[string]string{}}
}

func (n *node) prop(key string) (string, bool) {
	v, ok := n.props[key]
	return v, ok
}

// document is the parsed, not-yet-validated top-level result.
type document struct {
	root *node
}
