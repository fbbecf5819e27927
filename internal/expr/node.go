// Package expr models computation graphs evaluated by the remote imagery engine.
//
// A pipeline is built locally as a tree of Nodes and shipped as a single
// Expression. Nothing in this package performs I/O.
package expr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the variant held by a Node.
type Kind int

// Node kinds.
const (
	KindConstant Kind = iota
	KindInvocation
	KindArray
	KindDictionary
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constantValue"
	case KindInvocation:
		return "functionInvocationValue"
	case KindArray:
		return "arrayValue"
	case KindDictionary:
		return "dictionaryValue"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is one vertex of a computation graph.
type Node struct {
	kind     Kind
	value    any
	function string
	args     map[string]Node
	items    []Node
}

// Constant returns a node holding a literal JSON value.
func Constant(v any) Node {
	return Node{kind: KindConstant, value: v}
}

// Invoke returns a node calling the named remote function.
func Invoke(function string, args map[string]Node) Node {
	if args == nil {
		args = map[string]Node{}
	}
	return Node{kind: KindInvocation, function: function, args: args}
}

// Array returns a node holding an ordered list of nodes.
func Array(items ...Node) Node {
	return Node{kind: KindArray, items: items}
}

// Dictionary returns a node holding named nodes.
func Dictionary(entries map[string]Node) Node {
	if entries == nil {
		entries = map[string]Node{}
	}
	return Node{kind: KindDictionary, args: entries}
}

// Strings returns an array node of string constants.
func Strings(values ...string) Node {
	items := make([]Node, len(values))
	for i, v := range values {
		items[i] = Constant(v)
	}
	return Array(items...)
}

// Kind returns the node variant.
func (n Node) Kind() Kind { return n.kind }

// Function returns the invoked function name, or "" for non-invocations.
func (n Node) Function() string { return n.function }

// Arg returns a named argument of an invocation.
func (n Node) Arg(name string) (Node, bool) {
	a, ok := n.args[name]
	return a, ok
}

// Value returns the literal held by a constant node.
func (n Node) Value() any { return n.value }

// Items returns the elements of an array node.
func (n Node) Items() []Node { return n.items }

// IsZero reports whether the node was never initialized.
func (n Node) IsZero() bool {
	return n.kind == KindConstant && n.value == nil && n.function == "" && n.args == nil && n.items == nil
}

// Walk calls fn for every node in depth-first order, arguments sorted by name.
// Returning false from fn stops descent into that node's children.
func (n Node) Walk(fn func(Node) bool) {
	if !fn(n) {
		return
	}
	switch n.kind {
	case KindInvocation, KindDictionary:
		for _, k := range sortedKeys(n.args) {
			n.args[k].Walk(fn)
		}
	case KindArray:
		for _, it := range n.items {
			it.Walk(fn)
		}
	}
}

// Functions returns the names of every invocation in the graph, in walk order.
func (n Node) Functions() []string {
	var names []string
	n.Walk(func(c Node) bool {
		if c.kind == KindInvocation {
			names = append(names, c.function)
		}
		return true
	})
	return names
}

// MarshalJSON encodes the node in the engine's ValueNode format.
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.kind {
	case KindConstant:
		return json.Marshal(map[string]any{"constantValue": n.value})
	case KindInvocation:
		return json.Marshal(map[string]any{
			"functionInvocationValue": map[string]any{
				"functionName": n.function,
				"arguments":    n.args,
			},
		})
	case KindArray:
		items := n.items
		if items == nil {
			items = []Node{}
		}
		return json.Marshal(map[string]any{"arrayValue": map[string]any{"values": items}})
	case KindDictionary:
		return json.Marshal(map[string]any{"dictionaryValue": map[string]any{"values": n.args}})
	default:
		return nil, fmt.Errorf("expr: unknown node kind %d", n.kind)
	}
}

// Digest returns the hex SHA-256 of the node's canonical encoding.
// encoding/json sorts map keys, so equal graphs always share a digest.
func (n Node) Digest() string {
	b, err := json.Marshal(n)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Expression is the request envelope understood by the engine.
type Expression struct {
	Result string          `json:"result"`
	Values map[string]Node `json:"values"`
}

// NewExpression wraps a node as the single result of an expression.
func NewExpression(n Node) Expression {
	return Expression{Result: "0", Values: map[string]Node{"0": n}}
}

func sortedKeys(m map[string]Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
