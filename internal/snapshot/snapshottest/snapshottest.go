// Package snapshottest builds small V8 heap snapshot payloads for tests.
package snapshottest

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

var nodeTypes = []string{"hidden", "array", "string", "object", "code", "closure", "regexp", "number", "native", "synthetic", "concatenated string", "sliced string", "symbol", "bigint", "object shape"}

var edgeTypes = []string{"context", "element", "property", "internal", "hidden", "shortcut", "weak"}

// Edge references another node of the same payload by its position.
type Edge struct {
	Type string
	Name string
	To   int
}

// Node describes one heap object.
type Node struct {
	Type        string
	Name        string
	ID          uint64
	SelfSize    int64
	TraceNodeID int64
	Edges       []Edge
}

// Sample is one timeline sample.
type Sample struct {
	TimestampUs    int64
	LastAssignedID uint64
}

func indexOf(values []string, v string) int {
	for i, s := range values {
		if s == v {
			return i
		}
	}
	panic(fmt.Sprintf("snapshottest: unknown type %q", v))
}

// Payload serializes nodes and samples in the .heapsnapshot format.
func Payload(nodes []Node, samples []Sample) []byte {
	var strs []string
	strIndex := map[string]int{}
	intern := func(s string) int {
		if i, ok := strIndex[s]; ok {
			return i
		}
		strIndex[s] = len(strs)
		strs = append(strs, s)
		return len(strs) - 1
	}
	const nodeFields = 6
	var flatNodes, flatEdges []int64
	edgeCount := 0
	for _, n := range nodes {
		flatNodes = append(flatNodes,
			int64(indexOf(nodeTypes, n.Type)), int64(intern(n.Name)), int64(n.ID),
			n.SelfSize, int64(len(n.Edges)), n.TraceNodeID)
		for _, e := range n.Edges {
			name := int64(intern(e.Name))
			if e.Type == "element" || e.Type == "hidden" {
				fmt.Sscan(e.Name, &name)
			}
			flatEdges = append(flatEdges, int64(indexOf(edgeTypes, e.Type)), name, int64(e.To*nodeFields))
			edgeCount++
		}
	}
	var flatSamples []int64
	for _, s := range samples {
		flatSamples = append(flatSamples, s.TimestampUs, int64(s.LastAssignedID))
	}
	if strs == nil {
		strs = []string{}
	}
	doc := map[string]any{
		"snapshot": map[string]any{
			"meta": map[string]any{
				"node_fields":   []string{"type", "name", "id", "self_size", "edge_count", "trace_node_id"},
				"node_types":    []any{nodeTypes, "string", "number", "number", "number", "number"},
				"edge_fields":   []string{"type", "name_or_index", "to_node"},
				"edge_types":    []any{edgeTypes, "string_or_number", "node"},
				"sample_fields": []string{"timestamp_us", "last_assigned_id"},
			},
			"node_count": len(nodes),
			"edge_count": edgeCount,
		},
		"nodes":   nonNil(flatNodes),
		"edges":   nonNil(flatEdges),
		"samples": nonNil(flatSamples),
		"strings": strs,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return b
}

func nonNil(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

// Default returns a small graph:
//
//	0 root (synthetic, id 1)
//	├── 1 Window (object, id 3, 200 B)
//	│   ├── 2 Foo (object, id 5, 100 B, trace 7)
//	│   ├── 3 Foo (object, id 7, 100 B, trace 7)
//	│   └── 4 "hello" (string, id 9, 32 B)
//	├── 5 Array (object, id 11, 64 B, trace 8)
//	├── 6 code (code, id 13, 500 B)
//	└── 7 system (hidden, id 14, 40 B)
func Default() []Node {
	return []Node{
		{Type: "synthetic", Name: "", ID: 1, Edges: []Edge{
			{Type: "element", Name: "1", To: 1},
			{Type: "element", Name: "2", To: 5},
			{Type: "element", Name: "3", To: 6},
			{Type: "hidden", Name: "4", To: 7},
		}},
		{Type: "object", Name: "Window", ID: 3, SelfSize: 200, Edges: []Edge{
			{Type: "property", Name: "a", To: 2},
			{Type: "property", Name: "b", To: 3},
			{Type: "property", Name: "greeting", To: 4},
		}},
		{Type: "object", Name: "Foo", ID: 5, SelfSize: 100, TraceNodeID: 7},
		{Type: "object", Name: "Foo", ID: 7, SelfSize: 100, TraceNodeID: 7},
		{Type: "string", Name: "hello", ID: 9, SelfSize: 32},
		{Type: "object", Name: "Array", ID: 11, SelfSize: 64, TraceNodeID: 8},
		{Type: "code", Name: "code", ID: 13, SelfSize: 500},
		{Type: "hidden", Name: "system", ID: 14, SelfSize: 40},
	}
}

// DefaultPayload is Payload(Default(), nil).
func DefaultPayload() []byte { return Payload(Default(), nil) }
