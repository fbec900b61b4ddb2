package snapshot

import (
	"context"
	"fmt"
	"io"

	"github.com/segmentio/encoding/json"
)

// Parser turns a serialized snapshot into a Snapshot.
type Parser interface {
	Parse(ctx context.Context, r io.Reader) (*Snapshot, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, r io.Reader) (*Snapshot, error)

// Parse calls f.
func (f ParserFunc) Parse(ctx context.Context, r io.Reader) (*Snapshot, error) { return f(ctx, r) }

// ParseError reports a malformed snapshot.
type ParseError struct {
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("snapshot: parse: %s: %v", e.Reason, e.Cause)
	}
	return "snapshot: parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Cause }

type rawMeta struct {
	NodeFields   []string          `json:"node_fields"`
	NodeTypes    []json.RawMessage `json:"node_types"`
	EdgeFields   []string          `json:"edge_fields"`
	EdgeTypes    []json.RawMessage `json:"edge_types"`
	SampleFields []string          `json:"sample_fields"`
}

type rawSnapshot struct {
	Snapshot struct {
		Meta      rawMeta `json:"meta"`
		NodeCount int     `json:"node_count"`
		EdgeCount int     `json:"edge_count"`
	} `json:"snapshot"`
	Nodes   []int64   `json:"nodes"`
	Edges   []int64   `json:"edges"`
	Samples []float64 `json:"samples"`
	Strings []string  `json:"strings"`
}

// V8 parses the .heapsnapshot / .heaptimeline JSON format.
type V8 struct{}

// ParseV8 is V8{}.Parse.
func ParseV8(ctx context.Context, r io.Reader) (*Snapshot, error) { return V8{}.Parse(ctx, r) }

// Parse implements Parser.
func (V8) Parse(ctx context.Context, r io.Reader) (*Snapshot, error) {
	var raw rawSnapshot
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &ParseError{Reason: "decode", Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return build(&raw)
}

func fieldIndex(fields []string) map[string]int {
	m := make(map[string]int, len(fields))
	for i, f := range fields {
		m[f] = i
	}
	return m
}

func enumValues(types []json.RawMessage) ([]string, error) {
	if len(types) == 0 {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(types[0], &values); err != nil {
		return nil, err
	}
	return values, nil
}

func build(raw *rawSnapshot) (*Snapshot, error) {
	meta := raw.Snapshot.Meta
	nf := fieldIndex(meta.NodeFields)
	ef := fieldIndex(meta.EdgeFields)
	for _, f := range []string{"type", "name", "id", "self_size", "edge_count"} {
		if _, ok := nf[f]; !ok {
			return nil, &ParseError{Reason: "missing node field " + f}
		}
	}
	for _, f := range []string{"type", "name_or_index", "to_node"} {
		if _, ok := ef[f]; !ok {
			return nil, &ParseError{Reason: "missing edge field " + f}
		}
	}
	nodeTypes, err := enumValues(meta.NodeTypes)
	if err != nil {
		return nil, &ParseError{Reason: "node types", Cause: err}
	}
	edgeTypes, err := enumValues(meta.EdgeTypes)
	if err != nil {
		return nil, &ParseError{Reason: "edge types", Cause: err}
	}

	nodeStride := len(meta.NodeFields)
	edgeStride := len(meta.EdgeFields)
	if len(raw.Nodes)%nodeStride != 0 {
		return nil, &ParseError{Reason: "node array length"}
	}
	if len(raw.Edges)%edgeStride != 0 {
		return nil, &ParseError{Reason: "edge array length"}
	}

	str := func(i int64) string {
		if i < 0 || int(i) >= len(raw.Strings) {
			return ""
		}
		return raw.Strings[i]
	}
	enum := func(values []string, i int64) string {
		if i < 0 || int(i) >= len(values) {
			return "unknown"
		}
		return values[i]
	}

	traceField, hasTrace := nf["trace_node_id"]
	nodeCount := len(raw.Nodes) / nodeStride
	nodes := make([]Node, nodeCount)
	edgeCursor := 0
	for i := 0; i < nodeCount; i++ {
		base := i * nodeStride
		n := &nodes[i]
		n.Index = i
		n.Type = enum(nodeTypes, raw.Nodes[base+nf["type"]])
		n.Name = str(raw.Nodes[base+nf["name"]])
		n.ID = uint64(raw.Nodes[base+nf["id"]])
		n.SelfSize = raw.Nodes[base+nf["self_size"]]
		if hasTrace {
			n.TraceNodeID = raw.Nodes[base+traceField]
		}
		n.firstEdge = edgeCursor
		n.edgeCount = int(raw.Nodes[base+nf["edge_count"]])
		if n.edgeCount < 0 {
			return nil, &ParseError{Reason: fmt.Sprintf("node %d has negative edge count", i)}
		}
		edgeCursor += n.edgeCount
	}
	if edgeCursor*edgeStride != len(raw.Edges) {
		return nil, &ParseError{Reason: fmt.Sprintf("edge count mismatch: nodes declare %d, array holds %d", edgeCursor, len(raw.Edges)/edgeStride)}
	}

	edges := make([]Edge, edgeCursor)
	for i := range edges {
		base := i * edgeStride
		e := &edges[i]
		e.Type = enum(edgeTypes, raw.Edges[base+ef["type"]])
		nameOrIndex := raw.Edges[base+ef["name_or_index"]]
		if e.Type == "element" || e.Type == "hidden" {
			e.Name = fmt.Sprint(nameOrIndex)
		} else {
			e.Name = str(nameOrIndex)
		}
		to := raw.Edges[base+ef["to_node"]]
		if to < 0 || to%int64(nodeStride) != 0 || to/int64(nodeStride) >= int64(nodeCount) {
			return nil, &ParseError{Reason: fmt.Sprintf("edge %d points outside node array", i)}
		}
		e.To = int(to) / nodeStride
	}

	var samples []Sample
	if len(meta.SampleFields) > 0 && len(raw.Samples) > 0 {
		sf := fieldIndex(meta.SampleFields)
		ts, okTS := sf["timestamp_us"]
		id, okID := sf["last_assigned_id"]
		stride := len(meta.SampleFields)
		if okTS && okID {
			for i := 0; i+stride <= len(raw.Samples); i += stride {
				samples = append(samples, Sample{
					TimestampMs:    raw.Samples[i+ts] / 1000,
					LastAssignedID: uint64(raw.Samples[i+id]),
				})
			}
		}
	}

	return New(nodes, edges, samples), nil
}
