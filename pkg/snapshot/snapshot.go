package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the concrete type of a Node.
type Kind int

const (
	KindNumber Kind = iota + 1
	KindMapping
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Node is one element of a snapshot tree. The set of implementations is
// closed: Number, Mapping and Sequence.
type Node interface {
	Kind() Kind
	sealed()
}

// Number is a numeric leaf.
type Number float64

// Mapping is a string-keyed branch.
type Mapping map[string]Node

// Sequence is an index-addressed branch.
type Sequence []Node

func (Number) Kind() Kind   { return KindNumber }
func (Mapping) Kind() Kind  { return KindMapping }
func (Sequence) Kind() Kind { return KindSequence }

func (Number) sealed()   {}
func (Mapping) sealed()  {}
func (Sequence) sealed() {}

// Snapshot is a point-in-time metric tree for one target.
type Snapshot struct {
	root    Mapping
	takenAt time.Time
}

// TakenAt returns the time the snapshot was produced.
func (s *Snapshot) TakenAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.takenAt
}

// Lookup resolves a dotted path to a numeric value.
func (s *Snapshot) Lookup(path string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	return Lookup(s.root, path)
}

// Len returns the number of numeric leaves in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Flatten())
}

// Flatten returns every numeric leaf keyed by its dotted path.
func (s *Snapshot) Flatten() map[string]float64 {
	out := make(map[string]float64)
	if s == nil {
		return out
	}
	flatten(s.root, "", out)
	return out
}

// Lookup resolves path against n. See the package documentation for the
// addressing rules.
func Lookup(n Node, path string) (float64, bool) {
	if path == "" {
		return 0, false
	}
	cur := n
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return 0, false
		}
		if idx, ok := index(seg); ok {
			seq, isSeq := cur.(Sequence)
			if !isSeq || idx >= len(seq) {
				return 0, false
			}
			cur = seq[idx]
			continue
		}
		m, isMap := cur.(Mapping)
		if !isMap {
			return 0, false
		}
		next, found := m[seg]
		if !found {
			return 0, false
		}
		cur = next
	}
	num, ok := cur.(Number)
	if !ok {
		return 0, false
	}
	v := float64(num)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// index reports whether seg is a sequence index (all ASCII digits).
func index(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

func flatten(n Node, prefix string, out map[string]float64) {
	join := func(seg string) string {
		if prefix == "" {
			return seg
		}
		return prefix + "." + seg
	}
	switch v := n.(type) {
	case Number:
		if prefix != "" {
			out[prefix] = float64(v)
		}
	case Mapping:
		for k, child := range v {
			flatten(child, join(k), out)
		}
	case Sequence:
		for i, child := range v {
			flatten(child, join(strconv.Itoa(i)), out)
		}
	}
}

// Builder assembles a Snapshot from dotted-path assignments.
// Build hands the tree to the snapshot; the Builder must not be used after.
type Builder struct {
	root Mapping
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{root: Mapping{}}
}

// Set stores v at path, creating intermediate mappings and sequences as
// needed. A sequence is padded with empty mappings up to the requested index.
// Empty paths, paths starting with an index, and non-finite values are
// ignored.
func (b *Builder) Set(path string, v float64) *Builder {
	if path == "" || math.IsNaN(v) || math.IsInf(v, 0) {
		return b
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return b
		}
	}
	if _, isIdx := index(segs[0]); isIdx {
		return b
	}
	if m, ok := setIn(b.root, segs, v).(Mapping); ok {
		b.root = m
	}
	return b
}

// SetAll stores every path/value pair from values.
func (b *Builder) SetAll(values map[string]float64) *Builder {
	for p, v := range values {
		b.Set(p, v)
	}
	return b
}

// Build returns the finished snapshot stamped with at.
func (b *Builder) Build(at time.Time) *Snapshot {
	return &Snapshot{root: b.root, takenAt: at}
}

func setIn(n Node, segs []string, v float64) Node {
	if len(segs) == 0 {
		return Number(v)
	}
	seg := segs[0]
	if idx, ok := index(seg); ok {
		seq, _ := n.(Sequence)
		for len(seq) <= idx {
			seq = append(seq, Mapping{})
		}
		seq[idx] = setIn(seq[idx], segs[1:], v)
		return seq
	}
	m, ok := n.(Mapping)
	if !ok {
		m = Mapping{}
	}
	m[seg] = setIn(m[seg], segs[1:], v)
	return m
}

// FromMap converts loosely-typed nested data (as produced by encoding/json)
// into a Snapshot. Non-numeric leaves are dropped.
func FromMap(data map[string]any, at time.Time) *Snapshot {
	root, _ := fromValue(data).(Mapping)
	if root == nil {
		root = Mapping{}
	}
	return &Snapshot{root: root, takenAt: at}
}

func fromValue(v any) Node {
	switch x := v.(type) {
	case map[string]any:
		m := make(Mapping, len(x))
		for k, child := range x {
			if n := fromValue(child); n != nil {
				m[k] = n
			}
		}
		return m
	case []any:
		seq := make(Sequence, 0, len(x))
		for _, child := range x {
			n := fromValue(child)
			if n == nil {
				n = Mapping{}
			}
			seq = append(seq, n)
		}
		return seq
	case float64:
		return Number(x)
	case float32:
		return Number(x)
	case int:
		return Number(x)
	case int64:
		return Number(x)
	case uint64:
		return Number(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		return Number(f)
	default:
		return nil
	}
}

type wireSnapshot struct {
	TakenAt time.Time      `json:"taken_at"`
	Metrics map[string]any `json:"metrics"`
}

// MarshalJSON encodes the snapshot as {"taken_at": ..., "metrics": {...}}.
// A nil snapshot encodes as null.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	w := wireSnapshot{TakenAt: s.takenAt, Metrics: map[string]any{}}
	for k, n := range s.root {
		w.Metrics[k] = toValue(n)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("snapshot: decode: %w", err)
	}
	decoded := FromMap(w.Metrics, w.TakenAt)
	*s = *decoded
	return nil
}

func toValue(n Node) any {
	switch v := n.(type) {
	case Number:
		return float64(v)
	case Mapping:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = toValue(child)
		}
		return out
	case Sequence:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = toValue(child)
		}
		return out
	default:
		return nil
	}
}
