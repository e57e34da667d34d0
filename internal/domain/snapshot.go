package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Snapshot is the minimal data needed to diff two versions of an entry.
type Snapshot struct {
	Kind    Kind
	Entry   int64
	Version int64
	Status  Status
	Fields  map[string]any
}

// NewSnapshot captures a record for diffing.
func NewSnapshot(r Record) Snapshot {
	return Snapshot{
		Kind:    r.Kind,
		Entry:   r.Entry,
		Version: r.Version,
		Status:  r.Status,
		Fields:  r.CloneFields(),
	}
}

// CanonicalText flattens the snapshot into deterministic lines suitable for
// line diffing.
func (s Snapshot) CanonicalText() []string {
	lines := []string{
		fmt.Sprintf("Kind: %s", s.Kind),
		fmt.Sprintf("Entry: %d", s.Entry),
		fmt.Sprintf("Version: %d", s.Version),
		fmt.Sprintf("Status: %s", s.Status),
		"Fields:",
	}

	if len(s.Fields) == 0 {
		return append(lines, "  (empty)")
	}

	keys := make([]string, 0, len(s.Fields))
	for key := range s.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", key, formatFieldValue(s.Fields[key])))
	}
	return lines
}

func formatFieldValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", typed)
	case Date:
		return typed.String()
	case *Date:
		if typed == nil {
			return "null"
		}
		return typed.String()
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// DiffSnapshots produces a unified diff between two versions of an entry.
// A nil side stands for "no version", as with diffs against a deleted entry.
func DiffSnapshots(baseLabel string, base *Snapshot, targetLabel string, target *Snapshot) string {
	ops := diffLines(snapshotLines(base), snapshotLines(target))

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	for _, op := range ops {
		builder.WriteString(op.prefix)
		builder.WriteString(op.line)
		builder.WriteString("\n")
	}
	return builder.String()
}

func snapshotLines(s *Snapshot) []string {
	if s == nil {
		return nil
	}
	return s.CanonicalText()
}

type diffOp struct {
	prefix string
	line   string
}

// diffLines walks a longest-common-subsequence table to emit keep/remove/add
// operations in order.
func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		if base[i] == target[j] {
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
			continue
		}
		if dp[i+1][j] >= dp[i][j+1] {
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		} else {
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
	}
	return ops
}
