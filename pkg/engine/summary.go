package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/graphpatch/pkg/script"
)

// HandlerCount is one row of a plan summary.
type HandlerCount struct {
	HandlerID   string `json:"handler_id"`
	Count       int    `json:"count"`
	Destructive bool   `json:"destructive"`
}

// Summarize groups actions by handler, most frequent first. Handlers with
// the same count keep the order in which they first appear in the script.
func Summarize(actions []script.Action) []HandlerCount {
	index := make(map[string]int)
	var rows []HandlerCount
	for _, a := range actions {
		i, ok := index[a.HandlerID]
		if !ok {
			i = len(rows)
			index[a.HandlerID] = i
			rows = append(rows, HandlerCount{HandlerID: a.HandlerID})
		}
		rows[i].Count++
		rows[i].Destructive = rows[i].Destructive || a.Destructive
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Count > rows[j].Count })
	return rows
}

// RenderSummary renders the human-readable plan summary.
func RenderSummary(targetID string, actions []script.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s planned for target %s\n", plural(len(actions), "action"), targetID)

	destructive := false
	for _, row := range Summarize(actions) {
		fmt.Fprintf(&b, "  %4d  %s", row.Count, row.HandlerID)
		if row.Destructive {
			b.WriteString("  [destructive]")
			destructive = true
		}
		b.WriteByte('\n')
	}
	if destructive {
		b.WriteString("This patch contains destructive actions and must be applied with --allow-destructive.\n")
	}
	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
