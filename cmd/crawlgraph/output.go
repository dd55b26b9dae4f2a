package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/groblegark/crawlgraph/internal/client"
	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printRunsTable(runs []*model.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs.")
		return
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tORIGIN\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.ID,
			ui.RenderStatus(string(r.Status)),
			ui.Truncate(r.TargetOrigin, 48),
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
}

// printGraph renders the run's graph as an adjacency listing: each node with
// its URL and depths, then the outgoing edges recorded from it.
func printGraph(graph *client.Graph) {
	if len(graph.Nodes) == 0 {
		fmt.Println("No nodes discovered.")
		return
	}

	outgoing := make(map[string][]*model.Edge)
	for _, e := range graph.Edges {
		outgoing[e.FromNodeID] = append(outgoing[e.FromNodeID], e)
	}

	urlWidth := ui.Width() - 24
	for _, n := range graph.Nodes {
		fmt.Printf("%s  %s\n", ui.RenderAccent(n.ID), ui.Truncate(n.URL, urlWidth))
		fmt.Printf("    %s\n", ui.RenderMuted(fmt.Sprintf("route %d  modal %d  interaction %d", n.RouteDepth, n.ModalDepth, n.InteractionDepth)))
		for _, e := range outgoing[n.ID] {
			label := string(e.Action.Type)
			if t := e.Action.Target(); t != "" {
				label += " " + t
			}
			if e.Intent != "" {
				label += "  " + ui.RenderMuted("("+e.Intent+")")
			}
			if e.Outcome == model.OutcomeSuccess {
				fmt.Printf("      %s -> %s\n", label, ui.RenderAccent(e.ToNodeID))
			} else {
				fmt.Printf("      %s\n", ui.RenderMuted(fmt.Sprintf("%s failed: %s", label, e.Error)))
			}
		}
	}
	fmt.Printf("\n%d nodes, %d edges\n", len(graph.Nodes), len(graph.Edges))
}
