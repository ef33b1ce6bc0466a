package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/arbor/pkg/domain"
	fsm "github.com/aretw0/arbor/pkg/graph"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
// Entries are state paths ("Root/Combat/Attack").
type GraphOverlay struct {
	VisitedStates []string
	ActiveStates  []string
}

// GenerateMermaid produces a Mermaid flowchart of a compiled graph. Nested machines
// become subgraphs. It applies semantic styling:
// - Initial: ((Circle))
// - End state: ([Stadium])
// - Conduit: {{Hexagon}}
// - Reference: [[Subroutine]]
// - Default: [Rectangle]
// Transitions that are never polled (event driven or without a condition) are dotted.
// It also applies overlay styles (Visited/Active) if provided.
func GenerateMermaid(g *fsm.Graph, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	writeMachine(&sb, g, g.Root(), "    ")

	for i := range g.NumTransitions() {
		t := g.Transition(domain.TransitionID(i))
		from := sanitizeMermaidID(g.State(t.From).Path)
		to := sanitizeMermaidID(g.State(t.To).Path)

		dotted := t.AlwaysFalse || !t.CanEvaluate
		var labels []string
		if t.FromAnyState {
			labels = append(labels, "any")
		}
		if t.Priority != 0 {
			labels = append(labels, fmt.Sprintf("p%d", t.Priority))
		}
		if t.RunParallel {
			labels = append(labels, "parallel")
		}

		arrow := "-->"
		if dotted {
			arrow = "-.->"
		}
		if len(labels) > 0 {
			label := strings.Join(labels, " ")
			arrow = fmt.Sprintf("-- \"%s\" -->", label)
			if dotted {
				arrow = fmt.Sprintf("-. \"%s\" .->", label)
			}
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", from, arrow, to))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef active fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, p := range overlay.VisitedStates {
			safeID := sanitizeMermaidID(p)
			if !seen[safeID] && safeID != "" {
				seen[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}
		for _, p := range overlay.ActiveStates {
			if safeID := sanitizeMermaidID(p); safeID != "" {
				sb.WriteString(fmt.Sprintf("    class %s active;\n", safeID))
			}
		}
	}

	return sb.String()
}

func writeMachine(sb *strings.Builder, g *fsm.Graph, m domain.StateID, indent string) {
	for _, id := range g.State(m).States {
		s := g.State(id)
		safeID := sanitizeMermaidID(s.Path)
		label := strings.ReplaceAll(s.Name, "\"", "'")

		if s.Kind == fsm.KindMachine {
			sb.WriteString(fmt.Sprintf("%ssubgraph %s[\"%s\"]\n", indent, safeID, label))
			writeMachine(sb, g, id, indent+"    ")
			sb.WriteString(indent + "end\n")
			continue
		}

		opener, closer := "[", "]"
		switch {
		case s.Kind == fsm.KindConduit:
			opener, closer = "{{", "}}"
		case s.Kind == fsm.KindReference:
			opener, closer = "[[", "]]"
		case s.Initial:
			opener, closer = "((", "))"
		case s.EndState:
			opener, closer = "([", "])"
		}
		sb.WriteString(fmt.Sprintf("%s%s%s\"%s\"%s\n", indent, safeID, opener, label, closer))
	}
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
