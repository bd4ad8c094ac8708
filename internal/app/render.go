package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itshop/voiceqa/internal/ipc"
	"github.com/itshop/voiceqa/internal/session"
)

func decodeOutcome(resp ipc.Response) session.Outcome {
	var outcome session.Outcome
	if len(resp.Result) == 0 {
		return outcome
	}
	if err := json.Unmarshal(resp.Result, &outcome); err != nil {
		return session.Outcome{Error: fmt.Sprintf("unreadable result: %v", err)}
	}
	return outcome
}

// renderStatus prints the snapshot the way the shop page shows it: phase and
// status line, then whatever the last interaction produced.
func renderStatus(resp ipc.Response, outcome session.Outcome) string {
	var b strings.Builder

	state := resp.State
	if state == "" {
		state = "idle"
	}
	b.WriteString(state)
	b.WriteByte('\n')
	writeField(&b, "status", resp.Message)
	writeField(&b, "transcript", outcome.Transcript)
	writeField(&b, "answer", outcome.Answer)
	writeField(&b, "error", outcome.Error)

	if len(outcome.Matches) > 0 {
		b.WriteString("matches:\n")
		for _, item := range outcome.Matches {
			b.WriteString("  - ")
			b.WriteString(renderItem(item))
			b.WriteByte('\n')
			if image := strings.TrimSpace(item.Images()); image != "" {
				fmt.Fprintf(&b, "    image: %s\n", image)
			}
		}
	}
	return b.String()
}

func renderItem(item session.CatalogItem) string {
	name := item.Name()
	if name == "" {
		name = "(unnamed)"
	}
	if price := item.Price(); price != "" {
		return fmt.Sprintf("%s: ราคา %s บาท", name, price)
	}
	return name
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}
