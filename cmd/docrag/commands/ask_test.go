package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/54b3r/docrag/internal/engine"
)

func TestPrintAnswer(t *testing.T) {
	t.Parallel()

	ans := &engine.Answer{
		Text:    "Two days per month.",
		Sources: []engine.Source{{Score: 0.9, Text: "Employees accrue..."}},
	}

	var buf bytes.Buffer
	printAnswer(&buf, ans, false)
	if got := buf.String(); got != "Two days per month.\n" {
		t.Errorf("without sources got %q", got)
	}

	buf.Reset()
	printAnswer(&buf, ans, true)
	if !strings.Contains(buf.String(), "[1] (0.900) Employees accrue...") {
		t.Errorf("with sources got %q", buf.String())
	}
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	for _, name := range []string{"serve", "ingest", "ask", "version"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (%v)", name, err)
		}
	}
}
