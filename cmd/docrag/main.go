// Command docrag is a document question-answering service: upload a file,
// and ask questions answered from its contents. It runs as an HTTP server
// (docrag serve) or as one-shot CLI commands.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docrag/cmd/docrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
