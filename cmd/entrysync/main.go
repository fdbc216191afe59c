package main

import (
	"context"
	"fmt"
	"os"

	"github.com/unkn0wn-root/entrysync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "entrysync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
