package main

import (
	"context"
	"fmt"
	"os"

	"github.com/d70-t/how-to-eurec4a/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "eurec4a: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
