package main

import (
	"context"
	"os"

	"github.com/absmach/fedlet/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
