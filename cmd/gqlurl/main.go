package main

import (
	"os"

	"github.com/wundergraph/graphql-url-loader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
