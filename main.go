package main

import (
	"fmt"
	"os"

	"github.com/tphakala/threatwatch/cmd"
	"github.com/tphakala/threatwatch/internal/conf"
)

func main() {
	settings := &conf.Settings{}
	if err := cmd.RootCommand(settings).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
