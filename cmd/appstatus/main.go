package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pendergraft/appstatus/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		if errors.Is(err, cli.ErrDiscrepancies) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
