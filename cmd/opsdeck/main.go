// Opsdeck is a caching data plane for operations dashboards: it polls backend
// ops APIs, keeps a dual-layer cache (in-memory plus SQLite fallback), and
// serves the dashboard instantly even when the backends are down.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/opsdeck.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("opsdeck", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
