package main

import (
	"flag"
	"fmt"
	"os"

	"ferron/internal/server"
)

var appVersion = "dev"

func main() {
	var (
		showVersion bool
		configPath  string
	)

	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&configPath, "config", "/etc/ferron.conf", "path to the Ferron configuration file")
	flag.Parse()

	if showVersion {
		fmt.Printf("ferron %s\n", appVersion)
		os.Exit(0)
	}

	if err := server.Run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ferron: %v\n", err)
		os.Exit(1)
	}
}
