package main

import (
	"fmt"
	"runtime"
	"strings"
)

// Version is set at build time via ldflags
var Version = "v0.1.0"

// PrintVersion prints the current version
func PrintVersion() {
	printBanner()
	fmt.Printf("shrinker %s\n", Version)
	fmt.Printf("Runtime: %s/%s %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	if names, err := listEmbeddedConfigs(); err == nil {
		fmt.Printf("Embedded configs: %s\n", strings.Join(names, ", "))
	}
}
