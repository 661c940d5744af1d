// Package main is the entry point for shrinker.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/config"
	"github.com/compresr/shrinker/internal/monitoring"
)

// ANSI color codes
const (
	compresrGreen = "\033[38;2;23;128;68m" // #178044
	bold          = "\033[1m"
	dim           = "\033[2m"
	red           = "\033[0;31m"
	reset         = "\033[0m"
)

// ASCII banner for startup
const banner = `
     _          _       _
 ___| |__  _ __(_)_ __ | | _____ _ __
/ __| '_ \| '__| | '_ \| |/ / _ \ '__|
\__ \ | | | |  | | | | |   <  __/ |
|___/_| |_|_|  |_|_| |_|_|\_\___|_|
`

func printBanner() {
	fmt.Print(compresrGreen + bold + banner + reset + "\n")
}

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	// Try loading from ~/.config/shrinker/.env first
	configEnv := filepath.Join(homeDir, ".config", "shrinker", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Also load local .env (can override)
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve", "start":
		os.Exit(runServe(os.Args[2:]))
	case "compress":
		os.Exit(runCompress(os.Args[2:]))
	case "version", "-v", "--version":
		PrintVersion()
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printHelp()
		os.Exit(2)
	}
}

// resolveConfig resolves the config for a command.
// Checks: user flag -> filesystem locations -> embedded config.
// Returns raw bytes and source description.
func resolveConfig(userConfig string) ([]byte, string, error) {
	// If user specified a config path, read it directly
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	homeDir, _ := os.UserHomeDir()

	// Search filesystem in order of preference
	searchPaths := []string{}
	if homeDir != "" {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", "shrinker", "shrinker.yaml"))
	}
	searchPaths = append(searchPaths, "configs/shrinker.yaml", "shrinker.yaml")

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	// Fall back to embedded config
	data, err := getEmbeddedConfig(defaultConfigName)
	if err != nil {
		return nil, "", fmt.Errorf("no config file found. Specify --config path")
	}
	return data, "(embedded) " + defaultConfigName + ".yaml", nil
}

// loadConfig resolves and parses the configuration.
func loadConfig(userConfig string) (*config.Config, string, error) {
	data, source, err := resolveConfig(userConfig)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, source, err
	}
	return cfg, source, nil
}

// setupLogging configures the global zerolog logger from the monitoring
// section. debug forces debug level.
func setupLogging(cfg monitoring.LoggerConfig, debug bool) {
	if debug {
		cfg.Level = "debug"
	}
	monitoring.Global(cfg)
	log.Debug().Str("level", cfg.Level).Str("format", cfg.Format).Msg("logging configured")
}

// printHelp prints usage information
func printHelp() {
	printBanner()
	fmt.Println("shrinker - image compression pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  shrinker <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Start the HTTP service")
	fmt.Println("  compress     Compress image files from disk")
	fmt.Println("  version      Print version information")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Server Options:")
	fmt.Println("  shrinker serve [--config FILE] [--debug] [--no-banner]")
	fmt.Println()
	fmt.Println("Compress Options:")
	fmt.Println("  shrinker compress [--config FILE] [-level low|medium|high] [-format png|jpg]")
	fmt.Println("                    [-o DIR] [-suggest] [--debug] FILES...")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  shrinker serve                           Start on the configured port")
	fmt.Println("  shrinker compress -level high *.jpg      Compress aggressively into .")
	fmt.Println("  shrinker compress -format jpg -o out a.png")
	fmt.Println("                                           Convert to JPG into ./out")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  .env files are read from ~/.config/shrinker/.env and the working directory.")
}
