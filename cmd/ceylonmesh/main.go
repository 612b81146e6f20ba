// Command ceylonmesh runs a single agent, admin or member, in a workspace.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD)" -o ceylonmesh ./cmd/ceylonmesh
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		printUsage()
		osExit(1)
		return
	}

	switch os.Args[1] {
	case "admin":
		osExit(runAgentProcess("admin", os.Args[2:]))
	case "member":
		osExit(runAgentProcess("member", os.Args[2:]))
	case "version", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printVersion() {
	fmt.Printf("ceylonmesh %s (%s)\n", version, commit)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func goVersion() string { return runtime.Version() }

func printUsage() {
	fmt.Println("Usage: ceylonmesh <command> [options]")
	fmt.Println()
	fmt.Println("  admin   [--config path] | [--name n --workspace id --listen-port p ...]")
	fmt.Println("  member  [--config path] | [--name n --workspace id --admin-peer id --admin-addr host:port ...]")
	fmt.Println()
	fmt.Println("Common flags: --key-file, --buffer-size, --rendezvous-namespace, --mdns,")
	fmt.Println("--state-file, --metrics-addr, --echo")
	fmt.Println()
	fmt.Println("  version   Show version information")
}
