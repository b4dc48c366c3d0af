package main

import (
	"fmt"
	"os"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		runServe()
	case "mcp":
		runMCP()
	case "install":
		runInstall(args)
	case "update":
		runUpdate(args)
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Print(`docket: durable document-analysis orchestration

Usage:
  docket [command]

Commands:
  serve     run the HTTP API and document watcher (default)
  mcp       run as an MCP server over stdio
  install   write ~/.docket/settings.json and start (or reload) the server
  update    self-update from GitHub releases
  version   print the version

Configuration is layered: defaults, then ~/.docket/settings.json, then
DOCKET_* environment variables.
`)
}
