/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command meshcall runs the development relay and places or answers mesh
// calls from the terminal.
//
// Usage:
//
//	meshcall -config meshcall.ini relay
//	meshcall -config meshcall.ini token -user alice -name Alice
//	MESHCALL_TOKEN=... meshcall call -video c1
//	MESHCALL_TOKEN=... meshcall answer
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var (
	configPath = flag.String("config", "", "Path to an ini configuration file")
	showHelp   = flag.Bool("h", false, "Show help")
)

func main() {
	flag.Usage = func() { showUsage(os.Stderr) }
	flag.Parse()

	if *showHelp || flag.NArg() == 0 {
		showUsage(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Args(), *configPath, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads settings and dispatches to a subcommand.
func run(ctx context.Context, args []string, cfgPath string, out io.Writer) error {
	file, err := loadIni(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	settings, err := LoadSettings(file)
	if err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}
	settings.ApplyEnv(os.Getenv)

	logger, closer, err := initLogging(settings, nil)
	if err != nil {
		return err
	}
	defer closer.Close()

	app := &app{settings: settings, logger: logger, out: out}

	command, rest := args[0], args[1:]
	switch command {
	case "relay":
		return app.runRelay(ctx, rest)
	case "token":
		return app.runToken(rest)
	case "call":
		return app.runCall(ctx, rest)
	case "answer":
		return app.runAnswer(ctx, rest)
	default:
		showUsage(os.Stderr)
		return fmt.Errorf("unknown command '%s'", command)
	}
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: meshcall [-config file.ini] <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  relay                 run the development relay")
	fmt.Fprintln(w, "  token -user ID        print a relay token for a user")
	fmt.Fprintln(w, "  call [-video] CHAT    call every member of CHAT")
	fmt.Fprintln(w, "  answer                accept incoming calls until interrupted")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment: MESHCALL_TOKEN, MESHCALL_RELAY_URL")
}
