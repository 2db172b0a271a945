// Package main provides the CLI entry point for BBVM.
//
// Usage:
//
//	bbvm run program.bb             # Assemble and execute
//	bbvm run -value program.bb      # Also print RAX when the program exits
//	bbvm compile program.bb         # Assemble to bytecode (.bbc)
//	bbvm exec program.bbc           # Execute compiled bytecode
//	bbvm disasm program.bbc         # Disassemble bytecode
//	bbvm profile -plot program.bb   # Record a tick trace
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errFault is returned after a runtime fault has been rendered to stderr.
var errFault = errors.New("program faulted")

// cli holds the streams every subcommand reads and writes.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := c.run(os.Args[1:]); err != nil {
		if !errors.Is(err, errFault) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func (c *cli) run(args []string) error {
	if len(args) < 1 {
		return c.printUsage()
	}

	var err error
	switch cmd := args[0]; cmd {
	case "run":
		err = c.runCommand(args[1:])
	case "compile":
		err = c.compileCommand(args[1:])
	case "exec":
		err = c.execCommand(args[1:])
	case "disasm":
		err = c.disasmCommand(args[1:])
	case "repl":
		err = c.replCommand(args[1:])
	case "profile":
		err = c.profileCommand(args[1:])
	case "version":
		fmt.Fprintf(c.stdout, "bbvm version %s\n", version)
		if commit != "none" {
			fmt.Fprintf(c.stdout, "  commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Fprintf(c.stdout, "  built:  %s\n", date)
		}
	case "help", "-h", "--help":
		err = c.printUsage()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

// newFlagSet returns a flag set that reports parse errors instead of
// exiting, so every subcommand can run in-process.
func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) printUsage() error {
	fmt.Fprintln(c.stdout, `BBVM - byte-addressed bytecode virtual machine

Usage:
  bbvm <command> [arguments]

Commands:
  run <file>            Assemble (or load a .bbc) and execute
  compile <file.bb>     Assemble to bytecode (.bbc)
  exec <file.bbc>       Execute compiled bytecode
  disasm <file>         Disassemble source or bytecode
  profile <file>        Execute and record a tick trace
  repl                  Start interactive REPL
  version               Print version information
  help                  Show this help message

Run and Exec Options:
  -config <file>        Configuration file (default: nearest bbvm.toml)
  -max-ticks <n>        Instruction budget, overrides run.max-ticks
  -timeout <d>          Wall clock limit, overrides run.timeout
  -input <text>         Text queued for the stdin built-in
  -report <file>        Write a JSON run report
  -log-level <level>    debug, info, warn or error
  -log-json <file>      Also append JSON log records to file
  -value                Print RAX when the program exits
  -v                    Verbose output

Compile Options:
  -o <file>             Output file (default: input with .bbc extension)
  -strip                Drop debug information
  -v                    Verbose output

Disasm Options:
  -o <file>             Output file (default: stdout)

Profile Options:
  -limit <n>            Keep at most n samples (default: all)
  -o <file>             Write the trace (.csv, .json, .jsonl or .parquet)
  -format <csv|json>    Trace format on stdout (default: csv)
  -plot                 Plot stack depth per tick
  -height <n>           Plot height in rows
  -counts               Print an opcode count table
  -trace <file>         Analyse an existing trace instead of running

REPL Options:
  -edit                 Start in edit mode
  -config <file>        Configuration file

Examples:
  bbvm run -value program.bb
  bbvm compile -o program.bbc program.bb
  bbvm exec program.bbc
  bbvm profile -plot -counts program.bb
  bbvm profile -o trace.parquet program.bb`)
	return nil
}
