// Command btm is the command surface of spec.md §4.6: inject, list,
// extract, and verify payload slots against Mach-O, ELF, and PE
// executables, dispatching through the Container Abstraction and, for
// compressed stubs, the Stub Manager's extract/repack cycle.
package main

import (
	"flag"
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 0
	}

	var err error
	switch args[0] {
	case "inject":
		err = runInject(args[1:])
	case "list":
		err = runList(args[1:])
	case "extract":
		err = runExtract(args[1:])
	case "verify":
		err = runVerify(args[1:])
	case "version", "--version", "-v":
		fmt.Println(version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "btm: unknown subcommand %q\n", args[0])
		printUsage()
		return exitInvalidArgs
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "btm: %v\n", err)
		return codeFor(err)
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: btm <command> [arguments]

commands:
  inject <input> <output> [flags]   embed SEA/VFS payloads into a host binary
  list <input>                      list payload slots present in a binary
  extract <input> <name> <output>   copy a payload slot's bytes to a file
  verify <input> <name>             confirm a payload slot is present and non-empty
  version                           print the version and exit
  help                              print this message`)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
