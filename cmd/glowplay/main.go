// glowplay: LED animation player
//
// glowplay runs compiled glow programs against a light strip, a frame sink
// reached over gRPC, or a log, and manages a local store of programs.
package main

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

const usage = `usage: glowplay <command> [flags]

commands:
  run      play a program
  import   add a program image to the program store
  export   write a stored program to a file
  list     list stored programs
  info     describe a program image
  sim      run a frame sink that logs received frames
  version  print version and exit
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmds := map[string]func([]string) error{
		"run":    runCmd,
		"import": importCmd,
		"export": exportCmd,
		"list":   listCmd,
		"info":   infoCmd,
		"sim":    simCmd,
	}

	name, args := os.Args[1], os.Args[2:]
	switch name {
	case "version", "-version", "--version":
		fmt.Printf("glowplay %s (%s)\n", Version, GitCommit)
		return
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
		return
	}

	cmd, ok := cmds[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}
	if err := cmd(args); err != nil {
		fmt.Fprintf(os.Stderr, "glowplay %s: %v\n", name, err)
		os.Exit(1)
	}
}
