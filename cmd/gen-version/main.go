// Code generation for git-derived version information embedded in the horta server.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	// Name of file to output with Go version code
	outputfile = flag.String("o", "", "")

	// Package of the generated file.
	pkgName = flag.String("pkg", "server", "")

	// Display usage if true.
	showHelp = flag.Bool("help", false, "")
)

const helpMessage = `
horta-gen-version calls git to generate Go code with source code version info.

Usage: horta-gen-version [-pkg server] -o version.go

      -pkg        =string   Package name of the generated file.
  -h, -help       (flag)    Show help message

`

const code = `// Code generated by horta-gen-version. DO NOT EDIT.

package %s

func init() {
	gitVersion = %q
}
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if !strings.HasSuffix(*outputfile, ".go") {
		fmt.Printf("The %q is required for this program\n", "-o foo.go")
		os.Exit(1)
	}

	gitPath, err := exec.LookPath("git")
	if err != nil {
		fmt.Printf("Unable to find git command; alter PATH?\nError: %v\n", err)
		os.Exit(1)
	}
	out, err := exec.Command(gitPath, "describe", "--abbrev=5", "--tags", "--always", "--dirty").Output()
	if err != nil {
		out = []byte("notag")
	}

	goCode := fmt.Sprintf(code, *pkgName, strings.TrimSpace(string(out)))
	if err := os.WriteFile(*outputfile, []byte(goCode), 0644); err != nil {
		fmt.Printf("Error saving go code: %v\n", err)
		os.Exit(1)
	}
}
