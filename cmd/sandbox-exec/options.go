package main

import (
	"flag"
	"fmt"
	"io"
)

// options are the limits applied to the current process before it execs the
// target command. Zero leaves a limit untouched.
type options struct {
	CPUSeconds  uint64
	MemoryBytes uint64
	FileBytes   uint64
	Processes   uint64
	OpenFiles   uint64
	WorkDir     string
	Seccomp     string
	Command     []string
}

func parseOptions(args []string, errOut io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("sandbox-exec", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.Uint64Var(&opts.CPUSeconds, "cpu", 0, "CPU time limit in seconds")
	fs.Uint64Var(&opts.MemoryBytes, "mem", 0, "address space limit in bytes")
	fs.Uint64Var(&opts.FileBytes, "fsize", 0, "largest file the program may write, in bytes")
	fs.Uint64Var(&opts.Processes, "nproc", 0, "process count limit for the user")
	fs.Uint64Var(&opts.OpenFiles, "nofile", 0, "open file descriptor limit")
	fs.StringVar(&opts.WorkDir, "workdir", "", "directory to change into before exec")
	fs.StringVar(&opts.Seccomp, "seccomp", "", "path to a JSON seccomp profile")
	fs.Usage = func() {
		fmt.Fprintln(errOut, "usage: sandbox-exec [flags] -- program [args...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.Command = fs.Args()
	if len(opts.Command) == 0 {
		return options{}, fmt.Errorf("command is required")
	}
	return opts, nil
}
