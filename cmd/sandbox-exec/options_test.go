package main

import (
	"io"
	"reflect"
	"testing"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-cpu=5", "-mem", "268435456", "-seccomp", "p.json", "--", "./main", "-x"}, io.Discard)
	if err != nil {
		t.Fatalf("parse options failed: %v", err)
	}
	if opts.CPUSeconds != 5 || opts.MemoryBytes != 268435456 {
		t.Fatalf("unexpected limits: %+v", opts)
	}
	if opts.Seccomp != "p.json" {
		t.Fatalf("unexpected seccomp profile: %q", opts.Seccomp)
	}
	if !reflect.DeepEqual(opts.Command, []string{"./main", "-x"}) {
		t.Fatalf("unexpected command: %v", opts.Command)
	}
}

func TestParseOptionsRequiresCommand(t *testing.T) {
	if _, err := parseOptions([]string{"-cpu=1", "--"}, io.Discard); err == nil {
		t.Fatalf("expected error without command")
	}
}

func TestParseOptionsRejectsBadNumber(t *testing.T) {
	if _, err := parseOptions([]string{"-cpu=abc", "--", "true"}, io.Discard); err == nil {
		t.Fatalf("expected error for non-numeric limit")
	}
}
