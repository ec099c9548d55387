//go:build linux

package runner_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"codejudge/internal/judge/runner"
	"codejudge/internal/testutil"
)

// alive reports whether pid exists and is not a zombie.
func alive(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	state := stat[i+2]
	return state != 'Z' && state != 'X'
}

func TestRunKillsDetachedChildren(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	body := `sleep 30 </dev/null >/dev/null 2>&1 & echo $! > '` + pidFile + `'; echo hello`

	r := runner.New(runner.Config{Timeout: 10 * time.Second})
	out, err := r.Run(context.Background(), script(t, body), "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "hello\n" {
		t.Fatalf("unexpected output: %q", out)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file failed: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("bad pid %q: %v", raw, err)
	}
	testutil.Eventually(t, 2*time.Second, func() bool { return !alive(pid) }, "background child outlived the run")
}
