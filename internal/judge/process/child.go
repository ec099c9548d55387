package process

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Child is a started command whose output is copied from OS pipes. Wait
// returns once the child itself exits, even if something it forked still
// holds the write end of a pipe.
type Child struct {
	cmd     *exec.Cmd
	readers []*os.File
	copies  sync.WaitGroup
}

// Start wires stdout and stderr through OS pipes and starts cmd. A nil writer
// discards the stream. Start errors come back unwrapped from cmd.Start.
func Start(cmd *exec.Cmd, stdout, stderr io.Writer) (*Child, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, err
	}
	// The child holds its own copies of the write ends.
	closeAll(outW, errW)

	c := &Child{cmd: cmd, readers: []*os.File{outR, errR}}
	c.copies.Add(2)
	go c.drain(stdout, outR)
	go c.drain(stderr, errR)
	return c, nil
}

// Wait reaps the child, kills whatever is left in its process group and
// collects the remaining output. The error is the one from cmd.Wait.
func (c *Child) Wait() error {
	waitErr := c.cmd.Wait()
	_ = KillGroup(c.cmd.Process.Pid)

	done := make(chan struct{})
	go func() {
		c.copies.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitDelay):
		// A descendant escaped the group and still holds a pipe.
		closeAll(c.readers...)
		<-done
	}
	return waitErr
}

func (c *Child) drain(w io.Writer, r *os.File) {
	defer c.copies.Done()
	if w == nil {
		w = io.Discard
	}
	_, _ = io.Copy(w, r)
	_ = r.Close()
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
