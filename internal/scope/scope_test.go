package scope

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_LIFOOrder(t *testing.T) {
	s := New(nil)
	var order []int
	s.Add(func() { order = append(order, 1) })
	s.Add(func() { order = append(order, 2) })
	s.Add(func() { order = append(order, 3) })

	s.Close()
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestScope_Close_Idempotent(t *testing.T) {
	s := New(nil)
	count := 0
	s.Add(func() { count++ })

	s.Close()
	s.Close()
	assert.Equal(t, 1, count)
}

func TestScope_AddTempPath_Removes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leftover")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	s := New(nil)
	s.AddTempPath(path)
	s.Close()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestScope_AddTempPath_MissingIsNotFatal(t *testing.T) {
	s := New(nil)
	s.AddTempPath(filepath.Join(t.TempDir(), "never-existed"))
	s.Close()
}

type fakeCloser struct {
	closed bool
}

func (f *fakeCloser) Close() error {
	f.closed = true
	return nil
}

func TestScope_AddCloser(t *testing.T) {
	s := New(nil)
	fc := &fakeCloser{}
	s.AddCloser(fc)
	s.Close()
	assert.True(t, fc.closed)
}

func TestScope_AddProcess_ExitsOnSIGTERM(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	s := New(nil)
	exited := s.AddProcess(cmd.Process, time.Second)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scope Close did not return after SIGTERM")
	}

	select {
	case <-exited:
	default:
		t.Fatal("exited channel was not closed by the time Close returned")
	}
}

func TestScope_AddProcess_EscalatesToSIGKILL(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 30")
	require.NoError(t, cmd.Start())

	s := New(nil)
	exited := s.AddProcess(cmd.Process, 50*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scope Close did not escalate to SIGKILL in time")
	}

	select {
	case <-exited:
	default:
		t.Fatal("exited channel was not closed by the time Close returned")
	}
}

func TestScope_AddProcess_ExitedChannelUsableBeforeClose(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())

	s := New(nil)
	exited := s.AddProcess(cmd.Process, time.Second)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("exited channel was not closed after the process exited on its own")
	}

	s.Close()
}

func TestScope_AddProcess_NilIsNoop(t *testing.T) {
	s := New(nil)
	exited := s.AddProcess(nil, time.Second)

	select {
	case <-exited:
	default:
		t.Fatal("nil process should report as already exited")
	}

	s.Close()
}
