package qga

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent accepts one connection and answers requests using handle,
// replying with the raw JSON it returns for each "execute" name it sees.
func fakeAgent(t *testing.T, sockPath string, handle func(execute string, args json.RawMessage) any) net.Listener {
	t.Helper()
	l, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			var req struct {
				Execute   string          `json:"execute"`
				Arguments json.RawMessage `json:"arguments"`
			}
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			result := handle(req.Execute, req.Arguments)
			reply, _ := json.Marshal(map[string]any{"return": result})
			reply = append(reply, '\n')
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}()
	return l
}

func TestClient_Ping_Succeeds(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "qga.sock")

	l := fakeAgent(t, sockPath, func(execute string, args json.RawMessage) any {
		var a struct {
			ID int64 `json:"id"`
		}
		json.Unmarshal(args, &a)
		return a.ID
	})
	defer l.Close()

	c, err := Dial(context.Background(), sockPath)
	require.NoError(t, err)
	defer c.Close()

	err = c.Ping(context.Background(), 2*time.Second)
	assert.NoError(t, err)
}

func TestClient_GuestExec_DecodesPID(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "qga.sock")

	l := fakeAgent(t, sockPath, func(execute string, args json.RawMessage) any {
		switch execute {
		case "guest-exec":
			return map[string]any{"pid": 4242}
		}
		return nil
	})
	defer l.Close()

	c, err := Dial(context.Background(), sockPath)
	require.NoError(t, err)
	defer c.Close()

	pid, err := c.GuestExec(context.Background(), time.Second, "/bin/true", nil, nil, GuestExecCaptureMode{})
	require.NoError(t, err)
	assert.Equal(t, int64(4242), pid)
}

func TestClient_GuestExecStatus_DecodesExitCode(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "qga.sock")

	l := fakeAgent(t, sockPath, func(execute string, args json.RawMessage) any {
		exitcode := 7
		return map[string]any{"exited": true, "exitcode": exitcode}
	})
	defer l.Close()

	c, err := Dial(context.Background(), sockPath)
	require.NoError(t, err)
	defer c.Close()

	status, err := c.GuestExecStatus(context.Background(), time.Second, 1)
	require.NoError(t, err)
	require.True(t, status.Exited)
	require.NotNil(t, status.Exitcode)
	assert.Equal(t, 7, *status.Exitcode)
}

func TestExecStatus_OutData_DecodesBase64(t *testing.T) {
	status := &ExecStatus{OutDataB64: "aGVsbG8="}
	assert.Equal(t, []byte("hello"), status.OutData())
}

func TestExecStatus_ErrData_EmptyOnBadInput(t *testing.T) {
	status := &ExecStatus{ErrDataB64: "not-valid-base64!!"}
	assert.Empty(t, status.ErrData())
}

func TestClient_Call_TimesOut(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "qga.sock")

	l, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// never reply
		buf := make([]byte, 1024)
		conn.Read(buf)
		select {}
	}()

	c, err := Dial(context.Background(), sockPath)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GuestFileOpen(context.Background(), 100*time.Millisecond, "/tmp/x", "r")
	assert.Error(t, err)
}

func TestClient_Call_HonorsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "qga.sock")

	l, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		select {}
	}()

	c, err := Dial(context.Background(), sockPath)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = c.GuestFileOpen(ctx, 10*time.Second, "/tmp/x", "r")
	assert.ErrorIs(t, err, context.Canceled)
}
