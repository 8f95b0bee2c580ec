package mpv

import (
	"bufio"
	"encoding/json"
	"net"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	maxRetries   = 3
	retryDelay   = 100 * time.Millisecond
	ioDeadline   = time.Second
	errSuccess   = "success"
	errNoProp    = "property unavailable"
	maxLineBytes = 1 << 16
)

// ErrPropertyUnavailable is returned while mpv has no value for a property,
// e.g. time-pos before a file has started.
var ErrPropertyUnavailable = errors.New("mpv property unavailable")

// ipcCommand is the JSON structure sent to mpv's IPC socket.
type ipcCommand struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// ipcResponse is the JSON structure received from mpv's IPC socket.
// Lines carrying Event are asynchronous notifications.
type ipcResponse struct {
	Data      any    `json:"data"`
	Error     string `json:"error"`
	RequestID int64  `json:"request_id"`
	Event     string `json:"event"`
}

var requestSeq atomic.Int64

// sendCommand sends a JSON IPC command, retrying transient connection errors.
func (p *Player) sendCommand(command ...any) (any, error) {
	p.ipcMu.Lock()
	defer p.ipcMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
		}
		result, err := doSendCommand(p.socketPath, command)
		if err == nil || errors.Is(err, ErrPropertyUnavailable) {
			return result, err
		}
		lastErr = err
		var mpvErr *commandError
		if errors.As(err, &mpvErr) {
			break
		}
	}
	return nil, errors.Wrapf(lastErr, "ipc command %v failed", command[0])
}

// commandError is an error reported by mpv itself, which retrying cannot fix.
type commandError struct{ msg string }

func (e *commandError) Error() string { return "mpv error: " + e.msg }

// doSendCommand performs a single IPC command attempt.
func doSendCommand(socketPath string, command []any) (any, error) {
	conn, err := net.DialTimeout("unix", socketPath, ioDeadline)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	defer conn.Close()

	id := requestSeq.Add(1)
	payload, err := json.Marshal(ipcCommand{Command: command, RequestID: id})
	if err != nil {
		return nil, errors.Wrap(err, "marshal")
	}

	if err := conn.SetDeadline(time.Now().Add(ioDeadline)); err != nil {
		return nil, errors.Wrap(err, "set deadline")
	}
	// mpv requires newline-delimited JSON
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, errors.Wrap(err, "write")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		var resp ipcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			return nil, errors.Wrap(err, "unmarshal")
		}
		if resp.Event != "" || resp.RequestID != id {
			continue
		}
		switch resp.Error {
		case errSuccess, "":
			return resp.Data, nil
		case errNoProp:
			return nil, ErrPropertyUnavailable
		default:
			return nil, &commandError{msg: resp.Error}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read")
	}
	return nil, errors.New("read: connection closed before reply")
}
