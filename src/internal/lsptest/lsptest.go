// Package lsptest provides a scriptable mock language server for tests.
// The server is compiled on demand, speaks real Content-Length framing on
// stdio, and records every message it receives to a log file so tests can
// assert on the exact wire traffic.
package lsptest

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// Environment variables interpreted by the mock server binary.
const (
	// EnvLogFile names the file the server appends received payloads to,
	// one JSON message per line.
	EnvLogFile = "MOCK_LSP_LOG"
	// EnvPublishDiagnostics makes the server push one diagnostic for every
	// document it sees opened.
	EnvPublishDiagnostics = "MOCK_LSP_DIAG"
	// EnvProbeClient makes the server issue its own requests to the client
	// right after the initialize handshake.
	EnvProbeClient = "MOCK_LSP_PROBE"
	// EnvResponseDelayMS delays responses to feature requests.
	EnvResponseDelayMS = "MOCK_LSP_DELAY_MS"
)

// BuildServer compiles the mock server and returns the binary path. The
// binary lives in the test's temp dir and is cleaned up with it.
func BuildServer(t testing.TB) string {
	t.Helper()

	dir := t.TempDir()
	src := filepath.Join(dir, "mock_lsp_server.go")
	if err := os.WriteFile(src, []byte(serverSource), 0o644); err != nil {
		t.Fatalf("writing mock server source: %v", err)
	}

	bin := filepath.Join(dir, "mock_lsp_server")
	cmd := exec.Command("go", "build", "-o", bin, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building mock server: %v\n%s", err, out)
	}
	return bin
}

// Message is one recorded client-to-server payload.
type Message struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// ReadLog decodes every message recorded so far.
func ReadLog(t testing.TB, path string) []Message {
	t.Helper()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading mock server log: %v", err)
	}

	var messages []Message
	for _, line := range splitLines(data) {
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		messages = append(messages, msg)
	}
	return messages
}

// Received returns the recorded messages for one method, in arrival order.
func Received(t testing.TB, path, method string) []Message {
	t.Helper()

	var matched []Message
	for _, msg := range ReadLog(t, path) {
		if msg.Method == method {
			matched = append(matched, msg)
		}
	}
	return matched
}

// WaitForMethod polls the log until at least count messages with the given
// method arrived, and returns them.
func WaitForMethod(t testing.TB, path, method string, count int, timeout time.Duration) []Message {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		matched := Received(t, path, method)
		if len(matched) >= count {
			return matched
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %q messages, got %d", count, method, len(matched))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// WaitForNoMore asserts that no additional messages for the method arrive
// within the window.
func WaitForNoMore(t testing.TB, path, method string, count int, window time.Duration) {
	t.Helper()

	time.Sleep(window)
	if matched := Received(t, path, method); len(matched) != count {
		t.Fatalf("expected exactly %d %q messages, got %d", count, method, len(matched))
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
