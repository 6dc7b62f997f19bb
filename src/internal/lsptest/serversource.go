package lsptest

// serverSource is the mock language server program. It is intentionally
// self-contained (standard library only) so it compiles as a standalone
// file outside the module.
const serverSource = `package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var logFile *os.File

func main() {
	if path := os.Getenv("MOCK_LSP_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mock server: %v\n", err)
			os.Exit(1)
		}
		logFile = f
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		payload, err := readMessage(reader)
		if err != nil {
			return
		}
		record(payload)

		var msg map[string]interface{}
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		method, _ := msg["method"].(string)
		id, hasID := msg["id"]

		switch {
		case hasID && method == "initialize":
			respond(id, map[string]interface{}{
				"capabilities": map[string]interface{}{
					"textDocumentSync":   1,
					"completionProvider": map[string]interface{}{},
					"hoverProvider":      true,
				},
			})
			if os.Getenv("MOCK_LSP_PROBE") == "1" {
				request(100, "workspace/configuration", map[string]interface{}{
					"items": []interface{}{map[string]interface{}{"section": "mock"}},
				})
				request(101, "client/unhandledProbe", nil)
			}
		case hasID && method == "shutdown":
			respond(id, nil)
		case hasID && method == "textDocument/completion":
			delay()
			respond(id, map[string]interface{}{
				"isIncomplete": false,
				"items":        []interface{}{map[string]interface{}{"label": "mockItem"}},
			})
		case hasID && method == "textDocument/hover":
			delay()
			respond(id, map[string]interface{}{
				"contents": map[string]interface{}{"kind": "plaintext", "value": "mock hover"},
			})
		case hasID && method != "":
			writeMessage(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      id,
				"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
			})
		case method == "exit":
			return
		case method == "textDocument/didOpen":
			if os.Getenv("MOCK_LSP_DIAG") == "1" {
				publishDiagnostics(msg)
			}
		}
	}
}

func publishDiagnostics(msg map[string]interface{}) {
	params, _ := msg["params"].(map[string]interface{})
	doc, _ := params["textDocument"].(map[string]interface{})
	uri, _ := doc["uri"].(string)
	if uri == "" {
		return
	}
	writeMessage(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": map[string]interface{}{
			"uri": uri,
			"diagnostics": []interface{}{
				map[string]interface{}{
					"range": map[string]interface{}{
						"start": map[string]interface{}{"line": 0, "character": 0},
						"end":   map[string]interface{}{"line": 0, "character": 1},
					},
					"severity": 2,
					"message":  "mock diagnostic",
				},
			},
		},
	})
}

func delay() {
	ms, err := strconv.Atoi(os.Getenv("MOCK_LSP_DELAY_MS"))
	if err == nil && ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

func respond(id, result interface{}) {
	writeMessage(map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": result})
}

func request(id int, method string, params interface{}) {
	msg := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	writeMessage(msg)
}

func writeMessage(msg map[string]interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stdout, "Content-Length: %d\r\n\r\n%s", len(data), data)
}

func record(payload []byte) {
	if logFile == nil {
		return
	}
	logFile.Write(append(payload, '\n'))
	logFile.Sync()
}

func readMessage(reader *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			contentLength, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, err
			}
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length")
	}
	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
`
