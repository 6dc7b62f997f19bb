package lsperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutErrorMessage(t *testing.T) {
	err := NewTimeoutError("go", "textDocument/completion")
	assert.Equal(t, "go request timeout for textDocument/completion", err.Error())
}

func TestIsTimeoutErrorThroughWrapping(t *testing.T) {
	err := fmt.Errorf("completion failed: %w", NewTimeoutError("go", "textDocument/completion"))
	assert.True(t, IsTimeoutError(err))
	assert.False(t, IsTimeoutError(errors.New("some other error")))
	assert.False(t, IsTimeoutError(nil))
}

func TestProcessErrorUnwraps(t *testing.T) {
	cause := errors.New("no such file or directory")
	err := NewProcessError("python", "pylsp", "spawn", cause)
	assert.True(t, IsProcessError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "pylsp")
}

func TestConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(NewConnectionError("go", nil)))
	assert.True(t, IsConnectionError(fmt.Errorf("wrapped: %w", NewConnectionError("go", errors.New("broken pipe")))))
	assert.False(t, IsConnectionError(NewTimeoutError("go", "initialize")))
}

func TestProtocolError(t *testing.T) {
	err := NewProtocolError(-32601, "method not found")
	assert.True(t, IsProtocolError(err))
	assert.Contains(t, err.Error(), "-32601")
}
