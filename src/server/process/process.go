// Package process owns the lifecycle of language server child processes:
// spawning with stdio pipes, exit monitoring, and graceful or forced
// termination. Each handle is owned by exactly one client.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"lspsync/src/internal/common"
	"lspsync/src/internal/constants"
	"lspsync/src/internal/lsperr"
)

// Handle is one spawned language server process.
type Handle struct {
	Cmd      *exec.Cmd
	Stdin    io.WriteCloser
	Stdout   io.ReadCloser
	Stderr   io.ReadCloser
	Language string

	exited   chan struct{}
	killOnce sync.Once

	mu      sync.Mutex
	exitErr error
	done    bool
}

// ShutdownSender sends the LSP shutdown sequence before termination.
type ShutdownSender interface {
	SendShutdownRequest(ctx context.Context) error
	SendExitNotification(ctx context.Context) error
}

// Spawn starts a language server process with stdio pipes attached.
func Spawn(language, command string, args []string, workingDir string) (*Handle, error) {
	cmd := exec.Command(command, args...)
	if workingDir != "" {
		cmd.Dir = workingDir
	} else if wd, err := os.Getwd(); err == nil {
		cmd.Dir = wd
	}

	h := &Handle{
		Cmd:      cmd,
		Language: language,
		exited:   make(chan struct{}),
	}

	var err error
	h.Stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, lsperr.NewProcessError(language, command, "spawn", fmt.Errorf("stdin pipe: %w", err))
	}
	h.Stdout, err = cmd.StdoutPipe()
	if err != nil {
		h.Stdin.Close()
		return nil, lsperr.NewProcessError(language, command, "spawn", fmt.Errorf("stdout pipe: %w", err))
	}
	h.Stderr, err = cmd.StderrPipe()
	if err != nil {
		h.Stdin.Close()
		h.Stdout.Close()
		return nil, lsperr.NewProcessError(language, command, "spawn", fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		h.closePipes()
		return nil, lsperr.NewProcessError(language, command, "spawn", err)
	}

	go h.reap()

	common.LSPLogger.Info("Started %s language server: %s (pid %d)", language, command, cmd.Process.Pid)
	return h, nil
}

// reap waits for the process and resolves the exited channel exactly once.
func (h *Handle) reap() {
	err := h.Cmd.Wait()

	h.mu.Lock()
	h.exitErr = err
	h.done = true
	h.mu.Unlock()

	close(h.exited)
}

// PID returns the process id of the child.
func (h *Handle) PID() int {
	if h.Cmd.Process == nil {
		return 0
	}
	return h.Cmd.Process.Pid
}

// Exited is closed when the child process has exited.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitErr returns the process exit error once Exited is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Kill force-terminates the child process. Safe to call more than once and
// after the process has already exited.
func (h *Handle) Kill() {
	h.killOnce.Do(func() {
		h.mu.Lock()
		done := h.done
		h.mu.Unlock()
		if done || h.Cmd.Process == nil {
			return
		}
		if err := h.Cmd.Process.Kill(); err != nil {
			common.LSPLogger.Debug("Kill %s server (pid %d): %v", h.Language, h.PID(), err)
		}
	})
}

// StopGracefully sends the LSP shutdown sequence, waits briefly for the
// process to exit on its own, and force-kills it when it does not.
func (h *Handle) StopGracefully(sender ShutdownSender) error {
	if sender != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		if err := sender.SendShutdownRequest(shutdownCtx); err != nil {
			common.LSPLogger.Debug("Shutdown request for %s server failed: %v", h.Language, err)
		}
		cancel()

		exitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := sender.SendExitNotification(exitCtx); err != nil {
			common.LSPLogger.Debug("Exit notification for %s server failed: %v", h.Language, err)
		}
		cancel()
	}

	select {
	case <-h.exited:
	case <-time.After(constants.ProcessShutdownTimeout):
		common.LSPLogger.Warn("%s server did not exit within %v, force killing", h.Language, constants.ProcessShutdownTimeout)
		h.Kill()
		<-h.exited
	}

	h.closePipes()
	return nil
}

func (h *Handle) closePipes() {
	if h.Stdin != nil {
		h.Stdin.Close()
	}
	if h.Stdout != nil {
		h.Stdout.Close()
	}
	if h.Stderr != nil {
		h.Stderr.Close()
	}
}
