// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/s3rius/rustus/pkg/logger"
)

const defaultExecTimeout = 2 * time.Second

// FileNotifier runs a single executable for every hook kind. The hook
// name is passed as the first argument and the serialized payload as
// the second. A non-zero exit status rejects the event; stderr is
// captured into the failure reason.
type FileNotifier struct {
	command string
	timeout time.Duration
}

func NewFileNotifier(command string, timeout time.Duration) *FileNotifier {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &FileNotifier{command: command, timeout: timeout}
}

func (f *FileNotifier) Name() string   { return "file" }
func (f *FileNotifier) Blocking() bool { return true }

func (f *FileNotifier) Prepare(ctx context.Context) error { return nil }

func (f *FileNotifier) Send(ctx context.Context, event *Event) error {
	return runHookCommand(ctx, f.command, f.timeout, event.Hook, event.Payload)
}

func (f *FileNotifier) Close() error { return nil }

// DirNotifier runs one executable per hook kind from a directory. A
// missing executable is a delivery error; the dispatcher turns it into
// a veto for pre-events and a logged warning for post-events.
type DirNotifier struct {
	dir     string
	timeout time.Duration
}

func NewDirNotifier(dir string, timeout time.Duration) *DirNotifier {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &DirNotifier{dir: dir, timeout: timeout}
}

func (d *DirNotifier) Name() string   { return "dir" }
func (d *DirNotifier) Blocking() bool { return true }

func (d *DirNotifier) Prepare(ctx context.Context) error {
	if _, err := os.Stat(d.dir); err != nil {
		return fmt.Errorf("hooks directory: %w", err)
	}
	return nil
}

func (d *DirNotifier) Send(ctx context.Context, event *Event) error {
	hookPath := filepath.Join(d.dir, event.Hook.String())
	if _, err := os.Stat(hookPath); err != nil {
		logger.Debug().Str("hook", event.Hook.String()).Msg("hook executable not found")
		return fmt.Errorf("hook file %s not found", event.Hook)
	}
	cmd := exec.CommandContext(ctx, hookPath, string(event.Payload))
	return waitHookCommand(cmd, d.timeout, event.Hook)
}

func (d *DirNotifier) Close() error { return nil }

func runHookCommand(ctx context.Context, command string, timeout time.Duration, hook Hook, payload []byte) error {
	logger.Debug().Str("command", command).Str("hook", hook.String()).Msg("running hook command")
	cmd := exec.CommandContext(ctx, command, hook.String(), string(payload))
	return waitHookCommand(cmd, timeout, hook)
}

func waitHookCommand(cmd *exec.Cmd, timeout time.Duration, hook Hook) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = timeout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start hook command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			reason := stderr.String()
			if reason == "" {
				reason = err.Error()
			}
			return fmt.Errorf("hook %s returned wrong status code: %s", hook, reason)
		}
		return nil
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return fmt.Errorf("hook %s timed out after %s", hook, timeout)
	}
}
