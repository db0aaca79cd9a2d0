// Package ddc talks to monitors over DDC/CI through the ddcutil command line tool.
package ddc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/metrics"
)

// MonitorID identifies one controllable display (the ddcutil display number).
type MonitorID string

// Brightness is VCP feature code 0x10.
const brightnessFeature = "10"

// DefaultMaxTries is passed to ddcutil as --maxtries.
const DefaultMaxTries = "15,15,15"

var (
	ErrToolUnavailable = errors.New("ddc: control tool not found")
	ErrBusy            = errors.New("ddc: control channel busy")
	ErrCommandFailed   = errors.New("ddc: command failed")
	ErrUnparseable     = errors.New("ddc: unparseable reply")
)

// Runner executes the control tool and returns its stdout.
// A non-nil error means the process could not start or exited non-zero.
type Runner interface {
	Run(ctx context.Context, path string, args []string) (string, error)
}

// ExecRunner runs the tool with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, path string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", ErrToolUnavailable
		}
		return "", fmt.Errorf("%w: %v: %s", ErrCommandFailed, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Client serializes calls to ddcutil. Only one call may be outstanding at a time;
// a call made while another is in flight fails immediately with ErrBusy.
type Client struct {
	path     string
	maxTries string
	runner   Runner

	inflight sync.Mutex
}

// New resolves binary in PATH and creates a client.
// If the binary cannot be found the client is created anyway and every call
// returns ErrToolUnavailable.
func New(binary, maxTries string, runner Runner) *Client {
	path, err := exec.LookPath(binary)
	if err != nil {
		log.Error().Str("binary", binary).Msg("DDC control tool not found in PATH")
		path = ""
	}
	return NewWithPath(path, maxTries, runner)
}

// NewWithPath creates a client for an already resolved tool path.
func NewWithPath(path, maxTries string, runner Runner) *Client {
	if maxTries == "" {
		maxTries = DefaultMaxTries
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{
		path:     path,
		maxTries: maxTries,
		runner:   runner,
	}
}

// Available reports whether the control tool was found.
func (c *Client) Available() bool {
	return c.path != ""
}

// Path returns the resolved tool path.
func (c *Client) Path() string {
	return c.path
}

// Detect enumerates displays and returns every "Display <n>" id.
func (c *Client) Detect(ctx context.Context) ([]MonitorID, error) {
	out, err := c.DetectRaw(ctx)
	if err != nil {
		return nil, err
	}
	return ParseDisplayIDs(out), nil
}

// DetectRaw returns the raw `detect --brief` listing.
func (c *Client) DetectRaw(ctx context.Context) (string, error) {
	return c.run(ctx, "detect", []string{"detect", "--brief"}, "", false)
}

// Read returns the current brightness of a display.
func (c *Client) Read(ctx context.Context, id MonitorID) (int, error) {
	out, err := c.run(ctx, "getvcp", []string{"getvcp", brightnessFeature, "--brief"}, id, false)
	if err != nil {
		return 0, err
	}

	value, ok := ParseBrightness(out)
	if !ok {
		metrics.ControlCall("getvcp", "unparseable")
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, out)
	}
	return value, nil
}

// Write sets the brightness of a display. The result is the tool's own exit
// status; no verification read is made.
func (c *Client) Write(ctx context.Context, id MonitorID, value int) error {
	_, err := c.run(ctx, "setvcp", []string{"setvcp", brightnessFeature, strconv.Itoa(value)}, id, true)
	return err
}

func (c *Client) run(ctx context.Context, verb string, args []string, display MonitorID, allowEmpty bool) (string, error) {
	if c.path == "" {
		metrics.ControlCall(verb, "unavailable")
		return "", ErrToolUnavailable
	}

	if !c.inflight.TryLock() {
		metrics.ControlCall(verb, "busy")
		return "", ErrBusy
	}
	defer c.inflight.Unlock()

	argv := append(append(make([]string, 0, len(args)+4), args...), "--maxtries", c.maxTries)
	if display != "" {
		argv = append(argv, "--display", string(display))
	}

	out, err := c.runner.Run(ctx, c.path, argv)
	if err != nil {
		metrics.ControlCall(verb, "failed")
		log.Debug().Err(err).Str("verb", verb).Str("display", string(display)).Msg("DDC command failed")
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" && !allowEmpty {
		metrics.ControlCall(verb, "failed")
		return "", fmt.Errorf("%w: empty output", ErrCommandFailed)
	}

	metrics.ControlCall(verb, "ok")
	return out, nil
}
