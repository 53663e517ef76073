// Package probe runs the external port-scan binary and parses its XML output.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
)

// Technique is the scan method passed to the probe binary.
type Technique string

const (
	// TechniqueConnect is a full TCP connect scan (-sT), needs no privilege.
	TechniqueConnect Technique = "connect"
	// TechniqueSYN is a half-open SYN scan (-sS), requires elevated privilege.
	TechniqueSYN Technique = "syn"
)

// ErrProbeNotFound means no candidate path resolved to the probe executable.
// Fatal for the task, operator-fixable, not fatal for the service.
var ErrProbeNotFound = errors.New("probe executable not found")

// ExecError carries the diagnostic output of a failed probe invocation.
type ExecError struct {
	Addr   string
	Output string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("probe execution failed for %s: %v", e.Addr, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Locate searches the candidate paths/names for the probe executable.
// Bare names are resolved via PATH; absolute paths are stat-checked.
func Locate(candidates []string) (string, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", ErrProbeNotFound
}

// DetectTechnique resolves the scan technique once at startup.
// SYN needs raw sockets; without root the probe silently falls back to
// connect scans. The fallback is never surfaced as an error.
func DetectTechnique() Technique {
	if runtime.GOOS != "windows" && os.Geteuid() == 0 {
		return TechniqueSYN
	}
	return TechniqueConnect
}

// Invoker launches the external probe against one resolved address.
type Invoker struct {
	Path    string
	Timeout time.Duration
}

// NewInvoker creates an Invoker for the probe binary at path.
func NewInvoker(path string, timeout time.Duration) *Invoker {
	return &Invoker{Path: path, Timeout: timeout}
}

// Invoke runs the probe for one address and port range, returning raw XML.
// The wall-clock budget is enforced via the context; a hung probe is killed
// at the deadline rather than leaking the worker.
func (inv *Invoker) Invoke(ctx context.Context, addr, portRange string, tech Technique) ([]byte, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	args := buildProbeArgs(addr, portRange, tech)
	cmd := exec.CommandContext(ctx, inv.Path, args...)
	cmd.WaitDelay = 5 * time.Second

	log.Debugf("probe: executing %s %v", inv.Path, args)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &ExecError{Addr: addr, Output: string(out), Err: err}
	}

	return extractXML(out), nil
}

// buildProbeArgs constructs the probe command line for one address.
// XML to stdout, no reverse DNS, skip host discovery.
func buildProbeArgs(addr, portRange string, tech Technique) []string {
	args := []string{"-oX", "-", "-n", "-Pn"}

	if tech == TechniqueSYN {
		args = append(args, "-sS")
	} else {
		args = append(args, "-sT")
	}

	if portRange != "" {
		args = append(args, "-p", portRange)
	}

	return append(args, addr)
}

// extractXML trims non-XML noise the probe may print around its output.
func extractXML(output []byte) []byte {
	start := bytes.Index(output, []byte("<?xml"))
	if start == -1 {
		return output
	}

	end := bytes.LastIndex(output, []byte("</nmaprun>"))
	if end == -1 {
		return output[start:]
	}

	return output[start : end+len("</nmaprun>")]
}
