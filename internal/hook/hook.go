// Package hook runs the user's notification command after each session,
// with either the transcript or the error that ended it.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"murmur/internal/config"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Job represents a hook invocation request.
type Job struct {
	SessionID string
	Text      string
	Err       error
	Timestamp time.Time
}

// Runner executes the configured notification command.
type Runner struct {
	cfg      *config.Config
	logger   *logrus.Logger
	hostname string
}

func NewRunner(cfg *config.Config, logger *logrus.Logger) *Runner {
	host, _ := os.Hostname()
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		hostname: host,
	}
}

// Enabled reports whether a hook command is configured.
func (r *Runner) Enabled() bool {
	return strings.TrimSpace(r.cfg.Hook.Command) != ""
}

// Run executes the configured command with the transcript (or error) as the
// last argument.
func (r *Runner) Run(ctx context.Context, job Job) error {
	argv, err := CommandLine(r.cfg.Hook.Command)
	if err != nil {
		return err
	}
	args := append(argv[1:], r.cfg.Hook.Args...)

	prefix := strings.ReplaceAll(r.cfg.Hook.Prefix, "${hostname}", r.hostname)
	text := job.Text
	if r.cfg.Hook.RedactPII {
		text = redactPII(text)
	}
	errText := ""
	if job.Err != nil {
		errText = job.Err.Error()
	}
	payload := strings.TrimSpace(prefix + text)
	if errText != "" {
		payload = strings.TrimSpace(prefix + "error: " + errText)
	}
	args = append(args, payload)

	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.Hook.TimeoutSec > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(float64(time.Second)*r.cfg.Hook.TimeoutSec))
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, argv[0], args...)
	cmd.Env = os.Environ()
	for k, v := range r.cfg.Hook.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("MURMUR_TEXT=%s", text))
	cmd.Env = append(cmd.Env, fmt.Sprintf("MURMUR_ERROR=%s", errText))
	cmd.Env = append(cmd.Env, fmt.Sprintf("MURMUR_SESSION=%s", job.SessionID))
	cmd.Env = append(cmd.Env, fmt.Sprintf("MURMUR_PREFIX=%s", prefix))

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Infof("hook output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}

// CommandLine splits hook.command with shell quoting rules, so the command
// may carry its own leading arguments ("notify-send -a murmur").
func CommandLine(command string) ([]string, error) {
	argv, err := shlex.Split(os.ExpandEnv(command))
	if err != nil {
		return nil, fmt.Errorf("parse hook.command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("no hook.command configured")
	}
	return argv, nil
}

var (
	emailRE = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{6,}\d`)
)

func redactPII(s string) string {
	s = emailRE.ReplaceAllString(s, "[redacted-email]")
	s = phoneRE.ReplaceAllString(s, "[redacted-phone]")
	return s
}
