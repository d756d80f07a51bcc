package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/domain"
)

const defaultTimeout = 60 * time.Second

// ClamAVScanner submits bytes to the clamscan binary over stdin.
// Content is scanned before it is ever written to long-term storage.
type ClamAVScanner struct {
	binary  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClamAVScanner creates a scanner around the given clamscan binary.
func NewClamAVScanner(binary string, timeout time.Duration, logger *zap.Logger) *ClamAVScanner {
	if binary == "" {
		binary = "clamscan"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ClamAVScanner{binary: binary, timeout: timeout, logger: logger}
}

// Scan runs clamscan over the content (implements domain.Scanner).
// Exit code 0 means clean, 1 means infected; anything else, including a
// missing binary or a timeout, is reported as unavailable so the caller
// can apply its fail-closed policy.
func (s *ClamAVScanner) Scan(ctx context.Context, data []byte) (domain.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binary, "--no-summary", "-")
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return domain.VerdictClean, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		s.logger.Warn("malware detected by scanner")
		return domain.VerdictInfected, nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		s.logger.Error("scanner binary not found", zap.String("binary", s.binary))
		return domain.VerdictUnavailable, fmt.Errorf("scanner binary %q not found: %w", s.binary, err)
	}

	s.logger.Error("scanner failed",
		zap.Error(err),
		zap.String("stderr", stderr.String()),
	)
	return domain.VerdictUnavailable, fmt.Errorf("scanner failed: %w", err)
}

// Verify that ClamAVScanner implements domain.Scanner interface
var _ domain.Scanner = (*ClamAVScanner)(nil)
