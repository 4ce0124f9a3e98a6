package health

import (
	"context"
	"os"
	"path/filepath"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	cursors CursorPinger
	dataDir string
}

// New creates a Service.
func New(cursors CursorPinger, dataDir string) *Service {
	return &Service{cursors: cursors, dataDir: dataDir}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.cursors.Ping(ctx); err != nil {
		checks["cursor_store"] = CheckError
	} else {
		checks["cursor_store"] = CheckOK
	}

	if err := s.checkDataDir(); err != nil {
		checks["data_dir"] = CheckError
	} else {
		checks["data_dir"] = CheckOK
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}

// checkDataDir verifies the data directory is writable.
func (s *Service) checkDataDir() error {
	f, err := os.CreateTemp(filepath.Clean(s.dataDir), ".healthcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
