package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"threatgate/core"
	"threatgate/resource"

	"go.uber.org/zap"
)

// EnsureOutputDirectory creates the report directory and verifies it is
// writable before any threat model is processed.
func EnsureOutputDirectory(dir string, sugar *zap.SugaredLogger) (string, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", &core.ReportWriteError{Path: dir, Err: fmt.Errorf("failed to resolve absolute path: %w", err)}
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return "", &core.ReportWriteError{Path: absPath, Err: fmt.Errorf("failed to create directory: %w\n"+
			"  Remediation: Ensure the parent directory exists and is writable\n"+
			"  For CI runners: Check the workspace is not mounted read-only", err)}
	}

	testFile := filepath.Join(absPath, ".threatgate_write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return "", &core.ReportWriteError{Path: absPath, Err: fmt.Errorf("directory is not writable: %w\n"+
			"  Remediation: Check file system permissions or pick another --out", err)}
	}
	os.Remove(testFile)

	sugar.Debugw("Output directory ready", "path", absPath)
	return absPath, nil
}

// ClassifyFetchError turns a threats library fetch failure into a message
// with remediation hints.
func ClassifyFetchError(err error, location string) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, resource.ErrAuthFailed):
		return fmt.Sprintf("Access to the threats library at %s was denied.\n"+
			"  Remediation:\n"+
			"  - Pass --threatsLibraryAccessUsername and --threatsLibraryAccessPassword\n"+
			"  - Or set THREATGATE_LIBRARY_USERNAME and THREATGATE_LIBRARY_PASSWORD\n"+
			"  - Or configure a secrets provider (vault, aws) in threatgate.yaml", location)
	case errors.Is(err, resource.ErrResourceTooLarge):
		return fmt.Sprintf("The threats library at %s exceeds the size limit.\n"+
			"  Remediation:\n"+
			"  - Verify the location points at a rules library and not an archive", location)
	case errors.Is(err, resource.ErrUnsupportedScheme):
		return fmt.Sprintf("Unsupported threats library location %s.\n"+
			"  Supported: classpath:/..., file://..., plain paths, http(s)://..., s3://bucket/key", location)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("Fetching the threats library at %s timed out.\n"+
			"  Remediation:\n"+
			"  - Raise library.timeout in threatgate.yaml\n"+
			"  - Verify network connectivity from the runner", location)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("The threats library %s does not exist.\n"+
			"  Remediation:\n"+
			"  - Check the path passed to --threatsLibrary\n"+
			"  - Omit --threatsLibrary to use the built-in library", location)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to the threats library at %s timed out.\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity from the runner\n"+
			"  - Raise library.timeout in threatgate.yaml", location)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) || (opErr.Err != nil && containsIgnoreCase(opErr.Err.Error(), "connection refused")) {
			return fmt.Sprintf("Connection refused by the threats library server at %s.\n"+
				"  Remediation:\n"+
				"  - Verify the server is running and the port is correct", location)
		}
	}

	if containsIgnoreCase(err.Error(), "no such host") {
		return fmt.Sprintf("Cannot resolve the host of the threats library %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", location)
	}

	return fmt.Sprintf("Failed to load the threats library %s: %v", location, err)
}

// ClassifySQLiteError provides specific error messages based on the type of SQLite failure.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	switch {
	case containsIgnoreCase(errStr, "permission denied") || containsIgnoreCase(errStr, "access denied"):
		return fmt.Sprintf("Permission denied accessing the history database at %s.\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - Check directory permissions: ls -la %s",
			absPath, absPath, parentDir)
	case containsIgnoreCase(errStr, "database is locked") || containsIgnoreCase(errStr, "SQLITE_BUSY"):
		return fmt.Sprintf("History database at %s is locked by another process.\n"+
			"  Possible causes:\n"+
			"  - Another threatgate run is writing to the same database\n"+
			"  Remediation:\n"+
			"  - Give parallel CI jobs separate --history paths", absPath)
	case containsIgnoreCase(errStr, "corrupt") || containsIgnoreCase(errStr, "malformed") || containsIgnoreCase(errStr, "SQLITE_CORRUPT"):
		return fmt.Sprintf("History database at %s appears to be corrupted.\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - Move the file away to start a fresh history",
			absPath, absPath)
	case containsIgnoreCase(errStr, "read-only"):
		return fmt.Sprintf("History database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Point --history at a writable location", absPath)
	}

	return fmt.Sprintf("Failed to open the history database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable", absPath, err, parentDir)
}

// containsIgnoreCase checks if a string contains a substring (case-insensitive).
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
