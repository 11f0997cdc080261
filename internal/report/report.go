// Package report writes a coverage.Ledger to disk, either as the raw JSON
// ledger or spliced into an HTML template.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/uva-tools/ccov/internal/coverage"
)

// coverageToken is the literal placeholder report.WriteHTML looks for in
// the template and replaces with the ledger's JSON encoding.
const coverageToken = "m_coverage_info"

// ErrTemplateMissing is returned when the HTML template file cannot be
// read. Non-fatal: the caller logs it and continues without the HTML
// report.
var ErrTemplateMissing = errors.New("report: template file missing")

// ErrTokenMissing is returned when the template was read but does not
// contain coverageToken. Also non-fatal.
var ErrTokenMissing = errors.New("report: template has no m_coverage_info token")

// WriteJSON encodes ledger via goccy/go-json and writes it to path.
func WriteJSON(path string, ledger *coverage.Ledger) error {
	data, err := ledger.MarshalJSON()
	if err != nil {
		return fmt.Errorf("report: marshaling ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: creating output directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: writing %s: %w", path, err)
	}
	return nil
}

// WriteHTML loads templatePath, finds the literal token coverageToken, and
// writes a copy with it replaced by ledger's JSON encoding -- byte-exact
// substitution, not templating, so everything around the token is
// preserved untouched.
func WriteHTML(templatePath, outputPath string, ledger *coverage.Ledger) error {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTemplateMissing, templatePath, err)
	}

	template := string(raw)
	if !strings.Contains(template, coverageToken) {
		return fmt.Errorf("%w: %s", ErrTokenMissing, templatePath)
	}

	data, err := ledger.MarshalJSON()
	if err != nil {
		return fmt.Errorf("report: marshaling ledger: %w", err)
	}

	spliced := strings.Replace(template, coverageToken, string(data), 1)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("report: creating output directory for %s: %w", outputPath, err)
	}
	if err := os.WriteFile(outputPath, []byte(spliced), 0o644); err != nil {
		return fmt.Errorf("report: writing %s: %w", outputPath, err)
	}
	return nil
}
