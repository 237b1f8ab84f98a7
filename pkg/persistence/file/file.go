// Package file provides file-based persistence for executions, context and budgets.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/conduit/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file
// system. Writes are serialized within the process; it is meant for a single
// engine instance.
type Persistence struct {
	root string
	mu   sync.Mutex

	executionRepo *ExecutionRepository
	contextRepo   *ContextRepository
	budgetRepo    *BudgetRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	fp := &Persistence{root: cleanRoot}
	fp.executionRepo = &ExecutionRepository{fp: fp}
	fp.contextRepo = &ContextRepository{fp: fp}
	fp.budgetRepo = &BudgetRepository{fp: fp}

	return fp
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks that the root directory exists and is writable.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.root, 0o750)
	if err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	return nil
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) ContextRepository() persistence.ContextRepository {
	return fp.contextRepo
}

func (fp *Persistence) BudgetRepository() persistence.BudgetRepository {
	return fp.budgetRepo
}

// validateID rejects identifiers that could escape the root directory.
func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s cannot be empty", persistence.ErrInvalidIdentifier, kind)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %s contains invalid characters", persistence.ErrInvalidIdentifier, kind)
	}

	return nil
}

func (fp *Persistence) path(elements ...string) string {
	return filepath.Join(append([]string{fp.root}, elements...)...)
}

// writeJSON writes value atomically through a temporary file.
func writeJSON(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// readJSON returns os.ErrNotExist when path is missing.
func readJSON(path string, target any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from validated identifiers
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

func appendJSONLine(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal line for %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	_, writeErr := file.Write(append(data, '\n'))
	closeErr := file.Close()

	return errors.Join(writeErr, closeErr)
}

func readJSONLines[T any](path string) ([]*T, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*T{}, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	items := make([]*T, 0, len(lines))

	for _, line := range lines {
		if line == "" {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal line of %s: %w", path, err)
		}

		items = append(items, &item)
	}

	return items, nil
}
