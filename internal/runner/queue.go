package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/reportmailer/internal/portal"
)

// lockPrefix marks the owner files Word leaves next to open documents.
const lockPrefix = "~$"

// Pending lists the report files waiting in dir, sorted by name. The output
// directory is the work queue: a file stays until it has been mailed.
func Pending(afs afero.Fs, dir, ext string) ([]portal.LocalReportFile, error) {
	entries, err := afero.ReadDir(afs, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []portal.LocalReportFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, lockPrefix) {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		files = append(files, portal.LocalReportFile{
			Path: filepath.Join(dir, name),
			Name: name,
			Size: e.Size(),
		})
	}
	return files, nil
}
