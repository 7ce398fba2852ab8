package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/kiln/pkg/config"
)

// FindRoot looks upwards from startDir for a site root: a directory holding
// kiln.yaml or rules.yaml. It returns the absolute path of that directory.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, config.DefaultFile) || hasFile(dir, "rules.yaml") {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no %s found above %s", config.DefaultFile, abs)
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
