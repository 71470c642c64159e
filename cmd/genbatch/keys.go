package genbatch

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/fsops"
)

// readKeyFile reads one key per line. Blank lines and lines starting with #
// are ignored.
func readKeyFile(fileSystem fsops.FS, path string) ([]string, error) {
	content, err := fileSystem.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, readKeysErrorFormat, path)
	}
	var keys []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, readKeysErrorFormat, path)
	}
	return keys, nil
}

// collectKeys merges positional keys and the key file, keeping first
// occurrences in order.
func collectKeys(fileSystem fsops.FS, positional []string, keyFile string) ([]string, error) {
	candidates := make([]string, 0, len(positional))
	for _, key := range positional {
		candidates = append(candidates, strings.TrimSpace(key))
	}
	if strings.TrimSpace(keyFile) != "" {
		fromFile, err := readKeyFile(fileSystem, keyFile)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, fromFile...)
	}

	seen := make(map[string]struct{}, len(candidates))
	keys := make([]string, 0, len(candidates))
	for _, key := range candidates {
		if key == "" {
			continue
		}
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, errors.WithHint(errors.New(noKeysErrorMessage), noKeysHintMessage)
	}
	return keys, nil
}
