package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanKey normalizes a slash separated object key and rejects keys that are
// empty, absolute after cleaning to nothing, or that climb with "..".
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("key contains directory traversal: %s", key)
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" {
		return "", fmt.Errorf("key has no name: %s", key)
	}
	return clean, nil
}

// SecureJoin joins elements under base and verifies the result stays within it
//
//	tile, err := SecureJoin(src, collection, timestamp, "0", "3", "7", "0.png")
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if fullPath != cleanBase && !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}
	return fullPath, nil
}

// KeyPath maps an object key to a file below root
func KeyPath(root, key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return SecureJoin(root, filepath.FromSlash(clean))
}
