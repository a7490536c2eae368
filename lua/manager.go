package lua

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samaelod/reflow/config"
	"github.com/samaelod/reflow/types"
)

// SaveToRecent stores a session under the configured recent directory as
// <base>_<n>.lua, picking the first free n. A Lua original is copied as is
// to keep its comments and triggers; anything else is written from s.
func SaveToRecent(s *types.Session, originalPath string) (string, error) {
	appConfig, err := config.LoadDefault()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return SaveTo(appConfig.RecentDir, s, originalPath)
}

// SaveTo is SaveToRecent with an explicit directory.
func SaveTo(dir string, s *types.Session, originalPath string) (string, error) {
	if dir == "" {
		dir = "recent"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recent directory: %w", err)
	}

	base := filepath.Base(originalPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var newPath string
	for n := 1; ; n++ {
		newPath = filepath.Join(dir, fmt.Sprintf("%s_%d.lua", base, n))
		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			break
		}
	}

	f, err := os.Create(newPath)
	if err != nil {
		return "", fmt.Errorf("failed to create session file: %w", err)
	}
	defer f.Close()

	if strings.HasSuffix(originalPath, ".lua") {
		src, err := os.Open(originalPath)
		if err != nil {
			return "", fmt.Errorf("failed to open source lua file: %w", err)
		}
		defer src.Close()
		if _, err := io.Copy(f, src); err != nil {
			return "", fmt.Errorf("failed to copy lua content: %w", err)
		}
		return newPath, nil
	}

	if err := WriteSession(f, s); err != nil {
		return "", fmt.Errorf("failed to write session: %w", err)
	}
	return newPath, nil
}
