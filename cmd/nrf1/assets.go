package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// fileAssetResolver resolves an asset reference to a file under
// baseDir/kind/ref, the simplest AssetResolver a standalone CLI run can
// offer without a running asset store behind it.
type fileAssetResolver struct {
	baseDir string
}

func (f fileAssetResolver) Resolve(kind, ref string) ([]byte, error) {
	if f.baseDir == "" {
		return nil, fmt.Errorf("assets: no --assets directory configured, cannot resolve %s/%s", kind, ref)
	}
	path := filepath.Join(f.baseDir, kind, ref)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assets: resolve %s/%s: %w", kind, ref, err)
	}
	return b, nil
}
