package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"docqa/internal/domain"
	"docqa/internal/loader"
)

// StageFiles copies the supported files among paths into dir, keeping their
// base names. Unsupported paths are returned in rejected.
func StageFiles(dir string, paths []string) (staged, rejected []string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	for _, p := range paths {
		if !loader.Supported(p) {
			rejected = append(rejected, p)
			continue
		}
		dst := filepath.Join(dir, filepath.Base(p))
		if err := copyFile(p, dst); err != nil {
			return staged, rejected, fmt.Errorf("%w: stage %s: %v", domain.ErrLoad, p, err)
		}
		staged = append(staged, dst)
	}
	return staged, rejected, nil
}

// ClearFolder removes dir with its contents and recreates it empty.
func ClearFolder(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
