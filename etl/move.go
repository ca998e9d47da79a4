package etl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MoveToDir moves src into dir, creating dir if needed. When dir already holds a file
// of the same name, the moved file gets a UTC timestamp suffix. The returned path is
// where the file now lives.
func MoveToDir(src string, dir string, now time.Time) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("destination dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := filepath.Base(src)
	dst := filepath.Join(dir, name)
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		dst = filepath.Join(dir, fmt.Sprintf("%s.%s%s", stem, now.UTC().Format("20060102T150405.000000000"), ext))
	}

	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	// Rename fails across devices.
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
