package shell

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

func ReadFile(path string) string {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("error reading file %s: %v", path, err)
		return ""
	}
	return string(content)
}

// FileExist reports whether path is an existing regular file.
func FileExist(path string) bool {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	} else if err != nil {
		log.Warnf("stat %s: %v", path, err)
		return false
	}
	return fi.Mode().IsRegular()
}

func WriteFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0644)
}

func DeleteFileIfExists(path string) error {
	if !FileExist(path) {
		return nil
	}
	return os.Remove(path)
}

// FileCopy copies a regular file, replacing dst if it already exists.
func FileCopy(src, dst string) error {
	sfi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !sfi.Mode().IsRegular() {
		return fmt.Errorf("fCopy: non-regular source file %s (%q)", sfi.Name(), sfi.Mode().String())
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
