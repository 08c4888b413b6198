// Package workspace prepares the private copy of the Hardhat project that a
// single sandbox run works in.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
)

// SkipDirs are never copied into a scratch project. node_modules is mounted
// read-only instead; build output is regenerated per run.
var SkipDirs = map[string]bool{
	"node_modules": true,
	"artifacts":    true,
	"cache":        true,
	".git":         true,
}

func CloneAndCheckout(repo, ref, dest string) error {
	cmd := exec.Command("git", "clone", "--branch", ref, "--depth", "1", repo, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone: %s: %w", out, err)
	}
	return nil
}

// Scratch creates a new directory under root (or the system temp dir when
// root is empty) holding a copy of project.
func Scratch(root, project string) (string, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", fmt.Errorf("creating scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "sandbox-")
	if err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	if err := CopyDir(project, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

// CopyDir copies the regular files and directories of src into dst,
// skipping SkipDirs. Symlinks are not followed.
func CopyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("reading project dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && SkipDirs[d.Name()] {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
