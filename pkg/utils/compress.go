package utils

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Compress takes a path to a file or directory and creates a .tar.gzip
// file at the outputPath location. Entries are stored relative to path so
// extraction lands at the target root. Paths listed in exclude are left
// out of the archive; the output archive itself is always excluded, so
// compressing a directory into itself cannot recurse.
func Compress(path, outputPath string, exclude ...string) error {
	skip := make(map[string]bool, len(exclude)+1)
	for _, e := range append(exclude, outputPath) {
		abs, err := filepath.Abs(e)
		if err != nil {
			return err
		}
		skip[abs] = true
	}

	tarFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer tarFile.Close()

	gzw := gzip.NewWriter(tarFile)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return filepath.Walk(path, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		if skip[abs] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		if rel == "." {
			if info.IsDir() {
				return nil
			}
			rel = filepath.Base(p)
		}

		header, err := tar.FileInfoHeader(info, p)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if !info.IsDir() {
			data, err := os.Open(p)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, data); err != nil {
				data.Close()
				return err
			}
			data.Close()
		}
		return nil
	})
}

// Decompress takes a location to a .tar.gzip file and a base path and
// decompresses the contents wrt the base path.
func Decompress(tarPath, baseDir string) error {
	tarFile, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer tarFile.Close()

	gzr, err := gzip.NewReader(tarFile)
	if err != nil {
		return err
	}
	defer gzr.Close()

	base := filepath.Clean(baseDir)
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		target := filepath.Join(base, header.Name)
		if !strings.HasPrefix(target, base+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %s escapes %s", header.Name, base)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, fs.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

// TarCopy uses a tar archive to copy src to dst to preserve the folder
// structure and file modes. The intermediate archive is staged outside src
// so it never copies itself; exclude paths are skipped, which keeps a dst
// nested under src (a build directory inside the source tree) from being
// staged back into every later copy.
func TarCopy(src, dst string, exclude ...string) error {
	f, err := os.CreateTemp("", "tarcopy-*.tar.gzip")
	if err != nil {
		return err
	}
	f.Close()
	defer os.Remove(f.Name())

	if err := Compress(src, f.Name(), exclude...); err != nil {
		return err
	}
	return Decompress(f.Name(), dst)
}
