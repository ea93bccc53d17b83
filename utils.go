package annoconv

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// filesByExtInDir returns the names of all regular files with file extension ext (case
// insensitive) found directly in directory dirPath, sorted lexicographically. All files are
// returned if ext is empty.
func filesByExtInDir(dirPath, ext string) (files []string, err error) {
	dirInfo, err := os.Stat(dirPath)
	if err != nil {
		return nil, &IOError{Path: dirPath, Err: err}
	}
	if !dirInfo.IsDir() {
		return nil, &IOError{Path: dirPath, Err: fmt.Errorf("not a directory")}
	}
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, &IOError{Path: dirPath, Err: err}
	}
	defer closeWithErrCheck(dir, &err)

	// Iterate over all files in dir.
	files = make([]string, 0, 100)
	var entries []os.DirEntry
	for entries, err = dir.ReadDir(100); len(entries) > 0; entries, err = dir.ReadDir(100) {
		for _, entry := range entries {
			name := entry.Name()
			// Must be a regular file or a symlink and have the requested extension.
			if (!entry.Type().IsRegular() && entry.Type()&os.ModeSymlink == 0) ||
					!strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
				continue
			}
			files = append(files, name)
		}
	}
	if err != nil && err != io.EOF {
		log.Printf("Failed to access some files in %q: %v", dirPath, err)
	}
	err = nil

	sort.Strings(files)
	return files, nil
}

// splitExt splits a file name into the name without extension and the lower case extension
// without the dot.
func splitExt(name string) (stem, ext string) {
	e := filepath.Ext(name)
	if e == "" || e == name {
		return name, ""
	}
	return name[:len(name)-len(e)], strings.ToLower(e[1:])
}

// splitLines splits data into lines, accepting both \n and \r\n line breaks.
func splitLines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// readFile reads the whole file at path.
func readFile(path string) (data []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	defer closeWithErrCheck(f, &err)

	data, err = io.ReadAll(f)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}

	return data, nil
}

// writeFile writes data to path, creating the parent directories.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &IOError{Path: filepath.Dir(path), Err: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

// ensureDir creates the directory at path if it does not exist.
func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

// isDir reports whether path exists and is a directory.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// isFile reports whether path exists and is not a directory.
func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
