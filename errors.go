package annoconv

import (
	"errors"
	"fmt"
)

// ErrLossyConversion is returned by Convert, wrapped with a summary, when the target format
// cannot carry information present in the source and lossy conversion was not allowed.
var ErrLossyConversion = errors.New("conversion would lose information")

// IOError is a failure to access a file or directory.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cannot access %q: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ParseError is malformed input for Format. Line is 1-based and zero when not applicable.
type ParseError struct {
	Format Format
	Path   string
	Line   int
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	where := ""
	switch {
	case e.Path != "" && e.Line > 0:
		where = fmt.Sprintf(" %s:%d", e.Path, e.Line)
	case e.Path != "":
		where = " " + e.Path
	case e.Line > 0:
		where = fmt.Sprintf(" line %d", e.Line)
	}
	msg := fmt.Sprintf("%s: parse error%s: %s", e.Format, where, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// LayoutError is a directory tree that does not have the files a format expects.
type LayoutError struct {
	Format Format
	Path   string
	Msg    string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("%s: invalid layout at %q: %s", e.Format, e.Path, e.Msg)
}

// WriteError is a failure to write the Dataset, most often because it is inconsistent.
type WriteError struct {
	Format Format
	Path   string
	Msg    string
	Err    error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("%s: write error", e.Format)
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }

// UnsupportedFormatError is an unknown format name, or a direction a format does not support.
type UnsupportedFormatError struct {
	Name string
	Msg  string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("unsupported format %q: %s", e.Name, e.Msg)
	}
	return fmt.Sprintf("unsupported format %q", e.Name)
}

func parseErrorf(f Format, path string, line int, format string, args ...interface{}) *ParseError {
	return &ParseError{Format: f, Path: path, Line: line, Msg: fmt.Sprintf(format, args...)}
}

func writeErrorf(f Format, path string, err error, format string, args ...interface{}) *WriteError {
	return &WriteError{Format: f, Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}

// withPath fills in the path of a ParseError that was produced from in-memory data.
func withPath(err error, path string) error {
	var pe *ParseError
	if errors.As(err, &pe) && pe.Path == "" {
		pe.Path = path
	}
	return err
}
