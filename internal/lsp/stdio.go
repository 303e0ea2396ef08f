package lsp

import (
	"errors"
	"io"
)

// ReadWriteCloser joins a reader and a writer, typically stdin and stdout,
// into the stream the JSON-RPC connection runs on.
type ReadWriteCloser struct {
	io.ReadCloser
	io.WriteCloser
}

// NewReadWriteCloser pairs r and w.
func NewReadWriteCloser(r io.ReadCloser, w io.WriteCloser) *ReadWriteCloser {
	return &ReadWriteCloser{ReadCloser: r, WriteCloser: w}
}

func (s *ReadWriteCloser) Close() error {
	return errors.Join(s.ReadCloser.Close(), s.WriteCloser.Close())
}
