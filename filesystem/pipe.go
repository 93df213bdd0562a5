package filesystem

import (
	"io"
	"io/fs"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type pipe struct {
	mu      sync.Mutex
	buf     []byte
	rclosed bool
	wclosed bool
	created time.Time
}

type PipeReader struct{ p *pipe }
type PipeWriter struct{ p *pipe }

// Pipe returns both ends of an in-memory pipe. Reads never block: an
// empty pipe reads EAGAIN until the write end is closed, then EOF.
func Pipe() (*PipeReader, *PipeWriter) {
	p := &pipe{created: time.Now()}
	return &PipeReader{p}, &PipeWriter{p}
}

func (p *pipe) stat() (fs.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &fileInfo{name: "pipe", size: int64(len(p.buf)), mode: fs.ModeNamedPipe | 0o600, modTime: p.created}, nil
}

func (r *PipeReader) Read(b []byte) (int, error) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		if p.wclosed {
			return 0, io.EOF
		}
		return 0, unix.EAGAIN
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Buffered returns the number of bytes ready to read.
func (r *PipeReader) Buffered() int {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return len(r.p.buf)
}

func (r *PipeReader) Stat() (fs.FileInfo, error) {
	return r.p.stat()
}

func (r *PipeReader) Close() error {
	r.p.mu.Lock()
	r.p.rclosed = true
	r.p.buf = nil
	r.p.mu.Unlock()
	return nil
}

func (w *PipeWriter) Write(b []byte) (int, error) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rclosed {
		return 0, unix.EPIPE
	}
	p.buf = append(p.buf, b...)
	return len(b), nil
}

func (w *PipeWriter) Stat() (fs.FileInfo, error) {
	return w.p.stat()
}

func (w *PipeWriter) Close() error {
	w.p.mu.Lock()
	w.p.wclosed = true
	w.p.mu.Unlock()
	return nil
}
