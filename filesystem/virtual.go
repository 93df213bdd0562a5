package filesystem

import (
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"
)

// VirtualFS is an in-memory tree. Besides plain files it can hold
// generated files, whose content is produced on every open, and links
// into other file systems.
type VirtualFS interface {
	ReadlinkFS
	Link(name string, handle FS) error
	WriteFile(name string, data []byte, perm fs.FileMode) error
	Generate(name string, gen func() []byte) error
}

type memFile struct {
	name    string
	mode    fs.FileMode
	modTime time.Time
	mu      sync.RWMutex
	data    []byte
	gen     func() []byte
}

type memDir struct {
	name    string
	mode    fs.FileMode
	modTime time.Time
	subs    sync.Map
}

type linkFS struct {
	name string
	fs   FS
}

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

type openFile struct {
	fs   *memFile
	flag FileFlag
	off  int
	snap []byte
}

type openDir struct {
	fs   *memDir
	read map[string]struct{}
}

func NewVirtualFS() VirtualFS {
	return &memDir{mode: fs.ModeDir | 0o755, modTime: time.Now()}
}

func SoftLink(name string, fs FS) FS {
	return &linkFS{name: name, fs: fs}
}

func (f *memFile) info() *fileInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	size := len(f.data)
	if f.gen != nil {
		size = 0
	}
	return &fileInfo{name: f.name, size: int64(size), mode: f.mode, modTime: f.modTime}
}

func (f *memFile) Open(name string) (fs.File, error) {
	return Open(f, name)
}

func (f *memFile) Stat(name string) (fs.FileInfo, error) {
	if name != "" {
		return nil, fs.ErrNotExist
	}
	return f.info(), nil
}

func (f *memFile) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	if name != "" {
		return nil, fs.ErrNotExist
	}
	if flag&O_EXCL != 0 {
		return nil, fs.ErrExist
	}
	if f.gen != nil {
		if flag&(O_WRONLY|O_RDWR) != 0 {
			return nil, fs.ErrPermission
		}
		return &openFile{fs: f, flag: flag, snap: f.gen()}, nil
	}
	of := &openFile{fs: f, flag: flag}
	f.mu.Lock()
	switch {
	case flag&O_TRUNC != 0 && flag&(O_WRONLY|O_RDWR) != 0:
		f.data = nil
	case flag&O_APPEND != 0:
		of.off = len(f.data)
	}
	f.mu.Unlock()
	return of, nil
}

func (d *memDir) Open(name string) (fs.File, error) {
	return Open(d, name)
}

func (d *memDir) lookup(name string) (any, bool) {
	return d.subs.Load(name)
}

func (d *memDir) Sub(dir string) (fs.FS, error) {
	first, rest := split(dir)
	if first == "" {
		return d, nil
	}
	value, ok := d.lookup(first)
	if !ok {
		return nil, fs.ErrNotExist
	} else if rest == "" {
		return value.(fs.FS), nil
	}
	sub, ok := value.(fs.SubFS)
	if !ok {
		return nil, fs.ErrNotExist
	}
	return sub.Sub(rest)
}

// parent resolves the directory holding name, returning it and the base name.
func (d *memDir) parent(name string) (FS, string, error) {
	dn, fn := path.Split(strings.TrimPrefix(path.Clean("/"+name), "/"))
	if dn == "" {
		return d, fn, nil
	}
	sub, err := d.Sub(dn)
	if err != nil {
		return nil, "", err
	}
	return sub.(FS), fn, nil
}

func (d *memDir) Stat(name string) (fs.FileInfo, error) {
	dir, fn, err := d.parent(name)
	if err != nil {
		return nil, err
	}
	if dir != FS(d) {
		return fs.Stat(dir, fn)
	}
	if fn == "" {
		return &fileInfo{name: d.name, mode: d.mode, modTime: d.modTime}, nil
	}
	value, ok := d.lookup(fn)
	if !ok {
		return nil, fs.ErrNotExist
	}
	return fs.Stat(value.(fs.FS), "")
}

func (d *memDir) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	dir, fn, err := d.parent(name)
	if err != nil {
		return nil, err
	}
	if dir != FS(d) {
		return dir.OpenFile(fn, flag, perm)
	}
	if fn == "" {
		if flag&(O_WRONLY|O_RDWR) != 0 {
			return nil, fs.ErrInvalid
		}
		return &openDir{fs: d, read: make(map[string]struct{})}, nil
	}
	value, ok := d.lookup(fn)
	if !ok {
		if flag&O_CREATE == 0 {
			return nil, fs.ErrNotExist
		}
		value, _ = d.subs.LoadOrStore(fn, &memFile{name: fn, mode: perm, modTime: time.Now()})
		flag &^= O_EXCL
	}
	return value.(FS).OpenFile("", flag, perm)
}

func (d *memDir) ReadDir(name string) ([]fs.DirEntry, error) {
	sub, err := d.Sub(name)
	if err != nil {
		return nil, err
	}
	if sub != fs.FS(d) {
		dir, ok := sub.(DirFS)
		if !ok {
			return nil, fs.ErrInvalid
		}
		return dir.ReadDir("")
	}
	var arr []fs.DirEntry
	for _, value := range d.subs.Range {
		info, err := fs.Stat(value.(fs.FS), "")
		if err != nil {
			return nil, err
		}
		arr = append(arr, fs.FileInfoToDirEntry(info))
	}
	return arr, nil
}

func (d *memDir) Mkdir(name string, perm fs.FileMode) (DirFS, error) {
	first, rest := split(name)
	if first == "" {
		return d, nil
	}
	value, _ := d.subs.LoadOrStore(first, &memDir{name: first, mode: perm | fs.ModeDir, modTime: time.Now()})
	sub, ok := value.(DirFS)
	if !ok {
		return nil, fs.ErrExist
	}
	if rest == "" {
		return sub, nil
	}
	return sub.Mkdir(rest, perm)
}

func (d *memDir) Readlink(name string) (string, error) {
	dir, fn, err := d.parent(name)
	if err != nil {
		return "", err
	}
	if dir != FS(d) {
		if rl, ok := dir.(ReadlinkFS); ok {
			return rl.Readlink(fn)
		}
		return "", fs.ErrInvalid
	}
	value, ok := d.lookup(fn)
	if !ok {
		return "", fs.ErrNotExist
	} else if link, ok := value.(*linkFS); ok {
		return link.name, nil
	}
	return "", fs.ErrInvalid
}

// place stores node at name, creating parent directories.
func (d *memDir) place(name string, node FS) error {
	dn, fn := path.Split(strings.TrimPrefix(path.Clean("/"+name), "/"))
	if fn == "" {
		return fs.ErrInvalid
	}
	target := d
	if dn != "" {
		sub, err := d.Mkdir(dn, 0o755)
		if err != nil {
			return err
		}
		md, ok := sub.(*memDir)
		if !ok {
			return fs.ErrInvalid
		}
		target = md
	}
	if _, loaded := target.subs.LoadOrStore(fn, node); loaded {
		return fs.ErrExist
	}
	return nil
}

func (d *memDir) Link(name string, handle FS) error {
	return d.place(name, handle)
}

func (d *memDir) WriteFile(name string, data []byte, perm fs.FileMode) error {
	_, fn := path.Split(name)
	return d.place(name, &memFile{name: fn, mode: perm, modTime: time.Now(), data: data})
}

func (d *memDir) Generate(name string, gen func() []byte) error {
	_, fn := path.Split(name)
	return d.place(name, &memFile{name: fn, mode: 0o444, modTime: time.Now(), gen: gen})
}

func (l *linkFS) Open(name string) (fs.File, error) {
	if l.fs == nil {
		return nil, fs.ErrNotExist
	}
	return l.fs.Open(name)
}

func (l *linkFS) Sub(dir string) (fs.FS, error) {
	if sub, ok := l.fs.(fs.SubFS); ok {
		return sub.Sub(dir)
	}
	return nil, fs.ErrInvalid
}

func (l *linkFS) Stat(name string) (fs.FileInfo, error) {
	if stat, ok := l.fs.(fs.StatFS); ok {
		return stat.Stat(name)
	}
	return nil, fs.ErrInvalid
}

func (l *linkFS) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	if l.fs == nil {
		return nil, fs.ErrNotExist
	}
	return l.fs.OpenFile(name, flag, perm)
}

func (l *linkFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if dir, ok := l.fs.(DirFS); ok {
		return dir.ReadDir(name)
	}
	return nil, fs.ErrInvalid
}

func (l *linkFS) Mkdir(name string, perm fs.FileMode) (DirFS, error) {
	if dir, ok := l.fs.(DirFS); ok {
		return dir.Mkdir(name, perm)
	}
	return nil, fs.ErrInvalid
}

func (fi fileInfo) Name() string {
	return fi.name
}

func (fi fileInfo) Size() int64 {
	return fi.size
}

func (fi fileInfo) Mode() fs.FileMode {
	return fi.mode
}

func (fi fileInfo) ModTime() time.Time {
	return fi.modTime
}

func (fi fileInfo) IsDir() bool {
	return fi.mode.IsDir()
}

func (fi fileInfo) Sys() any {
	return nil
}

func (f *openFile) Close() error {
	return nil
}

func (f *openFile) Stat() (fs.FileInfo, error) {
	info := f.fs.info()
	if f.snap != nil {
		info.size = int64(len(f.snap))
	}
	return info, nil
}

func (f *openFile) size() int {
	if f.fs.gen != nil {
		return len(f.snap)
	}
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return len(f.fs.data)
}

func (f *openFile) Seek(offset int64, whence int) (int64, error) {
	var off int64
	switch whence {
	case io.SeekStart:
		off = offset
	case io.SeekCurrent:
		off = int64(f.off) + offset
	case io.SeekEnd:
		off = int64(f.size()) + offset
	default:
		return 0, fs.ErrInvalid
	}
	if off < 0 {
		return 0, fs.ErrInvalid
	}
	f.off = int(off)
	return off, nil
}

func (f *openFile) Read(b []byte) (int, error) {
	if f.flag&O_WRONLY != 0 {
		return 0, fs.ErrPermission
	}
	data := f.snap
	if f.fs.gen == nil {
		f.fs.mu.RLock()
		defer f.fs.mu.RUnlock()
		data = f.fs.data
	}
	if f.off >= len(data) {
		return 0, io.EOF
	}
	n := copy(b, data[f.off:])
	f.off += n
	return n, nil
}

func (f *openFile) Write(b []byte) (int, error) {
	if f.flag&(O_WRONLY|O_RDWR) == 0 {
		return 0, fs.ErrPermission
	}
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.flag&O_APPEND != 0 {
		f.off = len(f.fs.data)
	}
	if end := f.off + len(b); end > len(f.fs.data) {
		f.fs.data = append(f.fs.data, make([]byte, end-len(f.fs.data))...)
	}
	n := copy(f.fs.data[f.off:], b)
	f.off += n
	f.fs.modTime = time.Now()
	return n, nil
}

func (d *openDir) Close() error {
	return nil
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return &fileInfo{name: d.fs.name, mode: d.fs.mode, modTime: d.fs.modTime}, nil
}

func (d *openDir) Read([]byte) (int, error) {
	return 0, fs.ErrInvalid
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	var arr []fs.DirEntry
	for key, value := range d.fs.subs.Range {
		if n > 0 && len(arr) == n {
			break
		}
		name := key.(string)
		if _, ok := d.read[name]; ok {
			continue
		}
		info, err := fs.Stat(value.(fs.FS), "")
		if err != nil {
			return arr, err
		}
		arr = append(arr, fs.FileInfoToDirEntry(info))
		d.read[name] = struct{}{}
	}
	if n > 0 && len(arr) == 0 {
		return nil, io.EOF
	}
	return arr, nil
}

func split(pathname string) (string, string) {
	pathname = strings.TrimPrefix(path.Clean("/"+pathname), "/")
	i := strings.Index(pathname, "/")
	if i == -1 {
		return pathname, ""
	}
	return pathname[:i], pathname[i+1:]
}
