package hybris

import (
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/wnxd/mcpehost/debugger"
)

type asset struct {
	data []byte
	pos  int64
	buf  uint64
}

type assetDir struct {
	names []string
	pos   int
	strs  []uint64
}

// AssetManager serves AAssetManager reads from the game's asset tree.
type AssetManager struct {
	env    *Env
	fsys   fs.FS
	handle uint64

	mu     sync.Mutex
	assets map[uint64]*asset
	dirs   map[uint64]*assetDir
}

func NewAssetManager(e *Env, fsys fs.FS) (*AssetManager, error) {
	handle, err := e.Dbg.MemAlloc(16)
	if err != nil {
		return nil, err
	}
	return &AssetManager{
		env:    e,
		fsys:   fsys,
		handle: handle,
		assets: make(map[uint64]*asset),
		dirs:   make(map[uint64]*assetDir),
	}, nil
}

func (m *AssetManager) Handle() uint64 {
	return m.handle
}

func assetPath(name string) string {
	name = path.Clean("/" + name)
	if name == "/" {
		return "."
	}
	return strings.TrimPrefix(name, "/")
}

// Open reads name into a new asset and returns its guest handle, or 0.
func (m *AssetManager) Open(name string) uint64 {
	data, err := fs.ReadFile(m.fsys, assetPath(name))
	if err != nil {
		log.WithField("component", "assets").Debugf("open %s: %v", name, err)
		return 0
	}
	handle, err := m.env.Dbg.MemAlloc(8)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	m.assets[handle] = &asset{data: data}
	m.mu.Unlock()
	return handle
}

func (m *AssetManager) asset(handle uint64) (*asset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[handle]
	return a, ok
}

func (m *AssetManager) seek(handle uint64, off int64, whence int) int64 {
	a, ok := m.asset(handle)
	if !ok {
		return -1
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = a.pos
	case io.SeekEnd:
		base = int64(len(a.data))
	default:
		return -1
	}
	if pos := base + off; pos >= 0 && pos <= int64(len(a.data)) {
		a.pos = pos
		return pos
	}
	return -1
}

func (m *AssetManager) close(handle uint64) {
	m.mu.Lock()
	a, ok := m.assets[handle]
	delete(m.assets, handle)
	m.mu.Unlock()
	if !ok {
		return
	}
	if a.buf != 0 {
		m.env.Dbg.MemFree(a.buf)
	}
	m.env.Dbg.MemFree(handle)
}

func (m *AssetManager) openDir(name string) uint64 {
	entries, err := fs.ReadDir(m.fsys, assetPath(name))
	if err != nil {
		return 0
	}
	d := &assetDir{}
	for _, entry := range entries {
		if !entry.IsDir() {
			d.names = append(d.names, entry.Name())
		}
	}
	handle, err := m.env.Dbg.MemAlloc(8)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	m.dirs[handle] = d
	m.mu.Unlock()
	return handle
}

func (m *AssetManager) nextName(handle uint64) uint64 {
	m.mu.Lock()
	d, ok := m.dirs[handle]
	m.mu.Unlock()
	if !ok || d.pos >= len(d.names) {
		return 0
	}
	s := m.env.newString(d.names[d.pos])
	d.pos++
	d.strs = append(d.strs, s)
	return s
}

func (m *AssetManager) closeDir(handle uint64) {
	m.mu.Lock()
	d, ok := m.dirs[handle]
	delete(m.dirs, handle)
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, s := range d.strs {
		m.env.Dbg.MemFree(s)
	}
	m.env.Dbg.MemFree(handle)
}

func (m *AssetManager) InitHooks(t *HookTable) {
	e := m.env
	t.add("AAssetManager_fromJava", func(debugger.Context) uint64 {
		return m.handle
	})
	t.add("AAssetManager_open", func(ctx debugger.Context) uint64 {
		return m.Open(e.str(ctx.Arg(1)))
	})
	t.add("AAssetManager_openDir", func(ctx debugger.Context) uint64 {
		return m.openDir(e.str(ctx.Arg(1)))
	})
	t.add("AAssetDir_getNextFileName", func(ctx debugger.Context) uint64 {
		return m.nextName(ctx.Arg(0))
	})
	t.add("AAssetDir_rewind", func(ctx debugger.Context) uint64 {
		m.mu.Lock()
		if d, ok := m.dirs[ctx.Arg(0)]; ok {
			d.pos = 0
		}
		m.mu.Unlock()
		return 0
	})
	t.add("AAssetDir_close", func(ctx debugger.Context) uint64 {
		m.closeDir(ctx.Arg(0))
		return 0
	})
	t.add("AAsset_close", func(ctx debugger.Context) uint64 {
		m.close(ctx.Arg(0))
		return 0
	})
	t.add("AAsset_read", func(ctx debugger.Context) uint64 {
		a, ok := m.asset(ctx.Arg(0))
		if !ok {
			return e.minusOne()
		}
		n := min(int64(ctx.Arg(2)), int64(len(a.data))-a.pos)
		if n <= 0 {
			return 0
		}
		if err := e.ptr(ctx.Arg(1)).MemWrite(a.data[a.pos : a.pos+n]); err != nil {
			return e.minusOne()
		}
		a.pos += n
		return uint64(n)
	})
	t.add("AAsset_seek", func(ctx debugger.Context) uint64 {
		return uint64(m.seek(ctx.Arg(0), e.signed(ctx.Arg(1)), int(int32(ctx.Arg(2)))))
	})
	t.AddFunc("AAsset_seek64", func(ctx debugger.Context, _ any) {
		args := Variadic(ctx, 1)
		off := int64(args.Long())
		whence := int(int32(args.Word()))
		RetLong(ctx, uint64(m.seek(ctx.Arg(0), off, whence)))
	})
	t.add("AAsset_getLength", func(ctx debugger.Context) uint64 {
		if a, ok := m.asset(ctx.Arg(0)); ok {
			return uint64(len(a.data))
		}
		return 0
	})
	t.AddFunc("AAsset_getLength64", func(ctx debugger.Context, _ any) {
		var n uint64
		if a, ok := m.asset(ctx.Arg(0)); ok {
			n = uint64(len(a.data))
		}
		RetLong(ctx, n)
	})
	t.add("AAsset_getRemainingLength", func(ctx debugger.Context) uint64 {
		if a, ok := m.asset(ctx.Arg(0)); ok {
			return uint64(int64(len(a.data)) - a.pos)
		}
		return 0
	})
	t.AddFunc("AAsset_getRemainingLength64", func(ctx debugger.Context, _ any) {
		var n uint64
		if a, ok := m.asset(ctx.Arg(0)); ok {
			n = uint64(int64(len(a.data)) - a.pos)
		}
		RetLong(ctx, n)
	})
	t.add("AAsset_getBuffer", func(ctx debugger.Context) uint64 {
		a, ok := m.asset(ctx.Arg(0))
		if !ok {
			return 0
		}
		if a.buf == 0 {
			buf, err := e.Dbg.MemAlloc(uint64(max(len(a.data), 1)))
			if err != nil {
				return 0
			}
			e.ptr(buf).MemWrite(a.data)
			a.buf = buf
		}
		return a.buf
	})
	t.add("AAsset_isAllocated", zero)
	t.add("AAsset_openFileDescriptor", func(debugger.Context) uint64 {
		return e.minusOne()
	})
}
