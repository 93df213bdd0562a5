package hybris

import (
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/wnxd/mcpehost/debugger"
)

// ProcAddress resolves a GL entry point by name, the way a window
// system's GetProcAddress does.
type ProcAddress func(name string) (Hook, bool)

const (
	glVendor                 = 0x1F00
	glRenderer               = 0x1F01
	glVersion                = 0x1F02
	glExtensions             = 0x1F03
	glShadingLanguageVersion = 0x8B8C
	glMaxTextureSize         = 0x0D33
	glMaxVertexAttribs       = 0x8869
	glMaxTextureImageUnits   = 0x8872
	glMaxRenderbufferSize    = 0x84E8
	glCompileStatus          = 0x8B81
	glLinkStatus             = 0x8B82
	glValidateStatus         = 0x8B83
	glFramebufferComplete    = 0x8CD5
	glRGBA                   = 0x1908
	glBGRA                   = 0x80E1
)

// GLES2 binds every GLES 2.0 entry point proc knows into a table for
// libGLESv2.so.
func GLES2(proc ProcAddress) *HookTable {
	t := NewHookTable()
	for _, name := range gles2Names {
		if h, ok := proc(name); ok {
			t.Add(name, h)
		}
	}
	return t
}

// HeadlessGL answers GL calls without a GPU. Object names are handed
// out from one counter and queries report a minimal ES 2.0 context.
type HeadlessGL struct {
	env *Env

	Vendor   string
	Renderer string
	Version  string

	mu      sync.Mutex
	next    uint32
	strs    map[uint64]uint64
	funcs   map[string]cfunc
	missing map[string]bool
}

func NewHeadlessGL(e *Env) *HeadlessGL {
	g := &HeadlessGL{
		env:      e,
		Vendor:   "mcpehost",
		Renderer: "headless",
		Version:  "OpenGL ES 2.0",
		strs:     make(map[uint64]uint64),
		missing:  make(map[string]bool),
	}
	gen := func(ctx debugger.Context) uint64 {
		n, out := uint32(ctx.Arg(0)), ctx.Arg(1)
		for i := range n {
			e.ptr(out + uint64(i)*4).MemWriteUint32(g.name())
		}
		return 0
	}
	object := func(debugger.Context) uint64 {
		return uint64(g.name())
	}
	g.funcs = map[string]cfunc{
		"glGetString": func(ctx debugger.Context) uint64 {
			return g.str(ctx.Arg(0))
		},
		"glGetError": zero,
		"glGetIntegerv": func(ctx debugger.Context) uint64 {
			var v uint32
			switch ctx.Arg(0) {
			case glMaxTextureSize, glMaxRenderbufferSize:
				v = 4096
			case glMaxVertexAttribs, glMaxTextureImageUnits:
				v = 16
			}
			e.ptr(ctx.Arg(1)).MemWriteUint32(v)
			return 0
		},
		"glGetShaderiv":  g.status,
		"glGetProgramiv": g.status,
		"glGetShaderInfoLog": func(ctx debugger.Context) uint64 {
			g.emptyLog(ctx.Arg(1), ctx.Arg(2), ctx.Arg(3))
			return 0
		},
		"glGetProgramInfoLog": func(ctx debugger.Context) uint64 {
			g.emptyLog(ctx.Arg(1), ctx.Arg(2), ctx.Arg(3))
			return 0
		},
		"glCheckFramebufferStatus": func(debugger.Context) uint64 {
			return glFramebufferComplete
		},
		"glGenTextures":        gen,
		"glGenBuffers":         gen,
		"glGenFramebuffers":    gen,
		"glGenRenderbuffers":   gen,
		"glGenVertexArrays":    gen,
		"glGenQueries":         gen,
		"glCreateShader":       object,
		"glCreateProgram":      object,
		"glGetAttribLocation":  object,
		"glGetUniformLocation": object,
		"glIsEnabled":          zero,
		"glIsTexture":          zero,
		"glGetBooleanv":        zero,
		"glGetFloatv":          zero,
	}
	return g
}

func (g *HeadlessGL) name() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}

// str returns the guest copy of a glGetString answer.
func (g *HeadlessGL) str(which uint64) uint64 {
	var s string
	switch which {
	case glVendor:
		s = g.Vendor
	case glRenderer:
		s = g.Renderer
	case glVersion:
		s = g.Version
	case glShadingLanguageVersion:
		s = "OpenGL ES GLSL ES 1.00"
	case glExtensions:
		s = ""
	default:
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if addr, ok := g.strs[which]; ok {
		return addr
	}
	addr := g.env.newString(s)
	g.strs[which] = addr
	return addr
}

func (g *HeadlessGL) status(ctx debugger.Context) uint64 {
	var v uint32
	switch ctx.Arg(1) {
	case glCompileStatus, glLinkStatus, glValidateStatus:
		v = 1
	}
	g.env.ptr(ctx.Arg(2)).MemWriteUint32(v)
	return 0
}

func (g *HeadlessGL) emptyLog(size, length, buf uint64) {
	if length != 0 {
		g.env.ptr(length).MemWriteUint32(0)
	}
	if buf != 0 && size > 0 {
		g.env.ptr(buf).MemWrite([]byte{0})
	}
}

// Proc resolves every gl-prefixed name. Calls without a dedicated
// implementation return 0.
func (g *HeadlessGL) Proc(name string) (Hook, bool) {
	if fn, ok := g.funcs[name]; ok {
		return Func(wrap(fn)), true
	}
	if !strings.HasPrefix(name, "gl") {
		return Hook{}, false
	}
	return Func(func(ctx debugger.Context, _ any) {
		g.mu.Lock()
		first := !g.missing[name]
		g.missing[name] = true
		g.mu.Unlock()
		if first {
			log.WithField("component", "gl").Debugf("%s has no effect", name)
		}
		ctx.RetWrite(uint64(0))
	}), true
}

var gles2Names = []string{
	"glActiveTexture", "glAttachShader", "glBindAttribLocation", "glBindBuffer",
	"glBindFramebuffer", "glBindRenderbuffer", "glBindTexture", "glBlendColor",
	"glBlendEquation", "glBlendEquationSeparate", "glBlendFunc", "glBlendFuncSeparate",
	"glBufferData", "glBufferSubData", "glCheckFramebufferStatus", "glClear",
	"glClearColor", "glClearDepthf", "glClearStencil", "glColorMask",
	"glCompileShader", "glCompressedTexImage2D", "glCompressedTexSubImage2D", "glCopyTexImage2D",
	"glCopyTexSubImage2D", "glCreateProgram", "glCreateShader", "glCullFace",
	"glDeleteBuffers", "glDeleteFramebuffers", "glDeleteProgram", "glDeleteRenderbuffers",
	"glDeleteShader", "glDeleteTextures", "glDepthFunc", "glDepthMask",
	"glDepthRangef", "glDetachShader", "glDisable", "glDisableVertexAttribArray",
	"glDrawArrays", "glDrawElements", "glEnable", "glEnableVertexAttribArray",
	"glFinish", "glFlush", "glFramebufferRenderbuffer", "glFramebufferTexture2D",
	"glFrontFace", "glGenBuffers", "glGenerateMipmap", "glGenFramebuffers",
	"glGenRenderbuffers", "glGenTextures", "glGetActiveAttrib", "glGetActiveUniform",
	"glGetAttachedShaders", "glGetAttribLocation", "glGetBooleanv", "glGetBufferParameteriv",
	"glGetError", "glGetFloatv", "glGetFramebufferAttachmentParameteriv", "glGetIntegerv",
	"glGetProgramiv", "glGetProgramInfoLog", "glGetRenderbufferParameteriv", "glGetShaderiv",
	"glGetShaderInfoLog", "glGetShaderPrecisionFormat", "glGetShaderSource", "glGetString",
	"glGetTexParameterfv", "glGetTexParameteriv", "glGetUniformfv", "glGetUniformiv",
	"glGetUniformLocation", "glGetVertexAttribfv", "glGetVertexAttribiv", "glGetVertexAttribPointerv",
	"glHint", "glIsBuffer", "glIsEnabled", "glIsFramebuffer",
	"glIsProgram", "glIsRenderbuffer", "glIsShader", "glIsTexture",
	"glLineWidth", "glLinkProgram", "glPixelStorei", "glPolygonOffset",
	"glReadPixels", "glReleaseShaderCompiler", "glRenderbufferStorage", "glSampleCoverage",
	"glScissor", "glShaderBinary", "glShaderSource", "glStencilFunc",
	"glStencilFuncSeparate", "glStencilMask", "glStencilMaskSeparate", "glStencilOp",
	"glStencilOpSeparate", "glTexImage2D", "glTexParameterf", "glTexParameterfv",
	"glTexParameteri", "glTexParameteriv", "glTexSubImage2D", "glUniform1f",
	"glUniform1fv", "glUniform1i", "glUniform1iv", "glUniform2f",
	"glUniform2fv", "glUniform2i", "glUniform2iv", "glUniform3f",
	"glUniform3fv", "glUniform3i", "glUniform3iv", "glUniform4f",
	"glUniform4fv", "glUniform4i", "glUniform4iv", "glUniformMatrix2fv",
	"glUniformMatrix3fv", "glUniformMatrix4fv", "glUseProgram", "glValidateProgram",
	"glVertexAttrib1f", "glVertexAttrib1fv", "glVertexAttrib2f", "glVertexAttrib2fv",
	"glVertexAttrib3f", "glVertexAttrib3fv", "glVertexAttrib4f", "glVertexAttrib4fv",
	"glVertexAttribPointer", "glViewport",
}
