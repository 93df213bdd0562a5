package patch

import (
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/hybris"
)

// Cursor is the window side of mouse pointer visibility.
type Cursor interface {
	ShowMousePointer()
	HideMousePointer()
}

const (
	symShowMousePointer = "_ZN11AppPlatform16showMousePointerEv"
	symHideMousePointer = "_ZN11AppPlatform16hideMousePointerEv"

	symAndroidShowMousePointer = "_ZN19AppPlatform_android16showMousePointerEv"
	symAndroidHideMousePointer = "_ZN19AppPlatform_android16hideMousePointerEv"

	symTexelAA         = "_ZNK3mce18RenderDeviceGLBase22supportsTexelAAWithMipEv"
	symTexelAALegacy   = "_ZN3mce18RenderDeviceGLBase19isTexelAASupportedEv"
	symHbuiEnabled     = "_ZN4hbui14FeatureToggles13isHbuiEnabledEv"
	symSplitscreen     = "_ZNK11AppPlatform21supportsSplitscreenEv"
	symShaderError     = "_ZN3mce12ShaderHelper19outputShaderErrorLogEPKc"
	symXboxShutdown    = "_ZN4xbox8services16xbox_live_helper8shutdownEv"
	symImmediateMode   = "_ZN2gl21supportsImmediateModeEv"
	symGLES3           = "_ZN2gl12isOpenGLES3Ev"
	symRenderDragonAPI = "bgfx_init"
)

func cursorCallback(fn func()) debugger.ControlCallback {
	return func(ctx debugger.Context, _ any) {
		fn()
	}
}

// CoreHooks binds the pointer visibility functions at load time so
// calls through the PLT reach the window too.
func CoreHooks(c Cursor) *hybris.HookTable {
	t := hybris.NewHookTable()
	t.AddFunc(symShowMousePointer, cursorCallback(c.ShowMousePointer))
	t.AddFunc(symHideMousePointer, cursorCallback(c.HideMousePointer))
	return t
}

// IsRenderDragon reports whether the game renders through bgfx.
func IsRenderDragon(t *Target) bool {
	return t.Has(symRenderDragonAPI)
}

func Core(c Cursor) Patch {
	return Patch{
		Name: "core",
		Apply: func(t *Target) error {
			show := t.Redirect(symAndroidShowMousePointer, cursorCallback(c.ShowMousePointer))
			hide := t.Redirect(symAndroidHideMousePointer, cursorCallback(c.HideMousePointer))
			if show != nil && hide != nil {
				return show
			}
			return nil
		},
	}
}

func TexelAA() Patch {
	return Patch{
		Name: "texel-aa",
		Arch: X86Family,
		Apply: func(t *Target) error {
			addr, err := t.Symbol(symTexelAA, symTexelAALegacy)
			if err != nil {
				return err
			}
			return WriteReturn(t.Dbg, addr, 0)
		},
	}
}

func Hbui() Patch {
	return Patch{
		Name: "hbui",
		Arch: X86Only,
		Apply: func(t *Target) error {
			return t.Return(symHbuiEnabled, 0)
		},
	}
}

func Splitscreen() Patch {
	return Patch{
		Name: "splitscreen",
		Arch: X86Only,
		Apply: func(t *Target) error {
			return t.Return(symSplitscreen, 0)
		},
	}
}

func ShaderError() Patch {
	return Patch{
		Name: "shader-error",
		Arch: X86Only,
		Apply: func(t *Target) error {
			return t.Redirect(symShaderError, func(ctx debugger.Context, _ any) {
				msg, _ := ctx.ToPointer(ctx.Arg(0)).MemReadString()
				patchLog.Warnf("shader error: %s", msg)
			})
		},
	}
}

// XboxShutdown skips the Xbox Live teardown that hangs on exit. Process
// exit bypasses that path already, so the patch stays disabled.
func XboxShutdown() Patch {
	return Patch{
		Name:     "xbox-shutdown",
		Arch:     X86Family,
		Disabled: true,
		Apply: func(t *Target) error {
			return t.Return(symXboxShutdown, 0)
		},
	}
}

// GLCore lets the game render on a desktop GL context.
func GLCore() Patch {
	return Patch{
		Name:     "gl-core",
		Critical: true,
		Apply: func(t *Target) error {
			if IsRenderDragon(t) {
				return errors.Wrap(ErrRendererIncompatible, "bgfx renderer")
			}
			if err := t.Return(symImmediateMode, 0); err != nil {
				return errors.Wrap(ErrRendererIncompatible, err.Error())
			}
			if t.Has(symGLES3) {
				if err := t.Return(symGLES3, 0); err != nil {
					return errors.Wrap(ErrRendererIncompatible, err.Error())
				}
			}
			return nil
		},
	}
}

// Standard returns the patches applied to every game library, in order.
func Standard(c Cursor) *Set {
	return NewSet(
		Core(c),
		TexelAA(),
		Hbui(),
		Splitscreen(),
		ShaderError(),
		XboxShutdown(),
	)
}
