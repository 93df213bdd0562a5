package hybris

import (
	"strings"

	"github.com/apex/log"
	"github.com/wnxd/mcpehost/debugger"
)

// Android log priorities.
const (
	logVerbose = 2
	logDebug   = 3
	logInfo    = 4
	logWarn    = 5
	logError   = 6
	logFatal   = 7
)

// LibLog returns liblog.so, forwarding guest log lines to the host logger
// under the guest's tag.
func LibLog(e *Env) *HookTable {
	t := NewHookTable()
	t.add("__android_log_write", func(ctx debugger.Context) uint64 {
		androidLog(int32(ctx.Arg(0)), e.str(ctx.Arg(1)), e.str(ctx.Arg(2)))
		return 1
	})
	t.add("__android_log_print", func(ctx debugger.Context) uint64 {
		androidLog(int32(ctx.Arg(0)), e.str(ctx.Arg(1)), Sprintf(e.Dbg.Emulator(), e.str(ctx.Arg(2)), Variadic(ctx, 3)))
		return 1
	})
	t.add("__android_log_vprint", func(ctx debugger.Context) uint64 {
		androidLog(int32(ctx.Arg(0)), e.str(ctx.Arg(1)), Sprintf(e.Dbg.Emulator(), e.str(ctx.Arg(2)), VaList(e.Dbg, ctx.Arg(3))))
		return 1
	})
	t.add("__android_log_buf_write", func(ctx debugger.Context) uint64 {
		androidLog(int32(ctx.Arg(1)), e.str(ctx.Arg(2)), e.str(ctx.Arg(3)))
		return 1
	})
	t.add("__android_log_assert", func(ctx debugger.Context) uint64 {
		msg := "assertion failed"
		if f := ctx.Arg(2); f != 0 {
			msg = Sprintf(e.Dbg.Emulator(), e.str(f), Variadic(ctx, 3))
		}
		androidLog(logFatal, e.str(ctx.Arg(1)), msg)
		e.Exit(134)
		return 0
	})
	t.add("__android_log_is_loggable", func(ctx debugger.Context) uint64 {
		return bool2u(int32(ctx.Arg(0)) >= logDebug)
	})
	return t
}

func androidLog(prio int32, tag, msg string) {
	if tag == "" {
		tag = "Guest"
	}
	l := log.WithField("component", tag)
	msg = strings.TrimRight(msg, "\n")
	switch {
	case prio <= logDebug:
		l.Debug(msg)
	case prio == logInfo:
		l.Info(msg)
	case prio == logWarn:
		l.Warn(msg)
	default:
		l.Error(msg)
	}
}
