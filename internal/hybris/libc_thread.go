package hybris

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/wnxd/mcpehost/debugger"
)

// keyStore holds thread-specific data per key and thread.
type keyStore struct {
	mu   sync.Mutex
	next uint32
	vals map[uint32]map[int]uint64
}

func (k *keyStore) create() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.vals == nil {
		k.vals = make(map[uint32]map[int]uint64)
	}
	k.next++
	k.vals[k.next] = make(map[int]uint64)
	return k.next
}

func (k *keyStore) get(key uint32, tid int) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.vals[key][tid]
}

func (k *keyStore) set(key uint32, tid int, v uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.vals[key]
	if !ok {
		return false
	}
	m[tid] = v
	return true
}

func (k *keyStore) remove(key uint32) {
	k.mu.Lock()
	delete(k.vals, key)
	k.mu.Unlock()
}

type mutexState struct {
	owner int
	count int
}

// syncTable tracks guest mutexes and condition variables by address.
// Guest memory of the objects is never interpreted.
type syncTable struct {
	mu      sync.Mutex
	mutexes map[uint64]*mutexState
	conds   map[uint64]uint64
}

func (s *syncTable) tryLock(addr uint64, tid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutexes == nil {
		s.mutexes = make(map[uint64]*mutexState)
	}
	m, ok := s.mutexes[addr]
	if !ok {
		m = &mutexState{}
		s.mutexes[addr] = m
	}
	switch {
	case m.count == 0:
		m.owner, m.count = tid, 1
	case m.owner == tid:
		m.count++
	default:
		return false
	}
	return true
}

// unlock releases one level of addr, or every level when all is set,
// returning the levels released.
func (s *syncTable) unlock(addr uint64, tid int, all bool) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mutexes[addr]
	if !ok || m.count == 0 || m.owner != tid {
		return 0, false
	}
	n := 1
	if all {
		n = m.count
	}
	m.count -= n
	return n, true
}

func (s *syncTable) relock(addr uint64, tid int, levels int) bool {
	if !s.tryLock(addr, tid) {
		return false
	}
	s.mu.Lock()
	s.mutexes[addr].count += levels - 1
	s.mu.Unlock()
	return true
}

func (s *syncTable) forget(addr uint64) {
	s.mu.Lock()
	delete(s.mutexes, addr)
	delete(s.conds, addr)
	s.mu.Unlock()
}

func (s *syncTable) seq(cond uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conds[cond]
}

func (s *syncTable) signal(cond uint64) {
	s.mu.Lock()
	if s.conds == nil {
		s.conds = make(map[uint64]uint64)
	}
	s.conds[cond]++
	s.mu.Unlock()
}

// threadFuncs covers the pthread surface on top of the debugger's
// cooperative scheduler. Blocking calls park the calling guest thread.
func (e *Env) threadFuncs(t *HookTable) {
	for _, name := range []string{
		"pthread_mutexattr_init", "pthread_mutexattr_destroy", "pthread_mutexattr_settype",
		"pthread_condattr_init", "pthread_condattr_destroy", "pthread_condattr_setclock",
		"pthread_attr_init", "pthread_attr_destroy", "pthread_attr_setstacksize",
		"pthread_attr_setdetachstate", "pthread_attr_setschedparam",
		"pthread_detach", "pthread_setname_np", "pthread_sigmask",
	} {
		t.add(name, zero)
	}

	forget := func(ctx debugger.Context) uint64 {
		e.sync.forget(ctx.Arg(0))
		return 0
	}
	for _, name := range []string{"pthread_mutex_init", "pthread_mutex_destroy", "pthread_rwlock_init", "pthread_rwlock_destroy", "pthread_cond_init", "pthread_cond_destroy"} {
		t.add(name, forget)
	}

	lock := func(ctx debugger.Context, _ any) {
		addr, tid := ctx.Arg(0), e.Dbg.CurrentThread()
		e.Dbg.Wait(ctx, func() (uint64, bool) {
			return 0, e.sync.tryLock(addr, tid)
		})
	}
	unlock := func(ctx debugger.Context) uint64 {
		if _, ok := e.sync.unlock(ctx.Arg(0), e.Dbg.CurrentThread(), false); !ok {
			return uint64(syscall.EPERM)
		}
		return 0
	}
	t.AddFunc("pthread_mutex_lock", lock)
	t.AddFunc("pthread_rwlock_rdlock", lock)
	t.AddFunc("pthread_rwlock_wrlock", lock)
	t.add("pthread_mutex_unlock", unlock)
	t.add("pthread_rwlock_unlock", unlock)
	t.add("pthread_mutex_trylock", func(ctx debugger.Context) uint64 {
		if !e.sync.tryLock(ctx.Arg(0), e.Dbg.CurrentThread()) {
			return uint64(syscall.EBUSY)
		}
		return 0
	})

	t.add("pthread_cond_signal", func(ctx debugger.Context) uint64 {
		e.sync.signal(ctx.Arg(0))
		return 0
	})
	t.add("pthread_cond_broadcast", func(ctx debugger.Context) uint64 {
		e.sync.signal(ctx.Arg(0))
		return 0
	})
	t.AddFunc("pthread_cond_wait", func(ctx debugger.Context, _ any) {
		e.condWait(ctx, ctx.Arg(0), ctx.Arg(1), time.Time{})
	})
	t.AddFunc("pthread_cond_timedwait", func(ctx debugger.Context, _ any) {
		e.condWait(ctx, ctx.Arg(0), ctx.Arg(1), e.deadline(ctx.Arg(2), false))
	})
	for _, name := range []string{"pthread_cond_timedwait_monotonic_np", "pthread_cond_timedwait_monotonic"} {
		t.AddFunc(name, func(ctx debugger.Context, _ any) {
			e.condWait(ctx, ctx.Arg(0), ctx.Arg(1), e.deadline(ctx.Arg(2), true))
		})
	}

	t.add("pthread_create", func(ctx debugger.Context) uint64 {
		out, start, arg := ctx.Arg(0), ctx.Arg(2), ctx.Arg(3)
		id, err := e.Dbg.Spawn(start, arg)
		if err != nil {
			libcLog.WithError(err).Errorf("pthread_create(start=%#x) failed", start)
			return uint64(syscall.EAGAIN)
		}
		if out != 0 {
			e.writeWord(out, uint64(id))
		}
		libcLog.Debugf("thread %d started at %#x", id, start)
		return 0
	})
	t.AddFunc("pthread_join", func(ctx debugger.Context, _ any) {
		id, out := int(ctx.Arg(0)), ctx.Arg(1)
		if id == e.Dbg.CurrentThread() {
			ctx.RetWrite(uint64(syscall.EDEADLK))
			return
		}
		if out != 0 {
			e.writeWord(out, 0)
		}
		e.Dbg.Wait(ctx, func() (uint64, bool) {
			return 0, !e.Dbg.ThreadAlive(id)
		})
	})
	t.AddFunc("pthread_exit", func(ctx debugger.Context, _ any) {
		if !e.Dbg.ExitThread(ctx) {
			libcLog.Warn("pthread_exit on the main thread")
			e.Exit(0)
		}
	})
	t.AddFunc("sched_yield", func(ctx debugger.Context, _ any) {
		e.Dbg.Yield(ctx, 0)
	})
	t.add("pthread_equal", func(ctx debugger.Context) uint64 {
		return bool2u(ctx.Arg(0) == ctx.Arg(1))
	})
	t.add("pthread_once", func(ctx debugger.Context) uint64 {
		ctl, init := ctx.Arg(0), ctx.Arg(1)
		done, err := e.ptr(ctl).MemReadUint32()
		if err != nil {
			return uint64(syscall.EINVAL)
		}
		if done != 0 {
			return 0
		}
		e.ptr(ctl).MemWriteUint32(1)
		if _, err := e.Dbg.Call(context.Background(), init); err != nil {
			libcLog.WithError(err).Error("pthread_once initializer failed")
		}
		return 0
	})
	t.add("pthread_key_create", func(ctx debugger.Context) uint64 {
		e.ptr(ctx.Arg(0)).MemWriteUint32(e.keys.create())
		return 0
	})
	t.add("pthread_key_delete", func(ctx debugger.Context) uint64 {
		e.keys.remove(uint32(ctx.Arg(0)))
		return 0
	})
	t.add("pthread_getspecific", func(ctx debugger.Context) uint64 {
		return e.keys.get(uint32(ctx.Arg(0)), e.Dbg.CurrentThread())
	})
	t.add("pthread_setspecific", func(ctx debugger.Context) uint64 {
		if !e.keys.set(uint32(ctx.Arg(0)), e.Dbg.CurrentThread(), ctx.Arg(1)) {
			return uint64(syscall.EINVAL)
		}
		return 0
	})

	t.AddFunc("nanosleep", func(ctx debugger.Context, _ any) {
		var req timespec
		if err := e.Layout.Read(e.ptr(ctx.Arg(0)), &req); err != nil {
			ctx.RetWrite(e.fail(syscall.EFAULT))
			return
		}
		e.sleep(ctx, time.Duration(req.Sec)*time.Second+time.Duration(req.Nsec))
	})
	t.AddFunc("usleep", func(ctx debugger.Context, _ any) {
		e.sleep(ctx, time.Duration(uint32(ctx.Arg(0)))*time.Microsecond)
	})
	t.AddFunc("sleep", func(ctx debugger.Context, _ any) {
		e.sleep(ctx, time.Duration(uint32(ctx.Arg(0)))*time.Second)
	})
}

// deadline converts an absolute guest timespec into a host time.
func (e *Env) deadline(addr uint64, monotonic bool) time.Time {
	var ts timespec
	if err := e.Layout.Read(e.ptr(addr), &ts); err != nil {
		return time.Now()
	}
	d := time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)
	if monotonic {
		return bootTime.Add(d)
	}
	return time.Unix(0, 0).Add(d)
}

// condWait releases mutex, waits for a signal on cond or the deadline
// and reacquires mutex before returning.
func (e *Env) condWait(ctx debugger.Context, cond, mutex uint64, deadline time.Time) {
	tid := e.Dbg.CurrentThread()
	seq := e.sync.seq(cond)
	levels, ok := e.sync.unlock(mutex, tid, true)
	if !ok {
		ctx.RetWrite(uint64(syscall.EPERM))
		return
	}
	e.Dbg.Wait(ctx, func() (uint64, bool) {
		var ret uint64
		if e.sync.seq(cond) == seq {
			if deadline.IsZero() || time.Now().Before(deadline) {
				return 0, false
			}
			ret = uint64(syscall.ETIMEDOUT)
		}
		return ret, e.sync.relock(mutex, tid, levels)
	})
}

// sleep parks the calling thread for d while others run.
func (e *Env) sleep(ctx debugger.Context, d time.Duration) {
	if d <= 0 {
		e.Dbg.Yield(ctx, 0)
		return
	}
	until := time.Now().Add(d)
	e.Dbg.Wait(ctx, func() (uint64, bool) {
		return 0, !time.Now().Before(until)
	})
}
