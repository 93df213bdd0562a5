package debugger

import (
	"context"
)

// ThreadManager schedules guest threads cooperatively on the one
// emulated CPU. Threads switch only inside host functions.
type ThreadManager interface {
	// MainThread returns the id of the thread host calls run on.
	MainThread() int
	// CurrentThread returns the id of the thread executing guest code.
	CurrentThread() int
	// ThreadAlive reports whether thread id has not exited.
	ThreadAlive(id int) bool
	// Threads returns the number of live threads, main included.
	Threads() int
	// Spawn creates a thread that calls addr with args once scheduled.
	Spawn(addr uint64, args ...uint64) (int, error)
	// Yield returns ret from the running host function and lets another
	// runnable thread execute first. It reports whether one did.
	Yield(ctx Context, ret uint64) bool
	// Wait blocks the calling thread until ready reports true, running
	// other threads meanwhile. The value ready returns along with true is
	// returned from the host function. ready runs with the scheduler
	// locked and its side effects commit once it reports true.
	Wait(ctx Context, ready func() (uint64, bool))
	// ExitThread ends the calling thread. The main thread cannot exit.
	ExitThread(ctx Context) bool
	// RunThreads lends the main thread to spawned threads until every one
	// of them exited or ctx is done.
	RunThreads(ctx context.Context) error
}
