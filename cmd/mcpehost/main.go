package main

import (
	"os"
	"runtime"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/wnxd/mcpehost/internal/threadmover"
)

func init() {
	// keeps main on the thread the process started on
	runtime.LockOSThread()
}

func main() {
	log.SetHandler(clihander.Default)
	mover := threadmover.New()
	os.Exit(execute(mover, os.Args[1:]))
}
