//go:build unicorn

package main

import (
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/emulator/unicorn"
)

const backendName = "unicorn"

func newEmulator(arch emulator.Arch) (emulator.Emulator, error) {
	return unicorn.New(arch)
}
