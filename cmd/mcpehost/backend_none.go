//go:build !unicorn

package main

import (
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/emulator"
)

const backendName = "none"

var errNoBackend = errors.New("built without a CPU backend, rebuild with -tags unicorn")

func newEmulator(arch emulator.Arch) (emulator.Emulator, error) {
	return nil, errors.Wrap(errNoBackend, arch.String())
}
