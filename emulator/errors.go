package emulator

import "errors"

var (
	ErrArchUnsupported = errors.New("architecture unsupported")
	ErrArchMismatch    = errors.New("architecture mismatch")
	ErrMemUnmapped     = errors.New("memory unmapped")
	ErrRegUnsupported  = errors.New("register unsupported")
	ErrHookUnsupported = errors.New("hook type unsupported")
	ErrContextEmpty    = errors.New("context not saved")
)
