//go:build !linux

package va

import "github.com/pkg/errors"

// LibVA is unavailable outside linux; NewLibVA always fails.
type LibVA struct {
	Driver
}

// NewLibVA reports that libva cannot be used on this platform.
func NewLibVA(opts LibVAOptions) (*LibVA, error) {
	return nil, errors.New("libva requires linux")
}
