// Package enhance produces the enhanced candidate image that the compositor
// blends with the original outside protected face regions.
//
// The mode is a closed set. Each mode maps to exactly one Strategy built by
// New; callers never branch on the mode string themselves.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// Mode selects how candidates are produced.
type Mode int

const (
	// ModeAuto tries the remote service first and falls back to local.
	ModeAuto Mode = iota
	// ModeRemoteOnly surfaces remote failures as stage failures.
	ModeRemoteOnly
	// ModeLocalOnly never touches the network.
	ModeLocalOnly
	// ModeDisabled returns an identity copy of the input.
	ModeDisabled
)

var modeNames = map[Mode]string{
	ModeAuto:       "auto",
	ModeRemoteOnly: "remote-only",
	ModeLocalOnly:  "local-only",
	ModeDisabled:   "disabled",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the names printed by String. Underscores are accepted in
// place of dashes.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for m, n := range modeNames {
		if n == norm {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown enhancement mode %q (want auto, remote-only, local-only or disabled)", s)
}

// UsesNetwork reports whether the mode may call the remote service.
func (m Mode) UsesNetwork() bool { return m == ModeAuto || m == ModeRemoteOnly }

// Candidate is the output of a Strategy.
type Candidate struct {
	Image *image.NRGBA
	// Source names the method that produced Image: remote, local or disabled.
	Source string
	// FellBack is set when auto mode had to use the local method.
	FellBack bool
	// Identity marks an unmodified copy of the input.
	Identity bool
}

// Strategy produces a candidate of the same size as its input.
type Strategy interface {
	Name() string
	ProduceCandidate(ctx context.Context, img image.Image) (Candidate, error)
}

// ErrNoRemoteClient is returned when a network mode is selected without a
// configured remote client.
var ErrNoRemoteClient = errors.New("remote enhancement client not configured")

// New builds the Strategy for mode. remote may be nil for local-only and
// disabled.
func New(mode Mode, remote *Remote, local *Local) (Strategy, error) {
	switch mode {
	case ModeDisabled:
		return Disabled{}, nil
	case ModeLocalOnly:
		if local == nil {
			local = NewLocal(DefaultLocalConfig())
		}
		return local, nil
	case ModeRemoteOnly:
		if remote == nil {
			return nil, ErrNoRemoteClient
		}
		return remote, nil
	case ModeAuto:
		if remote == nil {
			return nil, ErrNoRemoteClient
		}
		if local == nil {
			local = NewLocal(DefaultLocalConfig())
		}
		return NewAuto(remote, local, nil), nil
	}
	return nil, fmt.Errorf("unsupported enhancement mode %s", mode)
}
