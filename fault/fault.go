// Package fault delays or drops traffic from one designated peer so that causal
// recovery can be exercised on a live mesh.
package fault

import (
	"fmt"
	"strings"
	"time"

	"vcmesh/datamodel/message"
)

const DefaultDelay = 4000 * time.Millisecond

type Mode int

const (
	ModeDelay Mode = iota
	ModeDrop
)

func (m Mode) String() string {
	switch m {
	case ModeDelay:
		return "delay"
	case ModeDrop:
		return "drop"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "delay":
		return ModeDelay, nil
	case "drop":
		return ModeDrop, nil
	}
	return 0, fmt.Errorf("unknown fault mode %q", s)
}

type Action int

const (
	Pass Action = iota
	Delay
	Drop
)

func (a Action) String() string {
	switch a {
	case Pass:
		return "pass"
	case Delay:
		return "delay"
	case Drop:
		return "drop"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Policy is configured once at startup and read-only afterwards.
// A nil *Policy passes everything through.
type Policy struct {
	Target message.PeerID
	Mode   Mode
	Delay  time.Duration
}

func NewPolicy(target message.PeerID, mode Mode, delay time.Duration) *Policy {
	if target == "" {
		return nil
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Policy{Target: target, Mode: mode, Delay: delay}
}

// Classify decides what happens to a message from sender.
func (p *Policy) Classify(sender message.PeerID) Action {
	if p == nil || sender != p.Target {
		return Pass
	}
	if p.Mode == ModeDrop {
		return Drop
	}
	return Delay
}

// Duration returns the artificial delay applied to delayed messages.
func (p *Policy) Duration() time.Duration {
	if p == nil || p.Delay <= 0 {
		return DefaultDelay
	}
	return p.Delay
}

func (p *Policy) String() string {
	if p == nil {
		return "none"
	}
	if p.Mode == ModeDrop {
		return fmt.Sprintf("drop from %s", p.Target)
	}
	return fmt.Sprintf("delay %v from %s", p.Duration(), p.Target)
}
