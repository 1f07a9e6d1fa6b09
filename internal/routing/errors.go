package routing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCapability reports that no candidate agent covered the
	// required capability set. Raised only once the whole chain is exhausted.
	ErrMissingCapability = errors.New("missing capability")

	// ErrAgentUnreachable reports that every otherwise-satisfying candidate
	// was health-gated out.
	ErrAgentUnreachable = errors.New("agent unreachable")

	// ErrNoRoutingDefaults reports that no candidate existed at all.
	ErrNoRoutingDefaults = errors.New("no routing defaults found")

	// ErrUnknownAgent reports an agent slug or id the registry does not know.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownProfile reports a qa-profile or docdex-scope value outside the
	// known sets. Rejected before any persistence.
	ErrUnknownProfile = errors.New("unknown profile")
)

type CapabilityError struct {
	Command string
	Agent   string // empty when aggregated over the whole chain
	Missing []string
}

func (e *CapabilityError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("agent %q lacks capabilities [%s] required for command %q",
			e.Agent, strings.Join(e.Missing, ", "), e.Command)
	}
	return fmt.Sprintf("no agent satisfies command %q: missing capabilities [%s]",
		e.Command, strings.Join(e.Missing, ", "))
}

func (e *CapabilityError) Unwrap() error {
	return ErrMissingCapability
}

type UnknownProfileError struct {
	Field string
	Value string
	Known []string
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("unknown %s %q (known: %s)", e.Field, e.Value, strings.Join(e.Known, ", "))
}

func (e *UnknownProfileError) Unwrap() error {
	return ErrUnknownProfile
}
