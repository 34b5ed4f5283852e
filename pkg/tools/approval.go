package tools

import (
	"context"

	"github.com/go-go-golems/turnpike/pkg/toolcalls"
	"github.com/mb0/glob"
	"github.com/rs/zerolog/log"
)

// Approver decides whether a mutating call may run.
type Approver interface {
	Approve(ctx context.Context, call *toolcalls.TrackedCall) (bool, error)
}

type ApproverFunc func(ctx context.Context, call *toolcalls.TrackedCall) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, call *toolcalls.TrackedCall) (bool, error) {
	return f(ctx, call)
}

// ApproveAll approves every call.
var ApproveAll = ApproverFunc(func(context.Context, *toolcalls.TrackedCall) (bool, error) {
	return true, nil
})

// DenyAll denies every call.
var DenyAll = ApproverFunc(func(context.Context, *toolcalls.TrackedCall) (bool, error) {
	return false, nil
})

// AutoApproved reports whether name matches one of the glob patterns.
func AutoApproved(patterns []string, name string) bool {
	for _, p := range patterns {
		matching, err := glob.Match(p, name)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("invalid auto-approve pattern")
			continue
		}
		if matching {
			return true
		}
	}
	return false
}
