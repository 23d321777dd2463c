// Package compose renders compose descriptors into the key/value trees the
// descriptor validator works on, and lists their services and profiles.
//
// Two renderers are provided: NativeRenderer loads descriptors in-process
// with compose-go, CLIRenderer shells out to "docker compose config".
package compose

import (
	"context"

	"github.com/artpar/releaser/internal/core/descriptor"
)

// DefaultFile is the build-time descriptor at the root of a checkout.
const DefaultFile = "docker-compose.yaml"

// Request identifies one descriptor of a checkout.
type Request struct {
	Dir string // checkout directory

	// File is relative to Dir; empty selects DefaultFile.
	File string

	// EnvFiles are dotenv files relative to Dir loaded, in order, on top of
	// the process environment for interpolation.
	EnvFiles []string
}

// Label names the descriptor in messages.
func (r Request) Label() string {
	if r.File == "" {
		return DefaultFile
	}
	return r.File
}

// Renderer renders descriptors.
type Renderer interface {
	// Render interpolates and normalizes the descriptor. Failures are carried
	// in the returned Rendered, never as a nil result.
	Render(ctx context.Context, req Request) *descriptor.Rendered

	// Services lists the services enabled under the active profiles.
	Services(ctx context.Context, req Request) ([]string, error)

	// Profiles lists every profile the descriptor declares.
	Profiles(ctx context.Context, req Request) ([]string, error)
}
