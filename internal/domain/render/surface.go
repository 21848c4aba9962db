package render

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Surface is the rendering side of a session. Mount and Unmount are driven
// by the session registry; Deliver is driven by the Dispatcher once the
// session is ready.
//
// The surface reports back through the registry: MarkReady once content is
// live, ConfirmTeardown after an Unmount completes, ReportRenderFailure when
// it can no longer render.
type Surface interface {
	Mount(ctx context.Context, info types.SessionInfo, manifest types.AppManifest) (string, error)
	Deliver(ctx context.Context, info types.SessionInfo, msg types.Message) error
	Unmount(ctx context.Context, info types.SessionInfo) error
}
