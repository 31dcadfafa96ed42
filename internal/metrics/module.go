package metrics

import (
	"go.uber.org/fx"
)

// Module provides the prometheus registry for the stream layer
var Module = fx.Module("metrics",
	fx.Provide(NewRegistry),
)
