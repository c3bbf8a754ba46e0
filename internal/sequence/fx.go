package sequence

import (
	"github.com/smallbiznis/payflow/internal/sequence/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence.service",
	fx.Provide(service.NewAllocator),
	fx.Provide(service.Provide),
)
