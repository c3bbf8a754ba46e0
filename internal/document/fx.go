package document

import (
	"github.com/smallbiznis/payflow/internal/document/repository"
	"github.com/smallbiznis/payflow/internal/document/service"
	"go.uber.org/fx"
)

var Module = fx.Module("document.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
