package member

import (
	"github.com/moradacoop/morada/internal/member/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("member",
	fx.Provide(repository.Provide),
)
