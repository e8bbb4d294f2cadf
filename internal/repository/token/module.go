package token

import "go.uber.org/fx"

// Module provides the token inventory repository to Fx.
var Module = fx.Provide(NewRepository)
