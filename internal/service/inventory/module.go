package inventory

import "go.uber.org/fx"

// Module provides the inventory audit service to Fx.
var Module = fx.Provide(NewService)
