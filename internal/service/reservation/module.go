package reservation

import "go.uber.org/fx"

// Module provides the reservation manager to Fx.
var Module = fx.Provide(NewManager)
