package telegram

import "go.uber.org/fx"

// Module provides the Telegram client factory for fx DI
var Module = fx.Module("telegram",
	fx.Provide(NewClientFactory),
)
