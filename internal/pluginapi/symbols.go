// ABOUTME: Interpreter symbol table exposing this package to scripted plugins
// ABOUTME: Plugins import it as "fleet" and reference fleet.Agent, fleet.Surface and friends

package pluginapi

import (
	"reflect"

	"github.com/traefik/yaegi/interp"
)

// ImportPath is the path plugin sources use to import this package.
const ImportPath = "fleet"

// Symbols is registered with every plugin interpreter.
var Symbols = interp.Exports{
	ImportPath + "/" + ImportPath: {
		"Agent":     reflect.ValueOf((*Agent)(nil)),
		"Surface":   reflect.ValueOf((*Surface)(nil)),
		"BotConfig": reflect.ValueOf((*BotConfig)(nil)),
		"Event":     reflect.ValueOf((*Event)(nil)),
		"EventType": reflect.ValueOf((*EventType)(nil)),

		"EventLogin": reflect.ValueOf(EventLogin),
		"EventSpawn": reflect.ValueOf(EventSpawn),
		"EventChat":  reflect.ValueOf(EventChat),
		"EventError": reflect.ValueOf(EventError),
		"EventEnd":   reflect.ValueOf(EventEnd),
	},
}
