package main

import (
	"fleet"
	"strings"
)

func Init(a fleet.Agent, c fleet.BotConfig) error {
	a.On(fleet.EventChat, func(e fleet.Event) {
		if e.From == c.Username {
			return
		}
		if strings.HasPrefix(e.Text, "!ping") {
			a.Chat("pong")
		}
	})
	return a.Chat("sampleplugin ready on " + c.Server)
}
