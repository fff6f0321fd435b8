package main

import "fleet"

func Init(a fleet.Agent, c fleet.BotConfig) error {
	return nil
}
