package main

func Init(a fleet.Agent, c fleet.BotConfig) error {
	return missingSymbol(
}
