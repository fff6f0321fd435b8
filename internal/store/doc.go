// ABOUTME: Package documentation for the flat-file config store
// ABOUTME: Explains the whole-file load/save model and its last-writer-wins behavior

// Package store persists botfleet's configuration as flat JSON arrays.
//
// Every file is read wholesale and rewritten wholesale. A FileRepository
// serializes its own reads and writes, but nothing coordinates two writers
// that both loaded the same snapshot: the later Save wins and no merge is
// attempted. BotStore and InstalledStore hold the list in memory and rewrite
// the backing file on every mutation.
package store
