// Package model contains the persisted domain records of the offline
// command queue: queued service calls, dead-lettered commands and the
// generic key/value settings table.
package model

// DefaultTablePrefix is the table prefix used when none is configured.
const DefaultTablePrefix = "hublink_"
