// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package main is the calendar sync service: it keeps recurring meeting
// series in step with the users' remote calendars and answers availability
// queries over NATS.
package main

// version is set at build time
var version = "dev"

func main() {
	SetVersion(version)
	Execute()
}
