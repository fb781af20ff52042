/*
Package rampart documents the Rampart module.

This module is CLI-first and ships the rampart command:

	go install github.com/rampartproxy/rampart/cmd/rampart@latest

Most implementation packages in this repository are internal and are not a
stable public Go API.
*/
package rampart
