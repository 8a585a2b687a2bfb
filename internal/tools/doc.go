// Package tools wraps host command execution for the OS registration helpers.
package tools
