// Package agent drives a reasoning model through a bounded loop of tool
// calls until it produces a structured incident verdict.
package agent
