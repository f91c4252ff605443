// Command oagw runs the outbound API gateway: an in-process egress
// proxy with tenant-scoped routing, hierarchical configuration, a
// plugin execution chain, and rate/concurrency limiting (spec.md §1).
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
