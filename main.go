// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("go-ledgersync - Offline-First Ledger Sync Engine")
	fmt.Println("================================================")
	fmt.Println()
	fmt.Println("go-ledgersync provides an embeddable local-write/remote-reconciliation engine")
	fmt.Println("for personal-finance data: optimistic local writes over SQLite, server-owned")
	fmt.Println("version counters, tombstone-based soft deletes, mutation locking for in-flight")
	fmt.Println("pushes, and a retry/discard conflict resolution surface.")
	fmt.Println()
	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("  ledgerlocal/  Core engine: local store, repository, lock manager,")
	fmt.Println("                sync applier, conflict surface, push loop")
	fmt.Println("  ledgersync/   HTTP push driver and bearer-token helpers")
	fmt.Println("  ledger/       Personal-finance domain records (categories, accounts,")
	fmt.Println("                transactions) layered on the core")
}
