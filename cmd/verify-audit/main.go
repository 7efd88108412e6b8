// verify-audit walks the audit chain and reports the first break, if any.
// Exit code 0 means the checked range is intact, 1 means a break was found.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"authgrid.org/internal/ledger"
	pgstore "authgrid.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn   = flag.String("dsn", os.Getenv("AUTHGRID_DATABASE_URL"), "PostgreSQL DSN")
		start = flag.Uint64("start", 0, "first sequence to check (0 = from genesis)")
		end   = flag.Uint64("end", 0, "last sequence to check (0 = chain tip)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AUTHGRID_DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := pgstore.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	svc, err := ledger.NewService(store.Ledger())
	if err != nil {
		log.Fatalf("ledger service: %v", err)
	}

	result, err := svc.Verify(ctx, *start, *end)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}

	if result.Valid {
		fmt.Printf("chain intact: %d entries checked (sequences %d..%d)\n",
			result.Checked, result.StartSequence, result.EndSequence)
		return
	}
	fmt.Printf("chain BROKEN at sequence %d (%d entries checked)\n",
		result.FirstBreakSequence, result.Checked)
	os.Exit(1)
}
