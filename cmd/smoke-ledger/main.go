// smoke-ledger runs the overdraft scenario against the configured store:
// limit 500.00, credit 1000.00, charge 1500.00 (ok), charge 0.01 (refused).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"paykiosk.org/internal/app"
	"paykiosk.org/internal/config"
	"paykiosk.org/internal/ledger"
)

func main() {
	log.SetFlags(0)
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	defer a.Close()
	svc := a.Ledger

	acc, err := svc.CreateAccount(ctx, ledger.NewAccount{
		DisplayName: fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		Limit:       50_000,
	})
	if err != nil {
		log.Fatalf("create account: %v", err)
	}
	if _, err := svc.Apply(ctx, acc.ID, 100_000); err != nil {
		log.Fatalf("credit: %v", err)
	}
	snap, err := svc.Apply(ctx, acc.ID, -150_000)
	if err != nil {
		log.Fatalf("charge within limit: %v", err)
	}
	if snap.Balance != -50_000 {
		log.Fatalf("unexpected balance after charge: %s", snap.Balance)
	}
	if _, err := svc.Apply(ctx, acc.ID, -1); !errors.Is(err, ledger.ErrLimitExceeded) {
		log.Fatalf("expected limit exceeded, got %v", err)
	}

	bal, err := svc.Balance(ctx, acc.ID)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	var sum ledger.Money
	n := 0
	for e, err := range svc.EntriesFor(ctx, acc.ID) {
		if err != nil {
			log.Fatalf("entries: %v", err)
		}
		if sum, err = sum.Add(e.Amount); err != nil {
			log.Fatalf("sum entries: %v", err)
		}
		n++
	}
	if bal != -50_000 || sum != bal || n != 2 {
		log.Fatalf("log and balance disagree: balance=%s sum=%s entries=%d", bal, sum, n)
	}

	fmt.Printf("✅ ledger smoke test passed: account=%s balance=%s\n", acc.ID, bal)
}
