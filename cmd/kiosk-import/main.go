// kiosk-import creates accounts from a CSV file. See internal/importer for the columns.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"paykiosk.org/internal/app"
	"paykiosk.org/internal/config"
	"paykiosk.org/internal/importer"
)

func main() {
	log.SetFlags(0)
	var (
		envFile = flag.String("env", ".env", "optional env file")
		asJSON  = flag.Bool("json", false, "print per-row results as JSON lines")
	)
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: kiosk-import [-env file] [-json] accounts.csv|-")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	var in io.Reader = os.Stdin
	if path := flag.Arg(0); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("open %s: %v", path, err)
		}
		defer f.Close()
		in = f
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	defer a.Close()

	results, err := importer.New(a.Ledger, a.Resolver).Import(ctx, in)
	failed := 0
	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if !r.OK() {
			failed++
		}
		switch {
		case *asJSON:
			_ = enc.Encode(r)
		case r.OK():
			fmt.Printf("line %d: created %s\n", r.Line, r.AccountID)
		default:
			fmt.Printf("line %d: %s\n", r.Line, r.Error)
		}
	}
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%d rows, %d failed\n", len(results), failed)
	if failed > 0 {
		os.Exit(1)
	}
}
