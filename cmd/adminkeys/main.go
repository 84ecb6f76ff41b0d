// Command adminkeys lists the distinct admin-1 units held in a maproom's
// admin unit cache and can write their keys into a country's allow-list.
//
// Usage:
//
//	go run ./cmd/adminkeys \
//	  -cache-dir data/cache \
//	  -maproom madagascar \
//	  -out data/madagascar_admin1.csv \
//	  -config config.yaml -country madagascar-ond
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/trigger-monitor/internal/adapter/csvcache"
	"github.com/couchcryptid/trigger-monitor/internal/keylist"
)

func main() {
	cacheDir := flag.String("cache-dir", "data/cache", "directory holding the admin unit cache files")
	maproom := flag.String("maproom", "", "maproom whose cache file is read")
	out := flag.String("out", "", "output CSV path (default: {maproom}_admin1.csv)")
	configPath := flag.String("config", "", "country document to update (optional)")
	countryID := flag.String("country", "", "country entry whose admin1_list is replaced (requires -config)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *maproom == "" {
		fmt.Fprintln(os.Stderr, "usage: adminkeys -maproom NAME [-cache-dir DIR] [-out FILE] [-config FILE -country ID]")
		os.Exit(2)
	}
	if (*configPath == "") != (*countryID == "") {
		fmt.Fprintln(os.Stderr, "-config and -country must be given together")
		os.Exit(2)
	}
	if *out == "" {
		*out = *maproom + "_admin1.csv"
	}

	in := csvcache.New(*cacheDir).Path(*maproom)
	units, err := keylist.Run(in, *out)
	if err != nil {
		logger.Error("list admin-1 keys failed", "input", in, "error", err)
		os.Exit(1)
	}
	logger.Info("admin-1 keys written", "input", in, "output", *out, "count", len(units))

	if *configPath == "" {
		return
	}
	if err := keylist.WriteAllowList(*configPath, *countryID, keylist.Keys(units)); err != nil {
		logger.Error("update allow-list failed", "config", *configPath, "country", *countryID, "error", err)
		os.Exit(1)
	}
	logger.Info("allow-list updated", "config", *configPath, "country", *countryID, "count", len(units))
}
