// Harvester: fetches paper metadata from arXiv's OAI-PMH endpoint and seeds
// it into no_metadata, so it flows through the same enrich/queue/download
// pipeline as a bibtex or keyword-search seed.
//
// Usage:
//
//	biblio-harvest --db=./biblio.db --set=cs          # harvest all CS papers
//	biblio-harvest --db=./biblio.db                    # harvest ALL papers
//	biblio-harvest --db=./biblio.db --set=cs --resume  # resume an interrupted harvest
//
// The harvester follows arXiv's terms of use:
//   - Uses OAI-PMH (the official bulk metadata access method)
//   - Respects rate limits (1 request per 3 seconds)
//   - Identifies itself with a User-Agent string
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/storage"
	"github.com/biblioctl/pipeline/pkg/oaipmh"
)

func main() {
	dbPath := flag.String("db", getenv("DB_PATH", "./biblio.db"), "SQLite database path")
	setName := flag.String("set", "", "OAI-PMH set to harvest (e.g. cs, math, physics). Empty = all.")
	fromDate := flag.String("from", "", "Harvest from this datestamp (YYYY-MM-DD)")
	resume := flag.Bool("resume", false, "Resume from last checkpoint")
	maxRecords := flag.Int("max", 0, "Max records to harvest (0 = unlimited)")
	migrationsDir := flag.String("migrations", "migrations", "Directory of schema migrations")
	flag.Parse()

	log.Println("=== arXiv OAI-PMH Harvester ===")
	log.Printf("Set: %s | From: %s | Resume: %v | MaxRecords: %d", orDefault(*setName, "_all"), orDefault(*fromDate, "earliest"), *resume, *maxRecords)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx, *migrationsDir); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal, finishing current page...")
		cancel()
	}()

	client := oaipmh.NewClient()

	checkpointSet := orDefault(*setName, "_all")
	checkpoint, err := store.LoadHarvestCheckpoint(ctx, checkpointSet)
	if err != nil {
		log.Fatalf("load checkpoint: %v", err)
	}

	params := oaipmh.ListRecordsParams{
		MetadataPrefix: oaipmh.MetadataPrefixArXiv,
		Set:            *setName,
	}
	if *resume && checkpoint.ResumptionToken != "" {
		params.ResumptionToken = checkpoint.ResumptionToken
		log.Printf("resuming: %d harvested so far, token: %s...", checkpoint.TotalHarvested, truncate(checkpoint.ResumptionToken, 40))
	} else if *fromDate != "" {
		params.From = *fromDate
	} else if checkpoint.LastDatestamp != "" {
		params.From = checkpoint.LastDatestamp
		log.Printf("incremental harvest from datestamp: %s", params.From)
	}

	var (
		totalSeeded   int
		totalSkipped  int
		totalDeleted  int
		pageCount     int
		startTime     = time.Now()
		lastLog       = time.Now()
		lastDatestamp string
		// totalSeeded as of the last successful checkpoint save, so each
		// save passes only the records seeded since then.
		checkpointedSeeded int
	)

loop:
	for {
		select {
		case <-ctx.Done():
			log.Println("harvest interrupted by shutdown signal")
			break loop
		default:
		}

		result, err := client.ListRecords(params)
		if err != nil {
			if strings.Contains(err.Error(), "rate limited") || strings.Contains(err.Error(), "503") {
				log.Printf("rate limited, waiting 30s...")
				time.Sleep(30 * time.Second)
				continue
			}
			log.Printf("ERROR: %v (retrying in 10s...)", err)
			time.Sleep(10 * time.Second)
			continue
		}
		pageCount++

		totalDeleted += len(result.DeletedArXivIDs)
		totalSkipped += result.SkippedCount
		if result.LastDatestamp > lastDatestamp {
			lastDatestamp = result.LastDatestamp
		}

		for _, ref := range result.References {
			if _, _, err := store.InsertSeed(ctx, ref, domain.StageNoMetadata); err != nil {
				log.Printf("ERROR seeding %s: %v", ref.ArXivID, err)
				continue
			}
			totalSeeded++

			if *maxRecords > 0 && totalSeeded >= *maxRecords {
				log.Printf("reached max records limit (%d)", *maxRecords)
				break loop
			}
		}

		if time.Since(lastLog) > 15*time.Second || result.ResumptionToken == "" {
			elapsed := time.Since(startTime)
			rate := float64(totalSeeded+totalSkipped+totalDeleted) / elapsed.Seconds()
			log.Printf("page %d | %d seeded, %d skipped, %d deleted | %.0f rec/s | token: %s",
				pageCount, totalSeeded, totalSkipped, totalDeleted, rate, truncate(result.ResumptionToken, 40))
			lastLog = time.Now()
		}

		if pageCount%5 == 0 {
			if err := store.SaveHarvestCheckpoint(ctx, checkpointSet, lastDatestamp, result.ResumptionToken, int64(totalSeeded-checkpointedSeeded)); err != nil {
				log.Printf("WARN: save checkpoint: %v", err)
			} else {
				checkpointedSeeded = totalSeeded
			}
		}

		if result.ResumptionToken == "" {
			log.Println("no more resumption token, harvest complete")
			break
		}
		params = oaipmh.ListRecordsParams{ResumptionToken: result.ResumptionToken}
	}

	if err := store.SaveHarvestCheckpoint(ctx, checkpointSet, lastDatestamp, "", int64(totalSeeded-checkpointedSeeded)); err != nil {
		log.Printf("WARN: save final checkpoint: %v", err)
	}

	elapsed := time.Since(startTime)
	log.Printf("=== Harvest Complete ===")
	log.Printf("Duration: %s", elapsed.Round(time.Second))
	log.Printf("Seeded:   %d", totalSeeded)
	log.Printf("Skipped:  %d", totalSkipped)
	log.Printf("Deleted:  %d", totalDeleted)
	log.Printf("Pages:    %d", pageCount)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
