// Command expire-sessions closes idle conversations. It is meant to run
// periodically next to the chat service, against the same Redis and
// database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/facturaIA/nfse-chat-service/internal/app"
	"github.com/facturaIA/nfse-chat-service/internal/events"
	"github.com/facturaIA/nfse-chat-service/internal/logger"
	"github.com/facturaIA/nfse-chat-service/internal/models"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML configuration")
	dryRun := pflag.Bool("dry-run", false, "list expirable sessions without changing them")
	timeout := pflag.Duration("timeout", 5*time.Minute, "maximum run time")
	pflag.Parse()

	config, err := models.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("nfse-expire-sessions", config.Env, config.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	stores, err := app.OpenStores(ctx, config, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session stores")
	}
	defer stores.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if config.Events.URL != "" && !*dryRun {
		pub, err := events.NewRabbitPublisher(config.Events.URL, config.Events.Exchange, app.EventSource, logger.WithComponent(log, "events"))
		if err != nil {
			log.Warn().Err(err).Msg("event publisher not available")
		} else {
			publisher = pub
			defer pub.Close()
		}
	}

	report, err := app.Expire(ctx, stores, publisher, *dryRun, log)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		log.Error().Err(err).Msg("expiration run failed")
		os.Exit(1)
	}
}

func printReport(r *app.ExpireReport) {
	verb := "expired"
	if r.DryRun {
		verb = "would expire"
	}

	fmt.Printf("checked %d active sessions\n", r.Checked)
	for _, s := range r.Expired {
		fmt.Printf("  %s  %s  %-22s idle since %s\n",
			verb, s.ID, s.State, s.UpdatedAt.Format(time.RFC3339))
	}
	for _, snap := range r.Orphaned {
		fmt.Printf("  %s  %s  %-22s snapshot only, last update %s\n",
			verb, snap.SessionID, snap.State, snap.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Printf("%s: %d sessions, %d orphaned snapshots\n", verb, len(r.Expired), len(r.Orphaned))
}
