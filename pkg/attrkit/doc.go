/*
Package attrkit provides the client-side core of a mobile analytics and
attribution SDK: a durable event queue with ordered batch delivery, plus
attribution resolution and privacy-preserving conversion-value encoding.

# Overview

attrkit accepts application events, stamps them with session, visitor,
and attribution context, and persists them before delivery so no
accepted event is lost across process restarts. A background scheduler
drains the queue in FIFO batches with exponential backoff on failure.
Attribution signals from deep links, paid network clicks, Apple Search
Ads, and UTM parameters merge into one canonical record with an
immutable first touch. Revenue events additionally fold into a bounded
conversion value reported through the platform postback channel.

The library is built around:
  - Write-ahead persistence via SQLite (or in memory for tests)
  - One explicit Tracker instance per installation, no globals
  - Deterministic attribution precedence, independent of arrival order
  - OpenTelemetry integration for metrics and tracing

# Basic Usage

Construct a Tracker from a validated configuration, track events, and
close it on shutdown:

	cfg := config.Config{
	    EndpointURL: "https://ingest.example.com/v1/events",
	    APIKey:      os.Getenv("ATTRKIT_API_KEY"),
	    Template:    "ecommerce",
	    StorePath:   filepath.Join(dataDir, "events.db"),
	}

	tracker, err := attrkit.New(cfg, attrkit.WithLogger(slog.Default()))
	if err != nil {
	    log.Fatal(err)
	}
	defer tracker.Close(context.Background())

	tracker.Track("screen_view", map[string]any{"screen": "home"})
	tracker.TrackRevenue("purchase", 89.97, "USD", nil)

# Attribution

Feed signals as they arrive; precedence resolves conflicts:

	record, err := tracker.IngestURL(openedURL.String())
	if err != nil {
	    log.Printf("attribution: %v", err)
	}
	fmt.Println(record.Source, record.Campaign)

	if first, ok := tracker.FirstTouch(); ok {
	    // the first qualifying signal after install, now immutable
	    fmt.Println(first.Signal)
	}

# Lifecycle

Forward app lifecycle transitions so sessions rotate and pending events
flush before suspension:

	tracker.OnForeground()
	tracker.OnBackground(ctx)
*/
package attrkit
