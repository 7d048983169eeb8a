// Package scraper holds the domain types shared by the scrape job pipeline:
// job definitions, the lifecycle state machine, the result envelope, and the
// small collaborator interfaces implemented by fetchers, stores and queues.
package scraper
