// Package main is the scrapejobs executable: the job API server plus one-off
// scrapes and database migrations.
package main

import "github.com/JakeFAU/scrapejobs/cmd"

func main() {
	cmd.Execute()
}
