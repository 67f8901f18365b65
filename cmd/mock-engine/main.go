// Package main implements a mock recommendation engine that speaks the
// real pipeline's stdout protocol: phase banners, assistant prompts
// answered over stdin, a result artifact, and a completion banner. It
// exists for manual testing of the relay without the Python pipeline.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

type match struct {
	PropertyID interface{} `json:"property_id"`
	Score      float64     `json:"score"`
	Rationale  string      `json:"rationale"`
}

var questions = []string{
	"What is your budget range?",
	"How many bedrooms do you need?",
	"Which suburbs are you interested in?",
}

func main() {
	artifact := flag.String("artifact", "property_matches.json", "result artifact filename")
	delay := flag.Duration("delay", 200*time.Millisecond, "pause between output lines")
	fail := flag.Bool("fail", false, "exit with an error during phase 2")
	skipArtifact := flag.Bool("skip-artifact", false, "complete without writing the artifact")
	flag.Parse()

	out := bufio.NewWriter(os.Stdout)
	emit := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
		out.Flush()
		time.Sleep(*delay)
	}

	stdin := bufio.NewScanner(os.Stdin)

	emit("📝  Phase 1: Collecting user profile…")
	for _, q := range questions {
		emit("Assistant: %s", q)
		if !stdin.Scan() {
			fmt.Fprintln(os.Stderr, "mock-engine: stdin closed before profile completed")
			os.Exit(1)
		}
	}

	emit("🌐  Phase 2: Gathering property data…")
	if *fail {
		fmt.Fprintln(os.Stderr, "mock-engine: listing service returned 503")
		os.Exit(2)
	}

	emit("🏷️  Phase 3: Scoring and ranking properties…")
	emit("Assistant: I found some strong matches for you.")

	if !*skipArtifact {
		matches := []match{
			{PropertyID: 101, Score: 0.92, Rationale: "within budget and preferred suburb"},
			{PropertyID: "lux-07", Score: 0.81, Rationale: "one bedroom over, great transport links"},
			{PropertyID: 204, Score: 0.74, Rationale: "matches bedroom count, slightly above budget"},
		}
		data, err := json.MarshalIndent(matches, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "mock-engine: failed to encode matches: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*artifact, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "mock-engine: failed to write artifact: %v\n", err)
			os.Exit(1)
		}
	}

	emit("🎉  Pipeline complete! Final matches written to %s", *artifact)
}
