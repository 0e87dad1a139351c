package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/qurio/config"
	"github.com/mohammad-safakhou/qurio/internal/llm"
	"github.com/mohammad-safakhou/qurio/internal/research"
	"github.com/mohammad-safakhou/qurio/internal/telemetry"
	"github.com/mohammad-safakhou/qurio/tools/web_fetch"
	"github.com/mohammad-safakhou/qurio/tools/web_search"
)

// researchCMD runs a single research question end to end and prints the
// event stream to stdout. Useful for trying prompts without the server.
func researchCMD() *cobra.Command {
	var cfgPath string
	var mode string
	var concurrent bool

	var cmd = &cobra.Command{
		Use:   "research [question]",
		Short: "Run one research question and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			tel := telemetry.NewTelemetry(cfg.Telemetry)
			registry := llm.NewRegistry()
			searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey())
			if err != nil {
				return err
			}
			if err := registry.Register(&web_search.Tool{Searcher: searcher, MaxResults: cfg.Search.MaxResults}); err != nil {
				return err
			}
			fetcher, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, time.Duration(cfg.Fetch.TimeoutMS)*time.Millisecond, cfg.Fetch.MaxChars)
			if err != nil {
				return err
			}
			if err := registry.Register(&web_fetch.Tool{Fetcher: fetcher}); err != nil {
				return err
			}

			gen := llm.NewClient(cfg.LLM, registry, tel)
			planner := research.NewLLMPlanner(cfg, gen)
			engine := research.NewEngine(cfg, gen, planner, tel)

			req := research.Request{
				Question:   args[0],
				Mode:       research.Mode(mode),
				Concurrent: concurrent,
			}
			var failed bool
			for ev := range engine.Stream(cmd.Context(), req) {
				switch ev.Type {
				case research.EventResearchStep:
					fmt.Printf("[step %d/%d] %s (%s)\n", ev.Step, ev.Total, ev.Title, ev.Status)
				case research.EventToolCall:
					fmt.Printf("[tool] %s %s\n", ev.Name, ev.Arguments)
				case research.EventToolResult:
					fmt.Printf("[tool] %s %s (%dms)\n", ev.Name, ev.Status, ev.DurationMS)
				case research.EventText:
					fmt.Print(ev.Content)
				case research.EventDone:
					fmt.Printf("\n\n%s\n", ev.Content)
					for i, src := range ev.Sources {
						fmt.Printf("[%d] %s %s\n", i+1, src.Title, src.URL)
					}
				case research.EventError:
					failed = true
					fmt.Fprintf(os.Stderr, "error: %s\n", ev.Error)
				}
			}
			if failed {
				return fmt.Errorf("research run failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "general", "research mode (general or academic)")
	cmd.Flags().BoolVar(&concurrent, "concurrent", false, "run independent steps concurrently")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
