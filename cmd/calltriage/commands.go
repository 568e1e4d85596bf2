package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/calltriage/internal/artifact"
	"github.com/dshills/calltriage/internal/config"
	"github.com/dshills/calltriage/internal/diagnose"
	"github.com/dshills/calltriage/internal/intent"
	"github.com/dshills/calltriage/internal/llm"
	"github.com/dshills/calltriage/internal/logger"
	"github.com/dshills/calltriage/internal/pipeline"
	"github.com/dshills/calltriage/internal/render"
	"github.com/dshills/calltriage/internal/server"
	"github.com/dshills/calltriage/internal/store"
	"github.com/dshills/calltriage/internal/trace"
	"github.com/dshills/calltriage/internal/truth"
	"github.com/dshills/calltriage/internal/verify"
)

// buildPipeline assembles the full pipeline from configuration. withCache
// controls whether the SQLite analysis cache is opened; one-shot CLI runs
// skip it.
func buildPipeline(log *logger.Logger, withCache bool) (*pipeline.Pipeline, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	gate := llm.NewGate(cfg.ExternalCallDelay)

	source := trace.NewClient(cfg.TraceBaseURL, cfg.TracePublicKey, cfg.TraceSecretKey)
	classifier := intent.NewClassifier(cfg.LLMProvider, cfg.LLMModel, gate, cfg.LLMMaxTokens, cfg.LLMTemperature, log.Entry)

	truthClient, err := truth.NewClient(cfg.TruthBaseURL, cfg.TruthAPIKey, cfg.TruthEnvironment)
	if err != nil {
		return nil, nil, err
	}
	verifier := verify.New(truthClient, gate, log.Entry)

	artifacts := artifact.NewClient(cfg.ArtifactBaseURL)
	orchestrator, err := diagnose.New(cfg.LLMProvider, cfg.LLMModel, gate, artifacts, artifacts,
		cfg.LLMMaxTokens, cfg.LLMTemperature, log.Entry)
	if err != nil {
		return nil, nil, err
	}

	var cache store.Cache
	cleanup := func() {}
	if withCache {
		sqlite, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		cache = sqlite
		cleanup = func() {
			if closeErr := sqlite.Close(); closeErr != nil {
				log.WithField("error", closeErr.Error()).Warn("closing analysis cache failed")
			}
		}
	}

	return pipeline.New(source, classifier, verifier, orchestrator, cache, log.Entry), cleanup, nil
}

func newAnalyzeCmd() *cobra.Command {
	var refresh bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <session-id>",
		Short: "Run the analysis pipeline for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New()
			pipe, cleanup, err := buildPipeline(log, true)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := pipe.Analyze(cmd.Context(), args[0], refresh)
			if err != nil {
				return err
			}
			if asJSON {
				out, err := render.JSON(rec)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), render.AnalysisMarkdown(rec))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "recompute even when a cached analysis exists")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of Markdown")
	return cmd
}

func newDiagnoseCmd() *cobra.Command {
	var failedAt string
	var expertName string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diagnose <session-id>",
		Short: "Route a session's failure to the domain experts and report root causes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New()
			pipe, cleanup, err := buildPipeline(log, true)
			if err != nil {
				return err
			}
			defer cleanup()

			if expertName != "" {
				result, err := pipe.RunExpert(cmd.Context(), args[0], expertName)
				if err != nil {
					return err
				}
				out, err := render.JSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			var ts *time.Time
			if failedAt != "" {
				parsed, err := time.Parse(time.RFC3339, failedAt)
				if err != nil {
					return fmt.Errorf("invalid --failed-at (want RFC3339): %w", err)
				}
				ts = &parsed
			}

			report, err := pipe.Diagnose(cmd.Context(), args[0], ts)
			if err != nil {
				return err
			}
			if asJSON {
				out, err := render.JSON(report)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), render.DiagnosisMarkdown(report))
			return nil
		},
	}
	cmd.Flags().StringVar(&failedAt, "failed-at", "", "failure timestamp (RFC3339) for deploy correlation")
	cmd.Flags().StringVar(&expertName, "expert", "", "invoke one expert directly, bypassing routing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of Markdown")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New()
			pipe, cleanup, err := buildPipeline(log, true)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			handler := server.NewHandler(pipe, log)
			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			log.WithField("port", cfg.Port).Info("serving analysis API")
			return srv.ListenAndServe()
		},
	}
}
