package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coolbeans/lexclean/pkg/citation"
	"github.com/coolbeans/lexclean/pkg/config"
	"github.com/coolbeans/lexclean/pkg/dataset"
	"github.com/coolbeans/lexclean/pkg/lexicon"
	"github.com/coolbeans/lexclean/pkg/logging"
	"github.com/coolbeans/lexclean/pkg/preprocess"
	"github.com/coolbeans/lexclean/pkg/publish"
	"github.com/coolbeans/lexclean/pkg/reftable"
	"github.com/coolbeans/lexclean/pkg/review"
	"github.com/coolbeans/lexclean/pkg/watch"
)

var version = "0.1.0"

// Flags shared by every command
var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexclean",
		Short: "Legal citation preprocessor",
		Long: `Lexclean cleans the legal citations extracted from Swiss court
decisions before they are resolved against the federal registry.

For every record it:
  - Normalizes malformed spacing and footnote markers
  - Removes bare numbers and garbage fragments
  - Appends the record's single law reference to article-only citations
  - Logs short fragments, rejected citations and every transformation`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default $LEXCLEAN_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(preprocessCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(categorizeCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(lexiconCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runFlags override config values for a single invocation.
type runFlags struct {
	input          string
	output         string
	lexicon        string
	referenceTable string
	runID          string
	noReview       bool
	noPublish      bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "Input table (.csv or .jsonl)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output table (.csv or .jsonl)")
	cmd.Flags().StringVar(&f.lexicon, "lexicon", "", "YAML lexicon replacing the built-in tables")
	cmd.Flags().StringVar(&f.referenceTable, "reference-table", "", "Abbreviation triplets JSON used to resolve law references")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "Run identifier (default: random UUID)")
	cmd.Flags().BoolVar(&f.noReview, "no-review", false, "Do not write to the review database")
	cmd.Flags().BoolVar(&f.noPublish, "no-publish", false, "Do not upload artifacts")
}

func (f *runFlags) apply(cfg *config.Config) {
	if f.input != "" {
		cfg.Paths.Input = f.input
	}
	if f.output != "" {
		cfg.Paths.Output = f.output
	}
	if f.lexicon != "" {
		cfg.Rules.Lexicon = f.lexicon
	}
	if f.referenceTable != "" {
		cfg.Rules.ReferenceTable = f.referenceTable
	}
	if f.noReview {
		cfg.Review.DSN = ""
	}
	if f.noPublish {
		cfg.Publish.Endpoint = ""
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, logging.New(cfg.Logging.Level), nil
}

func loadEngine(cfg config.Config, logger *slog.Logger) (*citation.Engine, error) {
	lex, err := lexicon.Load(cfg.Rules.Lexicon)
	if err != nil {
		return nil, err
	}
	logger.Info("lexicon loaded", "name", lex.Name, "version", lex.Version, "path", cfg.Rules.Lexicon)
	return citation.NewEngine(lex, citation.WithArticleOnlyMaxLen(cfg.Rules.ArticleOnlyMaxLen))
}

func loadReferences(cfg config.Config, logger *slog.Logger) (*reftable.Table, error) {
	if cfg.Rules.ReferenceTable == "" {
		return nil, nil
	}
	table, err := reftable.Load(cfg.Rules.ReferenceTable)
	if err != nil {
		return nil, err
	}
	logger.Info("reference table loaded", "path", cfg.Rules.ReferenceTable, "size", table.String())
	return table, nil
}

func openSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (review.Sink, error) {
	if !cfg.ReviewEnabled() {
		return nil, nil
	}
	sink, err := review.NewPostgresSink(ctx, cfg.Review.DSN, cfg.Review.Table)
	if err != nil {
		return nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		sink.Close()
		return nil, err
	}
	logger.Info("review queue enabled", "table", sink.Table())
	return sink, nil
}

func newPublisher(cfg config.Config) (*publish.Publisher, error) {
	if !cfg.PublishEnabled() {
		return nil, nil
	}
	store, err := publish.NewS3Store(publish.Options{
		Endpoint:        cfg.Publish.Endpoint,
		Region:          cfg.Publish.Region,
		AccessKeyID:     cfg.Publish.AccessKeyID,
		SecretAccessKey: cfg.Publish.SecretAccessKey,
		UseSSL:          cfg.Publish.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return publish.NewPublisher(store, cfg.Publish.Bucket, cfg.Publish.Prefix), nil
}

// runPreprocess performs one full pass and prints the report to out.
func runPreprocess(ctx context.Context, cfg config.Config, runID string, logger *slog.Logger, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	engine, err := loadEngine(cfg, logger)
	if err != nil {
		return err
	}
	references, err := loadReferences(cfg, logger)
	if err != nil {
		return err
	}
	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
	}

	opts := preprocess.OptionsFromConfig(cfg)
	opts.RunID = runID
	processor, err := preprocess.NewProcessor(opts, preprocess.Deps{
		Engine:     engine,
		References: references,
		Sink:       sink,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	stats, err := processor.Run(ctx)
	if err != nil {
		return fmt.Errorf("preprocessing %s: %w", cfg.Paths.Input, err)
	}
	fmt.Fprint(out, stats.String())
	fmt.Fprintf(out, "\nOutput written to: %s\n", cfg.Paths.Output)

	if publisher != nil {
		keys, err := publisher.Publish(ctx, stats.RunID, opts.Artifacts())
		if err != nil {
			return fmt.Errorf("publishing artifacts: %w", err)
		}
		fmt.Fprintf(out, "Published %d artifacts to %s\n", len(keys), cfg.Publish.Bucket)
	}
	return nil
}

func preprocessCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Clean the citations of an input table",
		Long: `Normalize, filter and enrich the "articles de loi" citations of every
row and write the cleaned table together with the run logs.

Example:
  lexclean preprocess
  lexclean preprocess -i CSVs/data.csv -o CSVs/data_clean.csv
  lexclean preprocess --config lexclean.yaml --no-publish`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(&cfg)
			return runPreprocess(cmd.Context(), cfg, flags.runID, logger, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

func inspectCmd() *cobra.Command {
	var (
		lexiconPath    string
		referenceTable string
	)

	cmd := &cobra.Command{
		Use:   "inspect <citation>...",
		Short: "Show how citations are normalized and classified",
		Long: `Run citations through normalization, classification and law-reference
extraction without touching any file. When several citations are given they
are treated as one record, so enrichment is shown as well.

Example:
  lexclean inspect "43 aCP"
  lexclean inspect "art. 128" "Loi cantonale, RS 131.211"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if lexiconPath != "" {
				cfg.Rules.Lexicon = lexiconPath
			}
			if referenceTable != "" {
				cfg.Rules.ReferenceTable = referenceTable
			}
			engine, err := loadEngine(cfg, logger)
			if err != nil {
				return err
			}
			references, err := loadReferences(cfg, logger)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), inspectRecord(engine, references, args))
			return nil
		},
	}
	cmd.Flags().StringVar(&lexiconPath, "lexicon", "", "YAML lexicon replacing the built-in tables")
	cmd.Flags().StringVar(&referenceTable, "reference-table", "", "Abbreviation triplets JSON used to resolve law references")
	return cmd
}

// inspectRecord describes every stage for the citations of one record.
func inspectRecord(engine *citation.Engine, references *reftable.Table, raws []string) string {
	var b strings.Builder
	outcome := engine.Process(raws)
	enriched := make(map[string]citation.Citation, len(outcome.Kept))
	for _, c := range outcome.Kept {
		enriched[c.Raw] = c
	}

	for i, raw := range raws {
		c := engine.Prepare(raw)
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("Citation:    %q\n", raw))
		b.WriteString(fmt.Sprintf("Normalized:  %q (changed: %v)\n", c.Normalized, c.Changed))
		b.WriteString(fmt.Sprintf("Label:       %s\n", c.Label))
		if c.DigitOnly {
			b.WriteString("Removed:     digit_only\n")
		} else if c.Label.IsGarbage() {
			b.WriteString(fmt.Sprintf("Removed:     %s\n", c.Label.Reason()))
		}

		if ref := engine.Extractor().Extract(c.Normalized); ref != "" {
			b.WriteString(fmt.Sprintf("Law:         %s", ref))
			if number, ok := references.Resolve(ref); ok {
				b.WriteString(fmt.Sprintf(" (RS %s)", number))
			}
			b.WriteString("\n")
		}
		if reason := engine.ReviewReason(c); reason != "" {
			b.WriteString(fmt.Sprintf("Review:      %s\n", reason))
		}
		if out, ok := enriched[raw]; ok && out.Enriched() {
			b.WriteString(fmt.Sprintf("Enriched:    %q\n", out.Normalized))
		}
	}

	if len(raws) > 1 {
		b.WriteString(fmt.Sprintf("\nRecord: %d kept, %d removed, %d enriched\n",
			len(outcome.Kept), len(outcome.Removed), outcome.Enriched))
	}
	return b.String()
}

func categorizeCmd() *cobra.Command {
	var (
		input        string
		garbageFile  string
		lexiconPath  string
		exampleLimit int
	)

	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Break unparseable citations down by category",
		Long: `Classify the citations the resolver could not map and write the ones
that should be filtered to a JSONL file.

Input is JSONL with one {"element_id", "citation"} object per line.

Example:
  lexclean categorize -i logs/unparseable_citations.jsonl
  lexclean categorize -i logs/unparseable_citations.jsonl --garbage logs/garbage.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if lexiconPath != "" {
				cfg.Rules.Lexicon = lexiconPath
			}
			engine, err := loadEngine(cfg, logger)
			if err != nil {
				return err
			}

			entries, err := dataset.ReadJSONL[preprocess.UnparseableEntry](input)
			if err != nil {
				return err
			}
			logger.Info("unparseable citations loaded", "path", input, "count", len(entries))

			result := preprocess.Categorize(engine.Classifier(), entries, exampleLimit)
			fmt.Fprint(cmd.OutOrStdout(), result.String())

			if garbageFile != "" {
				if err := result.WriteGarbage(garbageFile); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nGarbage citations written to: %s (%d)\n", garbageFile, len(result.Garbage))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "logs/unparseable_citations.jsonl", "Unparseable citations JSONL")
	cmd.Flags().StringVar(&garbageFile, "garbage", "logs/garbage_citations.jsonl", "Where to write garbage citations (empty to skip)")
	cmd.Flags().StringVar(&lexiconPath, "lexicon", "", "YAML lexicon replacing the built-in tables")
	cmd.Flags().IntVar(&exampleLimit, "examples", 10, "Examples kept per category")
	return cmd
}

func watchCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run preprocessing when the input or lexicon changes",
		Long: `Run preprocessing once, then again every time the input table or the
lexicon file is written. Each run loads a fresh lexicon.

Example:
  lexclean watch -i CSVs/data.csv --lexicon rules/swiss.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(&cfg)
			out := cmd.OutOrStdout()

			rerun := func() {
				if err := runPreprocess(ctx, cfg, flags.runID, logger, out); err != nil {
					logger.Error("preprocessing failed", "error", err)
				}
			}

			watcher, err := watch.NewFileWatcher(watch.Config{
				Paths:    []string{cfg.Paths.Input, cfg.Rules.Lexicon},
				Debounce: cfg.Watch.Debounce,
			}, logger)
			if err != nil {
				return err
			}

			runs := make(chan struct{}, 1)
			watcher.OnChange(func(events []watch.Event) {
				for _, event := range events {
					logger.Info("file changed", "path", event.Path, "type", event.Type)
				}
				select {
				case runs <- struct{}{}:
				default:
				}
			})

			rerun()
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()

			for {
				select {
				case <-ctx.Done():
					logger.Info("watch stopped")
					return nil
				case <-runs:
					rerun()
				}
			}
		},
	}
	flags.register(cmd)
	return cmd
}

func lexiconCmd() *cobra.Command {
	var lexiconPath string

	cmd := &cobra.Command{
		Use:   "lexicon",
		Short: "Print the effective lexicon as YAML",
		Long: `Print the rule tables the classifier would use. Redirect the output to a
file to start a custom lexicon.

Example:
  lexclean lexicon > rules/swiss.yaml
  lexclean lexicon --lexicon rules/swiss.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if lexiconPath != "" {
				cfg.Rules.Lexicon = lexiconPath
			}
			lex, err := lexicon.Load(cfg.Rules.Lexicon)
			if err != nil {
				return err
			}
			data, err := lex.Dump()
			if err != nil {
				return fmt.Errorf("encoding lexicon: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&lexiconPath, "lexicon", "", "YAML lexicon to validate and print")
	return cmd
}
