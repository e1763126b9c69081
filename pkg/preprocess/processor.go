// Package preprocess runs the citation cleaning pass over a table: every
// row's "articles de loi" list is normalized, filtered and enriched, and
// the run's logs and statistics are produced along the way.
package preprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/coolbeans/lexclean/pkg/citation"
	"github.com/coolbeans/lexclean/pkg/config"
	"github.com/coolbeans/lexclean/pkg/dataset"
	"github.com/coolbeans/lexclean/pkg/logging"
	"github.com/coolbeans/lexclean/pkg/reftable"
	"github.com/coolbeans/lexclean/pkg/review"
	"github.com/coolbeans/lexclean/pkg/snippet"
)

// CategoryDigitOnly is the rejected-log category of digit-only citations.
const CategoryDigitOnly = "DIGIT_ONLY"

// Options names a run's files and report settings.
type Options struct {
	Input           string
	Output          string
	Failures        string
	Transformations string
	Rejected        string
	Review          string

	ExampleLimit  int
	ProgressEvery int
	ContextWindow int

	// RunID identifies the run in logs and the review queue; empty draws a
	// random UUID.
	RunID string
}

// OptionsFromConfig copies the run settings out of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Input:           cfg.Paths.Input,
		Output:          cfg.Paths.Output,
		Failures:        cfg.Paths.Failures,
		Transformations: cfg.Paths.Transformations,
		Rejected:        cfg.Paths.Rejected,
		Review:          cfg.Paths.Review,
		ExampleLimit:    cfg.Report.ExampleLimit,
		ProgressEvery:   cfg.Report.ProgressEvery,
		ContextWindow:   cfg.Report.ContextWindow,
	}
}

// Artifacts returns every file a run writes, output first.
func (o Options) Artifacts() []string {
	return []string{o.Output, o.Failures, o.Transformations, o.Rejected, o.Review}
}

// Deps are the collaborators of a run. Engine is required; the rest may be
// nil.
type Deps struct {
	Engine     *citation.Engine
	References *reftable.Table
	Sink       review.Sink
	Logger     *slog.Logger
}

// FailureEntry is one line of the short-fragment log.
type FailureEntry struct {
	UUID       string `json:"uuid"`
	PartNumber string `json:"part_number"`
	Original   string `json:"original"`
	Normalized string `json:"normalized"`
	Reason     string `json:"reason"`
}

// RejectedEntry is one line of the rejected-citation log.
type RejectedEntry struct {
	ElementID  string `json:"element_id"`
	Citation   string `json:"citation"`
	Normalized string `json:"normalized"`
	Category   string `json:"category"`
}

// Processor runs preprocessing passes.
type Processor struct {
	opts       Options
	engine     *citation.Engine
	references *reftable.Table
	sink       review.Sink
	finder     *snippet.Finder
	logger     *slog.Logger
}

// NewProcessor checks opts and deps and builds a processor.
func NewProcessor(opts Options, deps Deps) (*Processor, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("preprocess: engine is required")
	}
	if opts.Input == "" || opts.Output == "" {
		return nil, fmt.Errorf("preprocess: input and output paths are required")
	}
	if filepath.Clean(opts.Input) == filepath.Clean(opts.Output) {
		return nil, fmt.Errorf("preprocess: output %s would overwrite the input", opts.Output)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Processor{
		opts:       opts,
		engine:     deps.Engine,
		references: deps.References,
		sink:       deps.Sink,
		finder:     snippet.NewFinder(opts.ContextWindow),
		logger:     logger.With("component", "preprocess"),
	}, nil
}

// run holds the open files and counters of one pass.
type run struct {
	*Processor
	ctx             context.Context
	stats           *Stats
	failures        *dataset.LogWriter
	rejected        *dataset.LogWriter
	reviewLog       *dataset.LogWriter
	transformations *bufio.Writer
}

// Run processes the input table into the output table and writes the logs.
// I/O failures abort the run; rows that cannot be interpreted are copied
// through.
func (p *Processor) Run(ctx context.Context) (*Stats, error) {
	runID := p.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	r := &run{Processor: p, ctx: ctx, stats: newStats(runID, p.opts.ExampleLimit)}
	p.logger.Info("starting run", "run_id", runID, "input", p.opts.Input, "output", p.opts.Output)

	reader, err := dataset.Open(p.opts.Input)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	writer, err := dataset.Create(p.opts.Output, outputColumns(reader.Columns()))
	if err != nil {
		return nil, err
	}
	closers, err := r.openLogs()
	if err != nil {
		writer.Close()
		return nil, err
	}

	runErr := r.processRows(reader, writer)
	if err := writer.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("closing %s: %w", p.opts.Output, err)
	}
	for _, closeLog := range closers {
		if err := closeLog(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return r.stats, runErr
	}

	p.logger.Info("run complete",
		"run_id", runID,
		"rows", r.stats.TotalRows,
		"kept", r.stats.Kept,
		"removed", r.stats.Removed(),
		"enriched", r.stats.Enriched)
	return r.stats, nil
}

func outputColumns(columns []string) []string {
	if columns == nil {
		return nil
	}
	out := make([]string, 0, len(columns))
	for _, column := range columns {
		if column != dataset.ColumnPartContent {
			out = append(out, column)
		}
	}
	return out
}

func (r *run) openLogs() ([]func() error, error) {
	var closers []func() error
	fail := func(err error) ([]func() error, error) {
		for _, closeLog := range closers {
			closeLog()
		}
		return nil, err
	}

	openLog := func(path string) (*dataset.LogWriter, error) {
		if path == "" {
			return nil, nil
		}
		log, err := dataset.CreateLog(path)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() error {
			if err := log.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", path, err)
			}
			return nil
		})
		return log, nil
	}

	var err error
	if r.failures, err = openLog(r.opts.Failures); err != nil {
		return fail(err)
	}
	if r.rejected, err = openLog(r.opts.Rejected); err != nil {
		return fail(err)
	}
	if r.reviewLog, err = openLog(r.opts.Review); err != nil {
		return fail(err)
	}

	if path := r.opts.Transformations; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fail(fmt.Errorf("creating directory for %s: %w", path, err))
		}
		f, err := os.Create(path)
		if err != nil {
			return fail(fmt.Errorf("creating %s: %w", path, err))
		}
		r.transformations = bufio.NewWriter(f)
		closers = append(closers, func() error {
			flushErr := r.transformations.Flush()
			closeErr := f.Close()
			if err := errors.Join(flushErr, closeErr); err != nil {
				return fmt.Errorf("closing %s: %w", path, err)
			}
			return nil
		})
	}
	return closers, nil
}

func (r *run) processRows(reader dataset.Reader, writer dataset.Writer) error {
	for {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", r.opts.Input, err)
		}

		if err := r.processRow(row); err != nil {
			return err
		}
		if err := writer.Write(row); err != nil {
			if !errors.Is(err, dataset.ErrMalformedRow) {
				return fmt.Errorf("writing %s: %w", r.opts.Output, err)
			}
			r.stats.UnwritableRows++
			r.logger.Warn("row not written", "row", r.stats.TotalRows, "error", err)
		}

		if every := r.opts.ProgressEvery; every > 0 && r.stats.TotalRows%every == 0 {
			r.logger.Info("progress", "rows", r.stats.TotalRows)
		}
	}
}

// processRow rewrites row in place. Only log and sink I/O errors are
// returned.
func (r *run) processRow(row *dataset.Row) error {
	r.stats.TotalRows++
	partContent := row.Value(dataset.ColumnPartContent)
	row.Delete(dataset.ColumnPartContent)

	if row.Malformed() {
		r.stats.MalformedRows++
		return nil
	}
	raw, ok := row.Get(dataset.ColumnAnalysis)
	if !ok {
		r.stats.MalformedRows++
		return nil
	}
	analysis, err := dataset.ParseAnalysis(raw)
	if err != nil {
		r.stats.MalformedRows++
		r.logger.Debug("analysis passed through", "uuid", row.UUID(), "error", err)
		return nil
	}

	if !analysis.Has(dataset.KeyArticles) {
		if analysis.Has(dataset.KeyJurisprudence) {
			r.stats.JurisprudenceRows++
		}
		if analysis.Has(dataset.KeyDoctrine) {
			r.stats.DoctrineRows++
		}
		return nil
	}

	r.stats.ArticlesRows++
	entries, err := analysis.Entries(dataset.KeyArticles)
	if err != nil {
		r.stats.MalformedRows++
		r.logger.Debug("citation list passed through", "uuid", row.UUID(), "error", err)
		return nil
	}

	updated, err := r.processEntries(row, entries, partContent)
	if err != nil {
		return err
	}
	if err := analysis.SetEntries(dataset.KeyArticles, updated); err != nil {
		return err
	}
	encoded, err := analysis.Marshal()
	if err != nil {
		return fmt.Errorf("encoding analysis of %s: %w", row.UUID(), err)
	}
	row.Set(dataset.ColumnAnalysis, encoded)
	return nil
}

// processEntries returns the record's new citation list. Entries that are
// not strings keep their position; removed citations leave no gap.
func (r *run) processEntries(row *dataset.Row, entries []dataset.Entry, partContent string) ([]dataset.Entry, error) {
	elementID := citation.ElementID(row.UUID(), row.PartNumber())

	type slot struct {
		entry dataset.Entry
		kept  int
	}
	slots := make([]slot, 0, len(entries))
	var kept []citation.Citation
	var reviewItems []review.Item

	for _, entry := range entries {
		if !entry.IsText {
			r.stats.NonTextEntries++
			slots = append(slots, slot{entry: entry, kept: -1})
			continue
		}

		r.stats.CitationsProcessed++
		c := r.engine.Prepare(entry.Text)
		switch {
		case c.DigitOnly:
			r.stats.RemovedDigitOnly++
			r.stats.RemovedByReason[citation.ReasonDigitOnly]++
			r.stats.addExample(&r.stats.DigitOnlyExamples, c.Raw)
			if err := r.reject(elementID, c, CategoryDigitOnly); err != nil {
				return nil, err
			}
			continue
		case c.Label.IsGarbage():
			r.stats.RemovedGarbage++
			r.stats.RemovedByReason[c.Label.Reason()]++
			r.stats.addExample(&r.stats.GarbageExamples, fmt.Sprintf("%s (%s)", c.Raw, c.Label.Reason()))
			if err := r.reject(elementID, c, string(c.Label)); err != nil {
				return nil, err
			}
			continue
		}

		r.stats.Kept++
		slots = append(slots, slot{kept: len(kept)})
		kept = append(kept, c)

		if c.Changed {
			r.stats.Changed++
			if err := r.logTransformation(c.Raw, c.Normalized, c.Raw, partContent); err != nil {
				return nil, err
			}
		}

		item, err := r.flag(row, elementID, c)
		if err != nil {
			return nil, err
		}
		if item != nil {
			reviewItems = append(reviewItems, *item)
		}
	}

	enriched, count := r.engine.Enricher().Enrich(kept)
	r.stats.Enriched += count
	for i, c := range enriched {
		if !c.Enriched() {
			continue
		}
		example := kept[i].Normalized + " → " + c.Normalized
		if number, ok := r.references.Resolve(c.LawReference); ok {
			r.stats.EnrichedResolved++
			if !c.LawReference.IsRegistryNumber() {
				example += " (RS " + number + ")"
			}
		}
		r.stats.addExample(&r.stats.EnrichedExamples, example)
		if err := r.logTransformation(kept[i].Normalized, c.Normalized, c.Raw, partContent); err != nil {
			return nil, err
		}
	}

	r.sendReview(elementID, reviewItems)

	updated := make([]dataset.Entry, len(slots))
	for i, s := range slots {
		if s.kept < 0 {
			updated[i] = s.entry
			continue
		}
		updated[i] = dataset.TextEntry(enriched[s.kept].Normalized)
	}
	return updated, nil
}

func (r *run) reject(elementID string, c citation.Citation, category string) error {
	if r.rejected == nil {
		return nil
	}
	return r.rejected.Write(RejectedEntry{
		ElementID:  elementID,
		Citation:   c.Raw,
		Normalized: c.Normalized,
		Category:   category,
	})
}

// flag writes the short-fragment and review logs for a kept citation and
// returns the review item, if any. It looks at the citation before
// enrichment.
func (r *run) flag(row *dataset.Row, elementID string, c citation.Citation) (*review.Item, error) {
	reason := r.engine.ReviewReason(c)
	if reason == "" {
		return nil, nil
	}

	if reason == citation.ReasonShortFragment {
		r.stats.ShortFragments++
		if r.failures != nil {
			err := r.failures.Write(FailureEntry{
				UUID:       row.UUID(),
				PartNumber: row.PartNumber(),
				Original:   c.Raw,
				Normalized: c.Normalized,
				Reason:     reason,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	item := review.Item{
		RunID:      r.stats.RunID,
		RecordID:   elementID,
		Original:   c.Raw,
		Normalized: c.Normalized,
		Label:      string(c.Label),
		Reason:     reason,
	}
	r.stats.ReviewItems++
	if r.reviewLog != nil {
		if err := r.reviewLog.Write(item); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

func (r *run) sendReview(elementID string, items []review.Item) {
	if r.sink == nil || len(items) == 0 {
		return
	}
	if err := r.sink.Write(r.ctx, items); err != nil {
		r.stats.SinkErrors++
		r.logger.Warn("review sink write failed", "record", elementID, "items", len(items), "error", err)
	}
}

// logTransformation writes "original | new | context", where context is the
// passage around lookup inside the record's part content.
func (r *run) logTransformation(original, updated, lookup, partContent string) error {
	r.stats.Transformations++
	if r.transformations == nil {
		return nil
	}
	passage := r.finder.Context(lookup, partContent)
	if _, err := fmt.Fprintf(r.transformations, "%s | %s | %s\n", original, updated, passage); err != nil {
		return fmt.Errorf("writing %s: %w", r.opts.Transformations, err)
	}
	return nil
}
