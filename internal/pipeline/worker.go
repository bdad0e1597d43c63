package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/extractor"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/graphsink"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/llm"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/parser"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/pattern"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/validator"
)

// Worker processes a single document job: parse, sectionize, per-section
// extraction with bounded concurrency, single-threaded merge per group,
// validate, publish.
type Worker struct {
	completer llm.Completer
	sink      *graphsink.Client
	matcher   *pattern.Matcher
	extCfg    extractor.Config
	log       *slog.Logger
	parseOpts parser.Options

	maxConcurrentExtract int
	maxConcurrentPublish int
}

func NewWorker(completer llm.Completer, sink *graphsink.Client, matcher *pattern.Matcher, extCfg extractor.Config, log *slog.Logger, parseOpts parser.Options, maxExtract, maxPublish int) *Worker {
	return &Worker{
		completer:            completer,
		sink:                 sink,
		matcher:              matcher,
		extCfg:               extCfg,
		log:                  log,
		parseOpts:            parseOpts,
		maxConcurrentExtract: maxExtract,
		maxConcurrentPublish: maxPublish,
	}
}

// sectionGroup is the decision-bearing slice of one top-level section
// subtree. Groups share no node-id namespace until publish.
type sectionGroup struct {
	id       string
	title    string
	sections []*navtree.Section
}

// Process runs the full extraction pipeline for a job. Each job gets its
// own Extractor instance so a per-request referral-path override never
// leaks across documents.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID)

	extCfg := w.extCfg
	if job.RequireReferral != nil {
		extCfg.RequireReferralPath = job.RequireReferral
	}
	ext := extractor.New(w.matcher, extCfg)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, w.parseOpts)
	if err != nil {
		log.Error("unsupported format", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}

	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	if job.Title != "" {
		doc.Title = job.Title
	}
	if job.DocType != "" {
		doc.Type = job.DocType
	}

	// Compute content hash from the parsed text.
	job.ContentHash = ContentHashHex([]byte(flattenDocText(doc)))

	// Phase 1.5: Dedup check against already-published graphs.
	if !job.Force {
		existingDocID, err := w.sink.FindByHash(ctx, job.ContentHash)
		if err != nil {
			log.Warn("dedup check failed, proceeding", "error", err)
		} else if existingDocID != "" {
			log.Info("duplicate document, skipping", "existing_doc_id", existingDocID)
			job.SetStatus(StatusDupSkipped, "dedup")
			return
		}
	}

	// Phase 2: Sectionize into decision-bearing groups.
	job.SetStatus(StatusSectioning, "sectioning")
	groups := w.decisionGroups(doc, ext)
	total := 0
	for _, g := range groups {
		total += len(g.sections)
	}
	job.SetTotalSections(total)
	log.Info("sectionized document", "sections", len(doc.Sections), "decision_sections", total, "groups", len(groups))

	if total == 0 {
		log.Warn("no decision language found")
		job.AddError("no decision-bearing content")
		job.SetStatus(StatusFailed, "sectioning")
		return
	}

	// Phase 3: Per-section language-model extraction, bounded concurrency.
	// Sections are independent until the merge step.
	job.SetStatus(StatusExtracting, "extracting")
	inputs := w.extractSections(ctx, job, doc, groups, log)

	// Phase 4: Merge and validate, single-threaded per document. The
	// merge mutates a shared candidate pool, and trees are immutable once
	// handed to the validator.
	job.SetStatus(StatusValidating, "validating")
	var results []GroupResult
	hadErrors := false
	for _, g := range groups {
		res, err := ext.ExtractGroup(doc, inputs[g.id])
		if err != nil {
			log.Error("extraction failed", "group", g.id, "error", err)
			job.AddError(fmt.Sprintf("group %s: %s", g.id, err))
			hadErrors = true
			continue
		}
		for _, warn := range res.Warnings {
			log.Warn("extraction warning", "group", g.id, "code", warn.Code, "detail", warn.Detail)
		}
		validation, err := validator.Validate(res.Tree, res.RequireReferralPath)
		if err != nil {
			// Structural failure means an extractor bug, not messy input.
			log.Error("validation failed", "group", g.id, "error", err)
			job.AddError(fmt.Sprintf("validate group %s: %s", g.id, err))
			hadErrors = true
			continue
		}
		job.AddTree(validation.IsComplete)
		results = append(results, GroupResult{
			GroupID:             g.id,
			GroupTitle:          g.title,
			Tree:                res.Tree,
			Validation:          validation,
			Warnings:            res.Warnings,
			RequireReferralPath: res.RequireReferralPath,
		})
	}

	if len(results) == 0 {
		job.SetStatus(StatusFailed, "validating")
		return
	}

	// Phase 5: Publish every tree, complete or not; a rejected tree goes
	// to the sink with its metrics so the quality gate is visible there.
	job.SetStatus(StatusPublishing, "publishing")
	published := w.publish(ctx, job, doc, results, log)
	if published < len(results) {
		hadErrors = true
	}

	job.SetResults(results)
	log.Info("job done", "trees", len(results), "published", published, "errors", hadErrors)

	switch {
	case hadErrors && published > 0:
		job.SetStatus(StatusPartial, "done")
	case hadErrors:
		job.SetStatus(StatusFailed, "publishing")
	default:
		job.SetStatus(StatusCompleted, "done")
	}
}

// decisionGroups collects the decision-bearing sections of each top-level
// section subtree, in document order.
func (w *Worker) decisionGroups(doc *navtree.Document, ext *extractor.Extractor) []*sectionGroup {
	var order []string
	byID := make(map[string]*sectionGroup)
	for _, sec := range doc.Sections {
		if strings.TrimSpace(sec.Text) == "" || !ext.DecisionBearing(sec, doc.Type) {
			continue
		}
		top := doc.TopLevelAncestor(sec.ID)
		if top == nil {
			top = sec
		}
		g, ok := byID[top.ID]
		if !ok {
			g = &sectionGroup{id: top.ID, title: top.Title}
			byID[top.ID] = g
			order = append(order, top.ID)
		}
		g.sections = append(g.sections, sec)
	}
	groups := make([]*sectionGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, byID[id])
	}
	return groups
}

// extractSections runs the language-model call and parse chain for every
// decision-bearing section with bounded concurrency. A failed or empty
// completion is normal input to the fallback chain, never fatal.
func (w *Worker) extractSections(ctx context.Context, job *Job, doc *navtree.Document, groups []*sectionGroup, log *slog.Logger) map[string][]extractor.SectionInput {
	type sectionResult struct {
		groupID string
		input   extractor.SectionInput
		order   int
	}

	total := 0
	for _, g := range groups {
		total += len(g.sections)
	}
	results := make(chan sectionResult, total)
	sem := make(chan struct{}, w.maxConcurrentExtract)

	for _, g := range groups {
		for _, sec := range g.sections {
			sem <- struct{}{}
			go func(gid string, sec *navtree.Section) {
				defer func() { <-sem }()
				raw := w.completeSection(ctx, doc, sec, log)
				cands, report, err := llm.ParseCandidates(raw, w.matcher, doc.Type)
				if err != nil {
					// All three strategies came up empty: the section
					// carries no decision logic the model could see.
					// Matcher extraction still runs in the merge step.
					log.Info("no parseable candidates", "section", sec.ID)
				}
				results <- sectionResult{
					groupID: gid,
					order:   sec.Order,
					input:   extractor.SectionInput{Section: sec, Candidates: cands, Report: report},
				}
			}(g.id, sec)
		}
	}

	inputs := make(map[string][]extractor.SectionInput, len(groups))
	collected := make(map[string][]sectionResult, len(groups))
	for range total {
		r := <-results
		job.IncrSectionsProcessed()
		collected[r.groupID] = append(collected[r.groupID], r)
	}
	for gid, rs := range collected {
		sort.Slice(rs, func(i, j int) bool { return rs[i].order < rs[j].order })
		for _, r := range rs {
			inputs[gid] = append(inputs[gid], r.input)
		}
	}
	return inputs
}

// completeSection calls the completion service with retry and backoff.
// Errors degrade to an empty completion.
func (w *Worker) completeSection(ctx context.Context, doc *navtree.Document, sec *navtree.Section, log *slog.Logger) string {
	if w.completer == nil {
		return ""
	}
	prompt := llm.BuildSectionPrompt(doc.Title, doc.Breadcrumb(sec.ID), doc.Type, sec.Text)
	var raw string
	var lastErr error
	for attempt := range llm.MaxRetries {
		raw, lastErr = w.completer.Complete(ctx, prompt)
		if lastErr == nil || !llm.IsRetryable(lastErr) {
			break
		}
		log.Warn("retryable completion error", "section", sec.ID, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(llm.Backoff(attempt)):
		case <-ctx.Done():
			return ""
		}
	}
	if lastErr != nil {
		log.Warn("completion failed, falling back to pattern extraction", "section", sec.ID, "error", lastErr)
		return ""
	}
	return raw
}

// publish pushes each tree batch to the graph sink with bounded concurrency
// and returns how many succeeded.
func (w *Worker) publish(ctx context.Context, job *Job, doc *navtree.Document, results []GroupResult, log *slog.Logger) int {
	type publishResult struct {
		groupID string
		err     error
	}
	out := make(chan publishResult, len(results))
	sem := make(chan struct{}, w.maxConcurrentPublish)

	for _, r := range results {
		sem <- struct{}{}
		go func(r GroupResult) {
			defer func() { <-sem }()
			batch := graphsink.GraphBatch{
				DocID:         job.DocID,
				Title:         doc.Title,
				GroupID:       r.GroupID,
				ContentHash:   job.ContentHash,
				Nodes:         treeNodes(r.Tree),
				Relationships: r.Tree.Edges,
				Validation:    r.Validation,
			}
			out <- publishResult{groupID: r.GroupID, err: w.sink.PublishBatch(ctx, batch)}
		}(r)
	}

	published := 0
	for range results {
		r := <-out
		if r.err != nil {
			log.Error("publish failed", "group", r.groupID, "error", r.err)
			job.AddError(fmt.Sprintf("publish %s: %s", r.groupID, r.err))
			continue
		}
		published++
		job.IncrTreesPublished()
	}
	return published
}

// treeNodes flattens a tree's node map in id order for a stable batch.
func treeNodes(t *decision.Tree) []decision.Node {
	out := make([]decision.Node, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// flattenDocText joins all section text for content hashing.
func flattenDocText(doc *navtree.Document) string {
	var sb strings.Builder
	for _, sec := range doc.Sections {
		if sec.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(sec.Text)
	}
	return sb.String()
}
