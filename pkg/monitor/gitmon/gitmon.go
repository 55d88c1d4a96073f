// Package gitmon periodically polls a git repository and publishes
// CategoryGit events for new commits, created/deleted branches, and
// merges, diffing each tick's state against the previous one. Commit
// messages are parsed for Conventional Commits, and a lightweight risk
// score is computed per commit from its diffstat and commit type.
package gitmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/sumatoshi-tech/devpulse/internal/cache"
	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
	"github.com/sumatoshi-tech/devpulse/pkg/gitlib"
	"github.com/sumatoshi-tech/devpulse/pkg/monitor"
)

// DefaultInterval is the default poll interval between ticks.
const DefaultInterval = 5 * time.Second

// conventionalCommitRE matches Conventional Commit subject lines:
// "type(scope)?: subject" or "type(scope)?!: subject" for breaking changes.
var conventionalCommitRE = regexp.MustCompile(`^(\w+)(\(([^)]+)\))?!?:\s*(.+)`)

// Publisher is the narrow bus dependency gitmon needs.
type Publisher interface {
	Publish(ctx context.Context, e *event.Event, opts bus.PublishOptions) (bus.PublishResult, error)
}

// Options configures a Monitor.
type Options struct {
	RepoPath string
	Interval time.Duration
	Logger   *slog.Logger

	// AnalyzeMessages enables Conventional Commit parsing and risk
	// scoring on each commit. Disabling it skips parseConventional/
	// computeRisk and emits commits with a nil Analysis field, useful
	// for repos with no commit-message convention to mine.
	AnalyzeMessages bool
}

// Monitor polls RepoPath on a ticker and publishes git:* events.
type Monitor struct {
	opts      Options
	publisher Publisher
	sup       *monitor.Supervisor

	seenCommits *cache.SeenSet[gitlib.Hash]
	seenBranch  map[string]gitlib.Hash
	lastHead    gitlib.Hash
	initialized bool
}

// New constructs a git Monitor. notifier may be nil.
func New(opts Options, publisher Publisher, notifier monitor.Notifier) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Monitor{
		opts:        opts,
		publisher:   publisher,
		seenCommits: cache.NewSeenSet[gitlib.Hash](),
		seenBranch:  make(map[string]gitlib.Hash),
	}
	m.sup = monitor.NewSupervisor("gitmon", notifier, opts.Logger)

	return m
}

// Run blocks, supervising the poll loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	return m.sup.Run(ctx, m.poll)
}

func (m *Monitor) poll(ctx context.Context) error {
	repo, err := gitlib.OpenRepository(m.opts.RepoPath)
	if err != nil {
		return fmt.Errorf("%w: %s", monitor.ErrFatal, err.Error())
	}
	defer repo.Free()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	if err := m.tick(ctx, repo); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.tick(ctx, repo); err != nil {
				return err
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context, repo *gitlib.Repository) error {
	if err := m.diffBranches(ctx, repo); err != nil {
		return fmt.Errorf("gitmon: diff branches: %w", err)
	}

	if err := m.diffCommits(ctx, repo); err != nil {
		return fmt.Errorf("gitmon: diff commits: %w", err)
	}

	return nil
}

func (m *Monitor) diffBranches(ctx context.Context, repo *gitlib.Repository) error {
	branches, err := repo.ListBranches()
	if err != nil {
		return err
	}

	current := make(map[string]gitlib.Hash, len(branches))
	for _, b := range branches {
		current[b.Name] = b.Hash
	}

	if m.initialized {
		for name := range current {
			if _, existed := m.seenBranch[name]; !existed {
				m.publishGit(ctx, "git:branch_created", &event.GitPayload{
					Action: event.GitActionBranchCreated,
					Branch: name,
				})
			}
		}
		for name := range m.seenBranch {
			if _, exists := current[name]; !exists {
				m.publishGit(ctx, "git:branch_deleted", &event.GitPayload{
					Action: event.GitActionBranchDeleted,
					Branch: name,
				})
			}
		}
	}

	m.seenBranch = current
	return nil
}

// diffCommits walks commits reachable from HEAD, newest first, up to
// the first commit already seen, then emits one event per unseen
// commit, oldest first. On the very first tick this
// seeds seenCommits from the current history without emitting, so
// startup doesn't replay the whole repo as "new" commits.
func (m *Monitor) diffCommits(ctx context.Context, repo *gitlib.Repository) error {
	head, err := repo.Head()
	if err != nil {
		return err
	}
	if head == m.lastHead {
		return nil
	}

	iter, err := repo.Log(&gitlib.LogOptions{FirstParent: false})
	if err != nil {
		return err
	}
	defer iter.Close()

	var fresh []commitMeta

	err = iter.ForEach(func(c *gitlib.Commit) error {
		if m.seenCommits.Contains(c.Hash()) {
			return errStopWalk
		}
		fresh = append(fresh, snapshotCommit(repo, c))
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return err
	}

	for _, c := range fresh {
		m.seenCommits.Add(c.hash)
	}

	if !m.initialized {
		m.initialized = true
		m.lastHead = head
		return nil
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		m.emitCommit(ctx, fresh[i])
	}

	m.lastHead = head
	return nil
}

var errStopWalk = errors.New("gitmon: stop walk")

// commitMeta is a detached snapshot of the libgit2 commit fields gitmon
// needs, taken before the native Commit is freed by the iterator's
// ForEach, plus the commit's diffstat against its first parent.
type commitMeta struct {
	hash       gitlib.Hash
	parents    []gitlib.Hash
	message    string
	author     string
	numParents int
	stats      diffStat
}

type diffStat struct {
	filesChanged int
	insertions   int
	deletions    int
}

// snapshotCommit extracts everything gitmon needs from c while it is
// still alive, including a diffstat against its first parent (or the
// empty tree for a root commit).
func snapshotCommit(repo *gitlib.Repository, c *gitlib.Commit) commitMeta {
	meta := commitMeta{
		hash:       c.Hash(),
		message:    c.Message(),
		author:     c.Author().Name,
		numParents: c.NumParents(),
	}
	for i := 0; i < meta.numParents; i++ {
		meta.parents = append(meta.parents, c.ParentHash(i))
	}

	meta.stats = diffAgainstParent(repo, c)

	return meta
}

func diffAgainstParent(repo *gitlib.Repository, c *gitlib.Commit) diffStat {
	newTree, err := c.Tree()
	if err != nil {
		return diffStat{}
	}
	defer newTree.Free()

	var oldTree *gitlib.Tree
	if c.NumParents() > 0 {
		parent, parentErr := c.Parent(0)
		if parentErr == nil {
			defer parent.Free()
			oldTree, _ = parent.Tree()
			if oldTree != nil {
				defer oldTree.Free()
			}
		}
	}

	diff, err := repo.DiffTreeToTree(oldTree, newTree)
	if err != nil {
		return diffStat{}
	}
	defer diff.Free()

	stats, err := diff.Stats()
	if err != nil {
		return diffStat{}
	}
	defer stats.Free()

	return diffStat{
		filesChanged: stats.FilesChanged(),
		insertions:   stats.Insertions(),
		deletions:    stats.Deletions(),
	}
}

func (m *Monitor) emitCommit(ctx context.Context, c commitMeta) {
	payload := &event.GitPayload{
		Action:  event.GitActionCommit,
		Hash:    hashHex(c.hash),
		Message: c.message,
		Author:  c.author,
		Parents: hashesHex(c.parents),
		Stats: &event.GitStats{
			Adds:  c.stats.insertions,
			Dels:  c.stats.deletions,
			Files: c.stats.filesChanged,
		},
	}

	if m.opts.AnalyzeMessages {
		convType, scope, _ := parseConventional(c.message)
		payload.Analysis = &event.GitAnalysis{
			ConventionalType: convType,
			Scope:            scope,
			Risk:             computeRisk(c.numParents, c.stats, convType),
		}
	}

	m.publishGit(ctx, "git:commit", payload)

	if c.numParents >= 2 {
		m.publishGit(ctx, "git:merge", &event.GitPayload{
			Action:  event.GitActionMerge,
			Hash:    hashHex(c.hash),
			Parents: hashesHex(c.parents),
		})
	}
}

func hashesHex(hashes []gitlib.Hash) []string {
	if len(hashes) == 0 {
		return nil
	}
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = hashHex(h)
	}
	return out
}

func hashHex(h gitlib.Hash) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hexDigits[b>>4]
		buf[i*2+1] = hexDigits[b&0x0f]
	}
	return string(buf)
}

// parseConventional extracts the Conventional Commit type/scope/subject
// from a commit message's first line, per spec.md §4.E.
func parseConventional(message string) (commitType, scope, subject string) {
	firstLine := message
	for i, r := range message {
		if r == '\n' {
			firstLine = message[:i]
			break
		}
	}

	match := conventionalCommitRE.FindStringSubmatch(firstLine)
	if match == nil {
		return "", "", firstLine
	}

	return match[1], match[3], match[4]
}

// Risk weights combine the three signals spec.md §4.E names: files
// changed, insertions+deletions, and conventional type. Large,
// untyped, multi-file commits score highest; small typed ones score
// lowest.
const (
	riskFilesDivisor  = 20.0 // files changed saturating around 20
	riskLinesDivisor  = 400.0 // insertions+deletions saturating around 400
	riskFilesWeight   = 0.4
	riskLinesWeight   = 0.4
	riskUntypedWeight = 0.2
)

func computeRisk(numParents int, stats diffStat, conventionalType string) float64 {
	filesScore := clamp01(float64(stats.filesChanged) / riskFilesDivisor)
	linesScore := clamp01(float64(stats.insertions+stats.deletions) / riskLinesDivisor)

	risk := filesScore*riskFilesWeight + linesScore*riskLinesWeight
	if conventionalType == "" {
		risk += riskUntypedWeight
	}
	if numParents >= 2 {
		risk += riskUntypedWeight / 2
	}

	return clamp01(risk)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (m *Monitor) publishGit(ctx context.Context, typ string, payload *event.GitPayload) {
	e := event.New(typ, event.CategoryGit, event.SeverityInfo, "gitmon", payload)
	if _, err := m.publisher.Publish(ctx, e, bus.PublishOptions{UseQueue: true}); err != nil {
		m.opts.Logger.Warn("gitmon: publish failed", slog.String("error", err.Error()))
	}
}
