// Package knowledge holds the project descriptions, FAQ tables and
// downloadable files loaded from the blob store.
package knowledge

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jkindrix/leadconcierge/internal/blob"
	"github.com/jkindrix/leadconcierge/internal/domain"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

// Blob prefixes read by Load.
const (
	ProjectsPrefix  = "projects/"
	FAQPrefix       = "faq/"
	DownloadsPrefix = "downloads/"
)

const loadConcurrency = 4

// FAQKey is the blob holding the FAQ records of a project.
func FAQKey(project string) string {
	return FAQPrefix + project + ".txt"
}

// Options configures a Store.
type Options struct {
	// LocalDir receives a copy of each project file when set.
	LocalDir string
	// PublicBaseURL prefixes download links.
	PublicBaseURL string
}

// Store answers project, FAQ and download lookups. Only AddFAQ mutates it
// after Load.
type Store struct {
	blobs  blob.Store
	opts   Options
	logger *zap.Logger

	mu        sync.RWMutex
	projects  map[string]*domain.Project // by CaseFold(name)
	order     []string
	faq       map[string]map[string]string // CaseFold(project) -> CaseFold(q) -> answer
	downloads map[string][]domain.Download
}

// NewStore creates an empty store.
func NewStore(blobs blob.Store, opts Options, logger *zap.Logger) *Store {
	return &Store{
		blobs:     blobs,
		opts:      opts,
		logger:    logger,
		projects:  make(map[string]*domain.Project),
		faq:       make(map[string]map[string]string),
		downloads: make(map[string][]domain.Download),
	}
}

// projectName derives a project name from a blob key such as
// "projects/Torre_X.txt".
func projectName(key, prefix string) string {
	base := strings.TrimPrefix(key, prefix)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}

// Load replaces the tables with the blob contents.
func (s *Store) Load(ctx context.Context) error {
	start := time.Now()

	projects, err := s.loadProjects(ctx)
	if err != nil {
		return err
	}
	faq, err := s.loadFAQ(ctx)
	if err != nil {
		return err
	}
	downloads, err := s.loadDownloads(ctx)
	if err != nil {
		return err
	}

	byKey := make(map[string]*domain.Project, len(projects))
	order := make([]string, 0, len(projects))
	for _, p := range projects {
		byKey[textnorm.CaseFold(p.Name)] = p
		order = append(order, p.Name)
	}
	sort.Strings(order)

	s.mu.Lock()
	s.projects = byKey
	s.order = order
	s.faq = faq
	s.downloads = downloads
	s.mu.Unlock()

	s.logger.Info("knowledge loaded",
		zap.Int("projects", len(projects)),
		zap.Int("faq_tables", len(faq)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (s *Store) loadProjects(ctx context.Context) ([]*domain.Project, error) {
	keys, err := s.blobs.List(ctx, ProjectsPrefix)
	if err != nil {
		return nil, apperrors.PersistenceError("knowledge.list_projects", err)
	}
	if s.opts.LocalDir != "" {
		if err := os.MkdirAll(s.opts.LocalDir, 0o755); err != nil {
			return nil, apperrors.PersistenceError("knowledge.local_dir", err)
		}
	}

	out := make([]*domain.Project, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			data, err := s.blobs.Get(gctx, key)
			if err != nil {
				return apperrors.PersistenceError("knowledge.get_project", err)
			}
			if s.opts.LocalDir != "" {
				local := filepath.Join(s.opts.LocalDir, path.Base(key))
				if err := os.WriteFile(local, data, 0o644); err != nil {
					s.logger.Warn("failed to cache project locally", zap.String("key", key), zap.Error(err))
				}
			}
			p := ParseProject(projectName(key, ProjectsPrefix), string(data))
			p.UpdatedAt = time.Now().UTC()
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadFAQ(ctx context.Context) (map[string]map[string]string, error) {
	keys, err := s.blobs.List(ctx, FAQPrefix)
	if err != nil {
		return nil, apperrors.PersistenceError("knowledge.list_faq", err)
	}
	faq := make(map[string]map[string]string)
	for _, key := range keys {
		data, err := s.blobs.Get(ctx, key)
		if err != nil {
			return nil, apperrors.PersistenceError("knowledge.get_faq", err)
		}
		ns := textnorm.CaseFold(projectName(key, FAQPrefix))
		table := faq[ns]
		if table == nil {
			table = make(map[string]string)
			faq[ns] = table
		}
		for _, e := range ParseFAQ(string(data)) {
			table[faqKey(e.Question)] = e.Answer
		}
	}
	return faq, nil
}

func (s *Store) loadDownloads(ctx context.Context) (map[string][]domain.Download, error) {
	keys, err := s.blobs.List(ctx, DownloadsPrefix)
	if err != nil {
		return nil, apperrors.PersistenceError("knowledge.list_downloads", err)
	}
	out := make(map[string][]domain.Download)
	for _, key := range keys {
		project, file, ok := strings.Cut(strings.TrimPrefix(key, DownloadsPrefix), "/")
		if !ok || file == "" {
			continue
		}
		ns := textnorm.CaseFold(strings.ReplaceAll(project, "_", " "))
		out[ns] = append(out[ns], domain.Download{
			Project: project,
			Name:    file,
			URL:     s.downloadURL(key),
		})
	}
	return out, nil
}

func (s *Store) downloadURL(key string) string {
	if s.opts.PublicBaseURL == "" {
		return key
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/" + strings.Join(parts, "/")
}

// GetProject looks a project up by name, ignoring case.
func (s *Store) GetProject(name string) (*domain.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[textnorm.CaseFold(name)]
	return p, ok
}

// ListProjects returns the project names in lexical order.
func (s *Store) ListProjects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// MatchProject returns the first project whose whitespace-stripped name is
// contained in the whitespace-stripped text.
func (s *Store) MatchProject(text string) (string, bool) {
	compact := textnorm.Compact(text)
	for _, name := range s.ListProjects() {
		if n := textnorm.Compact(name); n != "" && strings.Contains(compact, n) {
			return name, true
		}
	}
	return "", false
}

// faqKey folds case and collapses whitespace. Punctuation and accents
// still distinguish questions.
func faqKey(q string) string {
	return textnorm.CaseFold(oneLine(q))
}

// GetFAQ looks the question up in the project table, then the general one.
func (s *Store) GetFAQ(question, project string) (string, bool) {
	q := faqKey(question)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if project != "" {
		if a, ok := s.faq[textnorm.CaseFold(project)][q]; ok {
			return a, true
		}
	}
	a, ok := s.faq[domain.GeneralFAQ][q]
	return a, ok
}

// AddFAQ appends the record to the project's FAQ blob, then updates memory.
// On write failure memory is untouched.
func (s *Store) AddFAQ(ctx context.Context, project, question, answer string) error {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return apperrors.InvalidInput("faq question and answer are required")
	}
	if project == "" {
		project = domain.GeneralFAQ
	}
	if err := s.blobs.Append(ctx, FAQKey(project), []byte(FormatFAQ(question, answer))); err != nil {
		return apperrors.PersistenceError("knowledge.add_faq", err)
	}

	ns := textnorm.CaseFold(project)
	s.mu.Lock()
	table := s.faq[ns]
	if table == nil {
		table = make(map[string]string)
		s.faq[ns] = table
	}
	table[faqKey(question)] = oneLine(answer)
	s.mu.Unlock()
	return nil
}

// Downloads returns the files available for a project.
func (s *Store) Downloads(project string) []domain.Download {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Download(nil), s.downloads[textnorm.CaseFold(project)]...)
}
