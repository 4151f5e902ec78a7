package yaml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces/repositories"
)

// yamlSubmission is the on-disk record of one notarization submission
type yamlSubmission struct {
	SubmissionID    string         `yaml:"submission_id"`
	Status          string         `yaml:"status"`
	Version         string         `yaml:"version"`
	BundlePath      string         `yaml:"bundle_path"`
	ArchivePath     string         `yaml:"archive_path"`
	SubmittedAt     time.Time      `yaml:"submitted_at"`
	UpdatedAt       time.Time      `yaml:"updated_at"`
	StatusMessage   string         `yaml:"status_message,omitempty"`
	RawResponse     string         `yaml:"raw_response,omitempty"`
	NotarizationLog *yamlNotaryLog `yaml:"notarization_log,omitempty"`
	LogFetchError   string         `yaml:"log_fetch_error,omitempty"`
}

type yamlNotaryLog struct {
	JobID         string            `yaml:"job_id"`
	Status        string            `yaml:"status"`
	StatusSummary string            `yaml:"status_summary"`
	StatusCode    int               `yaml:"status_code,omitempty"`
	Archive       string            `yaml:"archive,omitempty"`
	SHA256        string            `yaml:"sha256,omitempty"`
	Issues        []yamlNotaryIssue `yaml:"issues,omitempty"`
}

type yamlNotaryIssue struct {
	Severity     string `yaml:"severity"`
	Code         string `yaml:"code,omitempty"`
	Path         string `yaml:"path,omitempty"`
	Message      string `yaml:"message"`
	DocURL       string `yaml:"doc_url,omitempty"`
	Architecture string `yaml:"architecture,omitempty"`
}

// SubmissionRepository implements repositories.SubmissionRepository with one
// YAML file per version under <state>/submissions
type SubmissionRepository struct {
	dir string
}

// NewSubmissionRepository creates a repository rooted at stateDir
func NewSubmissionRepository(stateDir string) *SubmissionRepository {
	return &SubmissionRepository{dir: filepath.Join(stateDir, "submissions")}
}

// Save writes the record atomically, replacing any previous one for the version
func (r *SubmissionRepository) Save(_ context.Context, submission *entities.NotarizationSubmission) error {
	if submission.Version == "" {
		return fmt.Errorf("submission has no version")
	}
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create submissions directory: %w", err)
	}

	data, err := yaml.Marshal(toYAML(submission))
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}

	path := r.path(submission.Version)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write submission record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace submission record: %w", err)
	}
	return nil
}

// Get returns the record for a version, or repositories.ErrSubmissionNotFound
func (r *SubmissionRepository) Get(_ context.Context, version string) (*entities.NotarizationSubmission, error) {
	path := r.path(version)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w for version %s", repositories.ErrSubmissionNotFound, version)
	}
	return r.read(path)
}

// List returns every readable record, newest submission first
func (r *SubmissionRepository) List(_ context.Context) ([]*entities.NotarizationSubmission, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read submissions directory: %w", err)
	}

	submissions := make([]*entities.NotarizationSubmission, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		s, err := r.read(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			// Log warning but continue processing other files
			fmt.Fprintf(os.Stderr, "Warning: failed to parse %s: %v\n", entry.Name(), err)
			continue
		}
		submissions = append(submissions, s)
	}

	sort.SliceStable(submissions, func(i, j int) bool {
		return submissions[i].SubmittedAt.After(submissions[j].SubmittedAt)
	})
	return submissions, nil
}

func (r *SubmissionRepository) path(version string) string {
	// versions are used as file names; keep them on one path level
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(version)
	return filepath.Join(r.dir, safe+".yml")
}

func (r *SubmissionRepository) read(path string) (*entities.NotarizationSubmission, error) {
	//nolint:gosec // G304: path is inside the state directory
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read submission record: %w", err)
	}

	var raw yamlSubmission
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse submission record: %w", err)
	}
	status, err := entities.ParseSubmissionStatus(raw.Status)
	if err != nil {
		return nil, fmt.Errorf("submission record %s: %w", path, err)
	}
	return fromYAML(raw, status), nil
}

func toYAML(s *entities.NotarizationSubmission) yamlSubmission {
	out := yamlSubmission{
		SubmissionID:  s.SubmissionID,
		Status:        string(s.Status),
		Version:       s.Version,
		BundlePath:    s.BundlePath,
		ArchivePath:   s.ArchivePath,
		SubmittedAt:   s.SubmittedAt,
		UpdatedAt:     s.UpdatedAt,
		StatusMessage: s.StatusMessage,
		RawResponse:   s.RawResponsePayload,
		LogFetchError: s.LogFetchError,
	}
	if l := s.ErrorLog; l != nil {
		log := &yamlNotaryLog{
			JobID:         l.JobID,
			Status:        l.Status,
			StatusSummary: l.StatusSummary,
			StatusCode:    l.StatusCode,
			Archive:       l.ArchiveFilename,
			SHA256:        l.SHA256,
		}
		for _, issue := range l.Issues {
			log.Issues = append(log.Issues, yamlNotaryIssue(issue))
		}
		out.NotarizationLog = log
	}
	return out
}

func fromYAML(raw yamlSubmission, status entities.SubmissionStatus) *entities.NotarizationSubmission {
	s := &entities.NotarizationSubmission{
		SubmissionID:       raw.SubmissionID,
		Status:             status,
		Version:            raw.Version,
		BundlePath:         raw.BundlePath,
		ArchivePath:        raw.ArchivePath,
		SubmittedAt:        raw.SubmittedAt,
		UpdatedAt:          raw.UpdatedAt,
		StatusMessage:      raw.StatusMessage,
		RawResponsePayload: raw.RawResponse,
		LogFetchError:      raw.LogFetchError,
	}
	if l := raw.NotarizationLog; l != nil {
		log := &entities.NotarizationLog{
			JobID:           l.JobID,
			Status:          l.Status,
			StatusSummary:   l.StatusSummary,
			StatusCode:      l.StatusCode,
			ArchiveFilename: l.Archive,
			SHA256:          l.SHA256,
		}
		for _, issue := range l.Issues {
			log.Issues = append(log.Issues, entities.NotarizationIssue(issue))
		}
		s.ErrorLog = log
	}
	return s
}
