package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

const (
	notaryQueryTimeout  = 2 * time.Minute
	notaryUploadTimeout = 30 * time.Minute
)

// NotarytoolGateway talks to the notary service through `xcrun notarytool`
type NotarytoolGateway struct {
	runner gateways.CommandRunner
	logger interfaces.Logger
}

// NewNotarytoolGateway creates the gateway
func NewNotarytoolGateway(runner gateways.CommandRunner, logger interfaces.Logger) *NotarytoolGateway {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &NotarytoolGateway{runner: runner, logger: logger}
}

type notarySubmitOutput struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

type notaryInfoOutput struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Name        string `json:"name"`
	CreatedDate string `json:"createdDate"`
	Message     string `json:"message"`
}

type notaryHistoryOutput struct {
	History []notaryInfoOutput `json:"history"`
	Message string             `json:"message"`
}

// Submit uploads an archive without --wait; polling is the caller's job
func (g *NotarytoolGateway) Submit(ctx context.Context, cred *entities.Credential, archivePath string) (*gateways.SubmitResponse, error) {
	result, err := g.exec(ctx, cred, notaryUploadTimeout, "submit", archivePath)
	if err != nil {
		return nil, err
	}

	var out notarySubmitOutput
	if err := decodeNotaryJSON(result.Stdout, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("notarytool submit returned no submission id: %s", strings.TrimSpace(result.Stdout))
	}
	return &gateways.SubmitResponse{ID: out.ID, Message: out.Message, Raw: strings.TrimSpace(result.Stdout)}, nil
}

// Info fetches the current status of a submission
func (g *NotarytoolGateway) Info(ctx context.Context, cred *entities.Credential, submissionID string) (*gateways.SubmissionInfo, error) {
	result, err := g.exec(ctx, cred, notaryQueryTimeout, "info", submissionID)
	if err != nil {
		return nil, err
	}

	var out notaryInfoOutput
	if err := decodeNotaryJSON(result.Stdout, &out); err != nil {
		return nil, err
	}
	info := out.toDomain()
	info.Raw = strings.TrimSpace(result.Stdout)
	return info, nil
}

// Log fetches the processing log; the status response never includes it
func (g *NotarytoolGateway) Log(ctx context.Context, cred *entities.Credential, submissionID string) (*entities.NotarizationLog, error) {
	result, err := g.exec(ctx, cred, notaryQueryTimeout, "log", submissionID)
	if err != nil {
		return nil, err
	}

	var log entities.NotarizationLog
	if err := decodeNotaryJSON(result.Stdout, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

// History lists previous submissions for the account
func (g *NotarytoolGateway) History(ctx context.Context, cred *entities.Credential) ([]gateways.SubmissionInfo, error) {
	result, err := g.exec(ctx, cred, notaryQueryTimeout, "history")
	if err != nil {
		return nil, err
	}

	var out notaryHistoryOutput
	if err := decodeNotaryJSON(result.Stdout, &out); err != nil {
		return nil, err
	}
	history := make([]gateways.SubmissionInfo, 0, len(out.History))
	for _, h := range out.History {
		history = append(history, *h.toDomain())
	}
	return history, nil
}

func (o notaryInfoOutput) toDomain() *gateways.SubmissionInfo {
	return &gateways.SubmissionInfo{
		ID:          o.ID,
		Status:      o.Status,
		Name:        o.Name,
		CreatedDate: o.CreatedDate,
		Message:     o.Message,
	}
}

func (g *NotarytoolGateway) exec(ctx context.Context, cred *entities.Credential, timeout time.Duration, args ...string) (*gateways.CommandResult, error) {
	if !cred.Complete() {
		return nil, fmt.Errorf("notarytool %s: %w", args[0], gateways.ErrNotaryAuth)
	}

	full := append([]string{"notarytool"}, args...)
	full = append(full, "--apple-id", cred.Identity, "--password", cred.Secret)
	if cred.OrganizationID != "" {
		full = append(full, "--team-id", cred.OrganizationID)
	}
	full = append(full, "--output-format", "json")

	result, err := g.runner.Run(ctx, gateways.CommandSpec{
		Name:    "xcrun",
		Args:    full,
		Timeout: timeout,
		Redact:  []string{cred.Secret},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		output := Redact(result.Combined(), cred.Secret)
		if classified := classifyNotaryError(output); classified != nil {
			return nil, classified
		}
		return nil, fmt.Errorf("notarytool %s failed: %w: %s", args[0], err, TailLines(output, 5))
	}
	return result, nil
}

// classifyNotaryError maps notarytool's failure text onto the gateway's error contract
func classifyNotaryError(output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "multiple teams"),
		strings.Contains(lower, "multiple providers"),
		strings.Contains(lower, "provide a team id"),
		strings.Contains(lower, "--team-id is required"):
		return &gateways.AmbiguousTeamError{Message: firstErrorLine(output)}
	case strings.Contains(lower, "status code: 401"),
		strings.Contains(lower, "invalid credentials"),
		strings.Contains(lower, "unable to authenticate"):
		return fmt.Errorf("%w: %s", gateways.ErrNotaryAuth, firstErrorLine(output))
	case strings.Contains(lower, "status code: 403"),
		strings.Contains(lower, "team is not"),
		strings.Contains(lower, "invalid team"):
		return fmt.Errorf("%w: %s", gateways.ErrNotaryTeam, firstErrorLine(output))
	default:
		return nil
	}
}

func firstErrorLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Error:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Error:"))
		}
	}
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(strings.TrimSpace(output)), &msg) == nil && msg.Message != "" {
		return msg.Message
	}
	return strings.TrimSpace(output)
}

// decodeNotaryJSON tolerates progress text printed before the JSON document
func decodeNotaryJSON(stdout string, v any) error {
	data := []byte(stdout)
	if i := bytes.IndexByte(data, '{'); i > 0 {
		data = data[i:]
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse notarytool output: %w", err)
	}
	return nil
}
