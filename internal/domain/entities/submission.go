package entities

import (
	"fmt"
	"time"
)

// SubmissionStatus is a state of the notarization state machine
type SubmissionStatus string

// Notarization states: Submitted -> InProgress -> {Accepted | Invalid}
const (
	StatusSubmitted  SubmissionStatus = "Submitted"
	StatusInProgress SubmissionStatus = "In Progress"
	StatusAccepted   SubmissionStatus = "Accepted"
	StatusInvalid    SubmissionStatus = "Invalid"
)

// IsTerminal reports whether no further transitions are possible
func (s SubmissionStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusInvalid
}

// ParseSubmissionStatus maps the attestation service's status strings onto the state machine.
// "Rejected" is treated as Invalid since both are terminal failures.
func ParseSubmissionStatus(raw string) (SubmissionStatus, error) {
	switch raw {
	case "Submitted", "submitted":
		return StatusSubmitted, nil
	case "In Progress", "in progress", "InProgress":
		return StatusInProgress, nil
	case "Accepted", "accepted":
		return StatusAccepted, nil
	case "Invalid", "invalid", "Rejected", "rejected":
		return StatusInvalid, nil
	default:
		return "", fmt.Errorf("unknown submission status %q", raw)
	}
}

// NotarizationSubmission tracks one submission to the attestation service
type NotarizationSubmission struct {
	SubmissionID       string           `json:"submission_id"`
	Status             SubmissionStatus `json:"status"`
	Version            string           `json:"version"`
	BundlePath         string           `json:"bundle_path"`
	ArchivePath        string           `json:"archive_path"`
	SubmittedAt        time.Time        `json:"submitted_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	RawResponsePayload string           `json:"raw_response_payload,omitempty"`
	StatusMessage      string           `json:"status_message,omitempty"`
	ErrorLog           *NotarizationLog `json:"error_log,omitempty"`
	// LogFetchError is set while the rejection log could not be retrieved
	LogFetchError string `json:"log_fetch_error,omitempty"`
}

// NeedsLog reports whether the submission is Invalid and its log has not been retrieved yet
func (s *NotarizationSubmission) NeedsLog() bool {
	return s.Status == StatusInvalid && s.ErrorLog == nil
}

// Transition moves the submission to next. Terminal states never change;
// a transition back to Submitted from InProgress is ignored.
func (s *NotarizationSubmission) Transition(next SubmissionStatus, at time.Time) (bool, error) {
	if s.Status.IsTerminal() {
		if next == s.Status {
			return false, nil
		}
		return false, fmt.Errorf("submission %s is %s and cannot become %s", s.SubmissionID, s.Status, next)
	}
	switch next {
	case StatusSubmitted:
		return false, nil
	case StatusInProgress, StatusAccepted, StatusInvalid:
	default:
		return false, fmt.Errorf("unknown submission status %q", next)
	}
	if next == s.Status {
		return false, nil
	}
	s.Status = next
	s.UpdatedAt = at
	return true, nil
}

// NotarizationLog is the structured rejection report fetched separately by submission id
type NotarizationLog struct {
	JobID           string              `json:"jobId"`
	Status          string              `json:"status"`
	StatusSummary   string              `json:"statusSummary"`
	StatusCode      int                 `json:"statusCode"`
	ArchiveFilename string              `json:"archiveFilename"`
	UploadDate      string              `json:"uploadDate"`
	SHA256          string              `json:"sha256"`
	Issues          []NotarizationIssue `json:"issues"`
}

// NotarizationIssue is one actionable problem found by the attestation service
type NotarizationIssue struct {
	Severity     string `json:"severity"`
	Code         string `json:"code"`
	Path         string `json:"path"`
	Message      string `json:"message"`
	DocURL       string `json:"docUrl"`
	Architecture string `json:"architecture"`
}

// Summary renders the log in a form suitable for terminal output
func (l *NotarizationLog) Summary() string {
	if l == nil {
		return "no notarization log available"
	}
	out := fmt.Sprintf("%s: %s", l.Status, l.StatusSummary)
	for _, issue := range l.Issues {
		out += fmt.Sprintf("\n  [%s] %s: %s", issue.Severity, issue.Path, issue.Message)
		if issue.DocURL != "" {
			out += "\n         " + issue.DocURL
		}
	}
	return out
}
