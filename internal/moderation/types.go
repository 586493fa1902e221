package moderation

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies what a case is about.
type Kind string

const (
	KindContent   Kind = "content"
	KindUser      Kind = "user"
	KindCommunity Kind = "community"
)

// ParseKind validates a subject kind. The inbound wire protocol historically
// says "account" where cases say "user"; the alias is normalized here so the
// store only ever sees one vocabulary.
func ParseKind(raw string) (Kind, error) {
	switch raw {
	case "content":
		return KindContent, nil
	case "user", "account":
		return KindUser, nil
	case "community":
		return KindCommunity, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
}

// CaseStatus is the review state of a case. Transitions go one way:
// unresolved cases become resolved and never reopen.
type CaseStatus string

const (
	StatusUnresolved CaseStatus = "unresolved"
	StatusResolved   CaseStatus = "resolved"
)

// Platform is an external integrator delegating moderation decisions.
// Secret is the shared bearer credential; rotating it invalidates the
// previous value immediately.
type Platform struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CallbackURL    string    `json:"callback_url"`
	Secret         string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Organization owns platforms. Its admin can manage them and moderate
// every case they produce.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AdminID   string    `json:"admin_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleInformation is the human-readable body of a rule.
type RuleInformation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Rule is a platform guideline shown to moderators next to a case.
type Rule struct {
	ID           string          `json:"id"`
	PlatformID   string          `json:"platform_id"`
	ReadableName string          `json:"readable_name"`
	Information  RuleInformation `json:"information"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CaseRef uniquely identifies a case.
type CaseRef struct {
	PlatformID string `json:"platform_id"`
	RelevantID string `json:"relevant_id"`
	Kind       Kind   `json:"kind"`
}

// Case is one unit of content/user/community under review.
type Case struct {
	PlatformID string     `json:"platform_id"`
	RelevantID string     `json:"relevant_id"`
	Kind       Kind       `json:"kind"`
	Status     CaseStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (c Case) Ref() CaseRef {
	return CaseRef{PlatformID: c.PlatformID, RelevantID: c.RelevantID, Kind: c.Kind}
}

// Payload kinds for actions.
const (
	PayloadCustom             = "custom"
	PayloadComment            = "comment"
	PayloadRequestPublication = "requestPublication"
)

// ActionPayload is the variant part of an action: a moderator decision, a
// free-text comment, or a platform-initiated system event.
type ActionPayload struct {
	Kind    string `json:"kind"`
	ID      string `json:"id,omitempty"`
	Display string `json:"display,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Action is an immutable event appended to a case's history. Actions are
// never updated or deleted; history is reconstructed by ordering on CreatedAt.
type Action struct {
	ID         string        `json:"id"`
	PlatformID string        `json:"platform_id"`
	RelevantID string        `json:"relevant_id"`
	Kind       Kind          `json:"kind"`
	AuthorID   string        `json:"author_id,omitempty"`
	AuthorName string        `json:"author_name,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Payload    ActionPayload `json:"payload"`
}

// Decision is a moderator's choice among the platform's possible actions.
type Decision struct {
	ID      string `json:"id"`
	Display string `json:"display,omitempty"`
}

// Moderator is a dashboard user who may resolve cases.
type Moderator struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Media is one platform-supplied piece of the subject under review.
type Media struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
	Alt     string `json:"alt,omitempty"`
	Tag     string `json:"tag,omitempty"`
}

// PossibleAction is a decision the platform allows in the subject's current state.
type PossibleAction struct {
	ID      string `json:"id"`
	Display string `json:"display,omitempty"`
	Variant string `json:"variant,omitempty"`
}

// SubjectSnapshot is the platform's ephemeral view of the thing under review.
// It is fetched fresh on every case view and never persisted.
type SubjectSnapshot struct {
	Medias          []Media          `json:"medias"`
	PossibleActions []PossibleAction `json:"possibleActions"`
}

// NotificationCase is the case reference carried inside a notification.
type NotificationCase struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// NotificationEvent is the in-flight "platform must learn about this action"
// message. It lives only inside the delivery queue between enqueue and ack.
type NotificationEvent struct {
	PlatformID string           `json:"platformId"`
	Case       NotificationCase `json:"case"`
	Action     string           `json:"action"`
}

var (
	ErrNotFound      = errors.New("moderation: not found")
	ErrAlreadyExists = errors.New("moderation: already exists")
	ErrCaseResolved  = errors.New("moderation: case already resolved")
	ErrInvalidKind   = errors.New("moderation: invalid subject kind")
)
