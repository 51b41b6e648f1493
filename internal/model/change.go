// Package model defines the design-change data types.
package model

import (
	"strings"
	"time"

	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
)

// Unspecified is rendered in place of a missing optional field.
const Unspecified = "미상"

// DesignChangeInput is a design change as submitted, before it is stamped.
type DesignChangeInput struct {
	ChangeDate   Date   `json:"change_date"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Author       string `json:"author,omitempty"`
	Organization string `json:"organization,omitempty"`
	ProjectName  string `json:"project_name,omitempty"`
	Client       string `json:"client,omitempty"`
}

// DesignChangeRecord is an ingested design change. Records are immutable.
type DesignChangeRecord struct {
	ID           string    `json:"id"`
	ChangeDate   Date      `json:"change_date"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Author       string    `json:"author,omitempty"`
	Organization string    `json:"organization,omitempty"`
	ProjectName  string    `json:"project_name,omitempty"`
	Client       string    `json:"client,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChangeMetadata is a record without its description. Index entries and
// search results carry it next to the rendered content.
type ChangeMetadata struct {
	ID           string    `json:"id"`
	ChangeDate   Date      `json:"change_date"`
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	Organization string    `json:"organization,omitempty"`
	ProjectName  string    `json:"project_name,omitempty"`
	Client       string    `json:"client,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoredChange is one search hit. Lower distance is closer; Similarity is
// the cosine similarity of the same pair and only informs display.
type ScoredChange struct {
	Metadata   ChangeMetadata `json:"metadata"`
	Content    string         `json:"content"`
	Distance   float64        `json:"distance"`
	Similarity float64        `json:"similarity"`
}

// LatestChangeSummary is what polling clients see of the latest change.
type LatestChangeSummary struct {
	ID          string    `json:"id"`
	ChangeDate  Date      `json:"change_date"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Source identifies a record cited by a retrieval result.
type Source struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ChangeDate Date   `json:"change_date"`
}

// Validate reports every missing required field in one validation error.
func (in DesignChangeInput) Validate() error {
	var missing []string
	if in.ChangeDate.IsZero() {
		missing = append(missing, "change_date")
	}
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(in.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fault.New(fault.CodeValidation, "missing required fields: "+strings.Join(missing, ", "),
			fault.Field("fields", missing))
	}
	return nil
}

// Stamp turns a validated input into a record with the given id and time.
func (in DesignChangeInput) Stamp(id string, createdAt time.Time) DesignChangeRecord {
	return DesignChangeRecord{
		ID:           id,
		ChangeDate:   in.ChangeDate,
		Title:        strings.TrimSpace(in.Title),
		Description:  strings.TrimSpace(in.Description),
		Author:       strings.TrimSpace(in.Author),
		Organization: strings.TrimSpace(in.Organization),
		ProjectName:  strings.TrimSpace(in.ProjectName),
		Client:       strings.TrimSpace(in.Client),
		CreatedAt:    createdAt.UTC(),
	}
}

// Metadata drops the description.
func (r DesignChangeRecord) Metadata() ChangeMetadata {
	return ChangeMetadata{
		ID:           r.ID,
		ChangeDate:   r.ChangeDate,
		Title:        r.Title,
		Author:       r.Author,
		Organization: r.Organization,
		ProjectName:  r.ProjectName,
		Client:       r.Client,
		CreatedAt:    r.CreatedAt,
	}
}

func (r DesignChangeRecord) Summary() LatestChangeSummary {
	return LatestChangeSummary{
		ID:          r.ID,
		ChangeDate:  r.ChangeDate,
		Title:       r.Title,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

func (m ChangeMetadata) Source() Source {
	return Source{ID: m.ID, Title: m.Title, ChangeDate: m.ChangeDate}
}

// RenderText builds the text that is embedded and returned as search content:
// an id header, the labelled fields and the description.
func RenderText(r DesignChangeRecord) string {
	var b strings.Builder
	b.WriteString("[설계변경 ID: " + r.ID + "]\n")
	b.WriteString("변경일: " + orUnspecified(r.ChangeDate.String()) + "\n")
	b.WriteString("제목: " + orUnspecified(r.Title) + "\n")
	b.WriteString("기관명: " + orUnspecified(r.Organization) + "\n")
	b.WriteString("사업명: " + orUnspecified(r.ProjectName) + "\n")
	b.WriteString("요청 발주처: " + orUnspecified(r.Client) + "\n")
	b.WriteString("작성자: " + orUnspecified(r.Author) + "\n")
	b.WriteString("내용:\n")
	b.WriteString(strings.TrimSpace(r.Description))
	return b.String()
}

func orUnspecified(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return Unspecified
	}
	return s
}
