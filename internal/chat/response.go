// Package chat defines the response envelope every routing path produces.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status is the outcome reported to the client.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Source names the component that produced a response.
type Source string

const (
	SourceSQL Source = "sql"
	SourceRAG Source = "rag"
	// SourceClassification is used when the classifier itself failed.
	SourceClassification Source = "classification"
	// SourceInvalid is the out-of-domain verdict. The capitalised form is part of the public contract.
	SourceInvalid Source = "Classification"
	SourceUnknown Source = "unknown"
)

// DefaultSQLQuery is reported when no statement was generated.
const DefaultSQLQuery = "N/A"

// PageRef is the page range a retrieved chunk came from.
type PageRef struct {
	Page      *int `json:"page,omitempty"`
	PageStart *int `json:"page_start,omitempty"`
	PageEnd   *int `json:"page_end,omitempty"`
}

// NewPageRange builds a ranged PageRef.
func NewPageRange(start, end int) PageRef {
	return PageRef{PageStart: &start, PageEnd: &end}
}

// NewPage builds a single-page PageRef.
func NewPage(page int) PageRef {
	return PageRef{Page: &page}
}

// MetaData carries diagnostic details alongside the bot response.
type MetaData struct {
	SQLQuery       string    `json:"sql_query"`
	ContextPages   []PageRef `json:"context_pages"`
	RewrittenQuery string    `json:"rewritten_query"`
	RawError       any       `json:"raw_error"`
}

// NewMetaData returns metadata with the contract defaults applied.
func NewMetaData() MetaData {
	return MetaData{
		SQLQuery:     DefaultSQLQuery,
		ContextPages: []PageRef{},
	}
}

// Response is the single envelope returned for every chat turn.
type Response struct {
	Status      Status      `json:"status"`
	Source      Source      `json:"source"`
	Message     string      `json:"message"`
	BotResponse BotResponse `json:"bot_response"`
	Meta        MetaData    `json:"meta"`
}

// MarshalJSON fills in nil slices so clients never see null context pages.
func (r Response) MarshalJSON() ([]byte, error) {
	type alias Response
	if r.Meta.ContextPages == nil {
		r.Meta.ContextPages = []PageRef{}
	}
	if r.Meta.SQLQuery == "" {
		r.Meta.SQLQuery = DefaultSQLQuery
	}
	return json.Marshal(alias(r))
}

// PayloadKind tags the BotResponse variant.
type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadText
	PayloadTable
)

// BotResponse is one of Text, Table or Empty.
type BotResponse struct {
	kind  PayloadKind
	text  string
	table []Row
}

// Text wraps a prose answer.
func Text(s string) BotResponse {
	return BotResponse{kind: PayloadText, text: s}
}

// Table wraps result rows.
func Table(rows []Row) BotResponse {
	if rows == nil {
		rows = []Row{}
	}
	return BotResponse{kind: PayloadTable, table: rows}
}

// Empty is the absent payload.
func Empty() BotResponse {
	return BotResponse{}
}

// Kind reports which variant is held.
func (b BotResponse) Kind() PayloadKind { return b.kind }

// AsText returns the prose payload and whether it was set.
func (b BotResponse) AsText() (string, bool) {
	return b.text, b.kind == PayloadText
}

// AsTable returns the rows and whether they were set.
func (b BotResponse) AsTable() ([]Row, bool) {
	return b.table, b.kind == PayloadTable
}

// MarshalJSON emits a string, an array of objects, or null.
func (b BotResponse) MarshalJSON() ([]byte, error) {
	switch b.kind {
	case PayloadText:
		return json.Marshal(b.text)
	case PayloadTable:
		return json.Marshal(b.table)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON restores the variant from its wire form.
func (b *BotResponse) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*b = Empty()
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*b = Text(s)
	case trimmed[0] == '[':
		var rows []Row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return err
		}
		*b = Table(rows)
	default:
		return fmt.Errorf("unsupported bot_response payload: %s", string(trimmed))
	}
	return nil
}
