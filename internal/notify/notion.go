package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
)

// NotionService is the subset of the Notion API the mirror uses.
type NotionService interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
}

// NotionClient implements NotionService with the Notion SDK.
type NotionClient struct {
	client *notionapi.Client
}

func NewNotionClient(token string) *NotionClient {
	return &NotionClient{client: notionapi.NewClient(notionapi.Token(token))}
}

func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	page, err := n.client.Page.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// NotionMirror adds a page per committed transaction to a Notion database.
type NotionMirror struct {
	service    NotionService
	databaseID string
}

func NewNotionMirror(service NotionService, databaseID string) *NotionMirror {
	return &NotionMirror{service: service, databaseID: databaseID}
}

func (m *NotionMirror) TransactionCommitted(ctx context.Context, ev TransactionEvent) error {
	if _, err := m.service.CreatePage(ctx, m.databaseID, TransactionProperties(ev)); err != nil {
		return fmt.Errorf("NotionMirror: %w", err)
	}
	return nil
}

// TransactionProperties maps an event to the mirror database columns.
// Empty optional values are omitted.
func TransactionProperties(ev TransactionEvent) notionapi.Properties {
	tx := ev.Transaction
	props := notionapi.Properties{
		"Description":    titleProperty(tx.Description),
		"Amount":         notionapi.NumberProperty{Number: tx.Amount},
		"Type":           notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.Type)}},
		"Transaction ID": richTextProperty(tx.ID),
		"Source":         notionapi.SelectProperty{Select: notionapi.Option{Name: string(ev.Source)}},
	}

	date := notionapi.Date(time.Date(tx.Date.Year, tx.Date.Month, tx.Date.Day, 0, 0, 0, 0, time.UTC))
	props["Date"] = notionapi.DateProperty{Date: &notionapi.DateObject{Start: &date}}

	if ev.OriginName != "" {
		props["Origin"] = richTextProperty(ev.OriginName)
	}
	if ev.DestinationName != "" {
		props["Destination"] = richTextProperty(ev.DestinationName)
	}
	if ev.CategoryName != "" {
		props["Category"] = notionapi.SelectProperty{Select: notionapi.Option{Name: ev.CategoryName}}
	}
	if ev.OriginalText != "" {
		props["Original Text"] = richTextProperty(ev.OriginalText)
	}
	return props
}

func titleProperty(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Title: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
		},
	}
}

func richTextProperty(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
		},
	}
}
