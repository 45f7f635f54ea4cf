package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/logger"
	"github.com/jomei/notionapi"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var (
	testEntities = []domain.Entity{
		{ID: "ent-loja", Name: "Loja Centro", Active: true},
		{ID: "ent-padaria", Name: "Padaria", Active: true},
	}
	testCategories = []domain.Category{
		{ID: "cat-transferencias", Name: "Transferências", Kind: domain.KindBoth},
	}
)

func testTransaction() domain.Transaction {
	return domain.Transaction{
		ID: "tx-1",
		TransactionFormData: domain.TransactionFormData{
			Type:          domain.TypeExpense,
			Amount:        150.5,
			Description:   "repasse",
			Date:          civil.Date{Year: 2024, Month: 3, Day: 15},
			OriginID:      "ent-loja",
			DestinationID: "ent-padaria",
			CategoryID:    "cat-transferencias",
		},
	}
}

type notifierFunc func(ctx context.Context, ev TransactionEvent) error

func (f notifierFunc) TransactionCommitted(ctx context.Context, ev TransactionEvent) error {
	return f(ctx, ev)
}

type mockNotion struct {
	CreatePageFunc func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error)
	databaseID     string
	props          notionapi.Properties
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
	m.databaseID, m.props = databaseID, props
	if m.CreatePageFunc != nil {
		return m.CreatePageFunc(ctx, databaseID, props)
	}
	return &notionapi.Page{ID: "page-1"}, nil
}

type mockChannel struct {
	PublishFunc func(msg amqp091.Publishing) error
	exchange    string
	key         string
	msg         amqp091.Publishing
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	m.exchange, m.key, m.msg = exchange, key, msg
	if m.PublishFunc != nil {
		return m.PublishFunc(msg)
	}
	return nil
}

func TestNewTransactionEvent_ResolvesNames(t *testing.T) {
	ev := NewTransactionEvent(testTransaction(), SourceVoice, "passei 150 da loja pra padaria", testEntities, testCategories)
	if ev.OriginName != "Loja Centro" || ev.DestinationName != "Padaria" || ev.CategoryName != "Transferências" {
		t.Errorf("names = %q, %q, %q", ev.OriginName, ev.DestinationName, ev.CategoryName)
	}

	tx := testTransaction()
	tx.OriginID, tx.CategoryID = "unknown", ""
	ev = NewTransactionEvent(tx, SourceManual, "", testEntities, testCategories)
	if ev.OriginName != "" || ev.CategoryName != "" {
		t.Errorf("unknown ids resolved to %q, %q", ev.OriginName, ev.CategoryName)
	}
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	var delivered []string
	failure := errors.New("broker unreachable")

	f := NewFanout(logger.NewWithWriter(&buf),
		notifierFunc(func(ctx context.Context, ev TransactionEvent) error {
			delivered = append(delivered, "a")
			return failure
		}),
		nil,
		notifierFunc(func(ctx context.Context, ev TransactionEvent) error {
			delivered = append(delivered, "b")
			return nil
		}),
	)
	if f.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (nil skipped)", f.Len())
	}

	err := f.TransactionCommitted(context.Background(), TransactionEvent{Transaction: testTransaction()})
	if !errors.Is(err, failure) {
		t.Errorf("error = %v, want %v", err, failure)
	}
	if strings.Join(delivered, ",") != "a,b" {
		t.Errorf("delivered = %v, want a,b", delivered)
	}
	if !strings.Contains(buf.String(), "notification failed") {
		t.Errorf("failure not logged: %s", buf.String())
	}

	if err := NewFanout(zerolog.Nop()).TransactionCommitted(context.Background(), TransactionEvent{}); err != nil {
		t.Errorf("empty fanout error = %v", err)
	}
}

func TestTransactionProperties(t *testing.T) {
	ev := NewTransactionEvent(testTransaction(), SourceVoice, "passei 150", testEntities, testCategories)
	props := TransactionProperties(ev)

	title, ok := props["Description"].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "repasse" {
		t.Errorf("Description = %#v", props["Description"])
	}
	if n, ok := props["Amount"].(notionapi.NumberProperty); !ok || n.Number != 150.5 {
		t.Errorf("Amount = %#v", props["Amount"])
	}
	date, ok := props["Date"].(notionapi.DateProperty)
	if !ok || !time.Time(*date.Date.Start).Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %#v", props["Date"])
	}
	for _, key := range []string{"Origin", "Destination", "Category", "Original Text", "Transaction ID", "Source", "Type"} {
		if _, ok := props[key]; !ok {
			t.Errorf("missing property %q", key)
		}
	}

	ev.OriginName, ev.CategoryName, ev.OriginalText = "", "", ""
	props = TransactionProperties(ev)
	for _, key := range []string{"Origin", "Category", "Original Text"} {
		if _, ok := props[key]; ok {
			t.Errorf("empty %q should be omitted", key)
		}
	}
}

func TestNotionMirror(t *testing.T) {
	svc := &mockNotion{}
	m := NewNotionMirror(svc, "db-123")
	if err := m.TransactionCommitted(context.Background(), TransactionEvent{Transaction: testTransaction()}); err != nil {
		t.Fatalf("TransactionCommitted() error = %v", err)
	}
	if svc.databaseID != "db-123" || svc.props == nil {
		t.Errorf("CreatePage called with %q, %v", svc.databaseID, svc.props)
	}

	svc.CreatePageFunc = func(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
		return nil, errors.New("rate limited")
	}
	if err := m.TransactionCommitted(context.Background(), TransactionEvent{}); err == nil {
		t.Error("expected error from Notion")
	}
}

func TestAMQPPublisher_PublishesPersistentJSON(t *testing.T) {
	ch := &mockChannel{}
	p := newAMQPPublisher(ch, "ledger", "transactions")
	fixed := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ev := NewTransactionEvent(testTransaction(), SourceVoice, "passei 150", testEntities, testCategories)
	if err := p.TransactionCommitted(context.Background(), ev); err != nil {
		t.Fatalf("TransactionCommitted() error = %v", err)
	}

	if ch.exchange != "ledger" || ch.key != "transactions" {
		t.Errorf("published to %q/%q", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp091.Persistent || ch.msg.ContentType != "application/json" {
		t.Errorf("publishing = %+v", ch.msg)
	}
	if ch.msg.MessageId != "tx-1" || !ch.msg.Timestamp.Equal(fixed) {
		t.Errorf("message id/timestamp = %q/%v", ch.msg.MessageId, ch.msg.Timestamp)
	}

	var body struct {
		Transaction struct {
			ID     string  `json:"id"`
			Amount float64 `json:"amount"`
		} `json:"transaction"`
		Source     Source `json:"source"`
		OriginName string `json:"origin_name"`
	}
	if err := json.Unmarshal(ch.msg.Body, &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body.Transaction.ID != "tx-1" || body.Transaction.Amount != 150.5 || body.Source != SourceVoice || body.OriginName != "Loja Centro" {
		t.Errorf("body = %+v", body)
	}
}

func TestAMQPPublisher_Error(t *testing.T) {
	ch := &mockChannel{PublishFunc: func(msg amqp091.Publishing) error { return amqp091.ErrClosed }}
	p := newAMQPPublisher(ch, "ledger", "transactions")
	if err := p.TransactionCommitted(context.Background(), TransactionEvent{}); !errors.Is(err, amqp091.ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() without connection error = %v", err)
	}
}
