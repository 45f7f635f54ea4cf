package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/voice-ledger/internal/capture"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/extraction"
	"github.com/dvloznov/voice-ledger/internal/jobs"
	"github.com/dvloznov/voice-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/voice-ledger/internal/ledger/memory"
	"github.com/dvloznov/voice-ledger/internal/notify"
	"github.com/dvloznov/voice-ledger/internal/review"
	"github.com/dvloznov/voice-ledger/internal/voiceflow"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const rentJSON = `{"type":"expense","amount":1500,"description":"Aluguel","origin_name":"loja centro","destination_name":null,"suggested_category":"aluguel","confidence":0.9}`

type mockModel struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *mockModel) Name() string { return "mock" }

func (m *mockModel) Generate(ctx context.Context, prompt string) (string, error) {
	return m.GenerateFunc(ctx, prompt)
}

func respond(body string) *mockModel {
	return &mockModel{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return body, nil
	}}
}

type mockNotifier struct {
	mu     sync.Mutex
	events []notify.TransactionEvent
}

func (m *mockNotifier) TransactionCommitted(ctx context.Context, ev notify.TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockNotifier) sources() []notify.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Source
	for _, ev := range m.events {
		out = append(out, ev.Source)
	}
	return out
}

type testAPI struct {
	srv      *httptest.Server
	sessions *Sessions
	notifier *mockNotifier
	store    jobs.Store
}

func newTestAPI(t *testing.T, model extraction.Model) *testAPI {
	t.Helper()
	repo := memory.NewSeeded()
	notifier := &mockNotifier{}
	committer := voiceflow.NewCommitter(repo, notifier, zerolog.Nop())
	sessions := NewSessions(voiceflow.Deps{
		Reference: repo,
		Extractor: extraction.NewClient(model, nil, zerolog.Nop()),
		Committer: committer,
		Now:       func() time.Time { return time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC) },
		Location:  time.UTC,
	}, capture.Config{}, time.Minute, zerolog.Nop())
	store := inmemory.NewStore()

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Repo:      repo,
		Committer: committer,
		Sessions:  sessions,
		Jobs:      store,
		Log:       zerolog.Nop(),
	}))
	t.Cleanup(func() {
		srv.Close()
		sessions.Close()
	})
	return &testAPI{srv: srv, sessions: sessions, notifier: notifier, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, body string, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (a *testAPI) createSession(t *testing.T) string {
	t.Helper()
	var created struct {
		ID string `json:"id"`
	}
	if code := a.do(t, http.MethodPost, "/api/voice/sessions", "", &created); code != http.StatusCreated {
		t.Fatalf("create session status = %d", code)
	}
	return created.ID
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))
	var body map[string]interface{}
	if code := api.do(t, http.MethodGet, "/health", "", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", code, body)
	}
}

func TestReference_Lists(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantCount float64
	}{
		{"all entities", "/api/entities", http.StatusOK, 5},
		{"active entities", "/api/entities?active=true", http.StatusOK, 4},
		{"all categories", "/api/categories", http.StatusOK, 7},
		{"income categories", "/api/categories?type=income", http.StatusOK, 4},
		{"expense categories", "/api/categories?type=expense", http.StatusOK, 5},
		{"bad type", "/api/categories?type=transfer", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]interface{}
			code := api.do(t, http.MethodGet, tt.path, "", &body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && body["count"] != tt.wantCount {
				t.Errorf("count = %v, want %v", body["count"], tt.wantCount)
			}
		})
	}
}

const transferBody = `{"type":"expense","amount":100,"description":"repasse","date":"2024-03-15","origin_id":"ent-loja-centro","destination_id":"ent-padaria","category_id":"cat-transferencias"}`

func TestTransactions_ManualEntry(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))

	var tx domain.Transaction
	if code := api.do(t, http.MethodPost, "/api/transactions", transferBody, &tx); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if tx.ID == "" || tx.Amount != 100 || tx.DestinationID != "ent-padaria" {
		t.Errorf("transaction = %+v", tx)
	}
	if got := api.notifier.sources(); len(got) != 1 || got[0] != notify.SourceManual {
		t.Errorf("notified sources = %v, want [manual]", got)
	}

	var balances balancesResponse
	if code := api.do(t, http.MethodGet, "/api/balances", "", &balances); code != http.StatusOK {
		t.Fatalf("balances status = %d", code)
	}
	if len(balances.Balances) != 1 || balances.Balances[0].Amount != 100 {
		t.Errorf("balances = %+v", balances.Balances)
	}
	if v, self := balances.Matrix.Cell("ent-loja-centro", "ent-padaria"); self || v != 100 {
		t.Errorf("matrix cell = %v, %v", v, self)
	}
	if len(balances.Asymmetries) != 0 {
		t.Errorf("asymmetries = %+v", balances.Asymmetries)
	}

	updated := strings.Replace(transferBody, `"amount":100`, `"amount":40`, 1)
	if code := api.do(t, http.MethodPut, "/api/transactions/"+tx.ID, updated, &tx); code != http.StatusOK || tx.Amount != 40 {
		t.Errorf("update = %d %+v", code, tx)
	}
	if code := api.do(t, http.MethodDelete, "/api/transactions/"+tx.ID, "", nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
}

func TestTransactions_Errors(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantKind voiceflow.Kind
	}{
		{"zero amount", http.MethodPost, "/api/transactions", strings.Replace(transferBody, `"amount":100`, `"amount":0`, 1), http.StatusBadRequest, voiceflow.KindInvalidTransaction},
		{"unknown entity", http.MethodPost, "/api/transactions", strings.Replace(transferBody, "ent-padaria", "ent-nope", 1), http.StatusBadRequest, voiceflow.KindInvalidTransaction},
		{"update missing", http.MethodPut, "/api/transactions/missing", transferBody, http.StatusNotFound, voiceflow.KindNotFound},
		{"delete missing", http.MethodDelete, "/api/transactions/missing", "", http.StatusNotFound, voiceflow.KindNotFound},
		{"malformed", http.MethodPost, "/api/transactions", `{"amount":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			if code := api.do(t, tt.method, tt.path, tt.body, &body); code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%+v)", code, tt.wantCode, body)
			}
			if body.Kind != string(tt.wantKind) || body.Error == "" {
				t.Errorf("body = %+v, want kind %q", body, tt.wantKind)
			}
		})
	}
	if got := api.notifier.sources(); len(got) != 0 {
		t.Errorf("failed writes notified: %v", got)
	}
}

func TestVoice_ProcessEditConfirm(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))
	id := api.createSession(t)
	base := "/api/voice/sessions/" + id

	var preview review.Preview
	code := api.do(t, http.MethodPost, base+"/process", `{"text":"paguei 1500 de aluguel da loja centro"}`, &preview)
	if code != http.StatusOK {
		t.Fatalf("process status = %d", code)
	}
	if preview.Form.OriginID != "ent-loja-centro" || preview.Band != review.BandHigh {
		t.Errorf("preview = %+v", preview)
	}

	code = api.do(t, http.MethodPatch, base+"/review", `{"amount":1600,"description":"Aluguel março","date":"2024-03-10"}`, &preview)
	if code != http.StatusOK {
		t.Fatalf("edit status = %d", code)
	}
	if preview.Form.Amount != 1600 || preview.Form.Date.Day != 10 || preview.State != review.StateEditing {
		t.Errorf("edited preview = %+v", preview)
	}

	var tx domain.Transaction
	if code := api.do(t, http.MethodPost, base+"/review/confirm", "", &tx); code != http.StatusCreated {
		t.Fatalf("confirm status = %d", code)
	}
	if tx.Amount != 1600 || tx.Description != "Aluguel março" {
		t.Errorf("committed = %+v", tx)
	}
	if got := api.notifier.sources(); len(got) != 1 || got[0] != notify.SourceVoice {
		t.Errorf("notified sources = %v, want [voice]", got)
	}

	var body errorBody
	if code := api.do(t, http.MethodGet, base+"/review", "", &body); code != http.StatusNotFound || body.Kind != string(voiceflow.KindNoReview) {
		t.Errorf("review after confirm = %d %+v", code, body)
	}
}

func TestVoice_RejectedEditLeavesReviewUnchanged(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))
	base := "/api/voice/sessions/" + api.createSession(t)

	var before review.Preview
	if code := api.do(t, http.MethodPost, base+"/process", `{"text":"paguei 1500 de aluguel da loja centro"}`, &before); code != http.StatusOK {
		t.Fatalf("process status = %d", code)
	}

	var body errorBody
	code := api.do(t, http.MethodPatch, base+"/review", `{"type":"income","category_id":"cat-aluguel"}`, &body)
	if code != http.StatusUnprocessableEntity || body.Kind != string(voiceflow.KindInvalidEdit) {
		t.Fatalf("edit = %d %+v, want 422 invalid_edit", code, body)
	}

	var after review.Preview
	if code := api.do(t, http.MethodGet, base+"/review", "", &after); code != http.StatusOK {
		t.Fatalf("review status = %d", code)
	}
	if after.Form != before.Form {
		t.Errorf("form after rejected edit = %+v, want %+v", after.Form, before.Form)
	}
	if after.State != review.StatePreviewed || len(after.EditedFields) != 0 {
		t.Errorf("state = %q edited = %v, want untouched review", after.State, after.EditedFields)
	}
}

func TestVoice_Errors(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		steps    [][3]string
		wantCode int
		wantKind voiceflow.Kind
	}{
		{
			name:     "no amount",
			model:    `{"type":"expense","amount":0}`,
			steps:    [][3]string{{http.MethodPost, "/process", `{"text":"paguei aluguel"}`}},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: voiceflow.KindExtractionNoAmount,
		},
		{
			name:     "blank text",
			model:    rentJSON,
			steps:    [][3]string{{http.MethodPost, "/process", `{"text":"  "}`}},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: voiceflow.KindEmptyInput,
		},
		{
			name:  "incompatible category",
			model: rentJSON,
			steps: [][3]string{
				{http.MethodPost, "/process", `{"text":"paguei 1500 de aluguel"}`},
				{http.MethodPatch, "/review", `{"category_id":"cat-vendas"}`},
			},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: voiceflow.KindInvalidEdit,
		},
		{
			name:  "confirm blocked",
			model: rentJSON,
			steps: [][3]string{
				{http.MethodPost, "/process", `{"text":"paguei 1500 de aluguel"}`},
				{http.MethodPatch, "/review", `{"amount":0}`},
				{http.MethodPost, "/review/confirm", ""},
			},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: voiceflow.KindValidationBlocked,
		},
		{
			name:  "process over open review",
			model: rentJSON,
			steps: [][3]string{
				{http.MethodPost, "/process", `{"text":"paguei 1500 de aluguel"}`},
				{http.MethodPost, "/process", `{"text":"paguei 1500 de aluguel"}`},
			},
			wantCode: http.StatusConflict,
			wantKind: voiceflow.KindReviewOpen,
		},
		{
			name:     "discard without review",
			model:    rentJSON,
			steps:    [][3]string{{http.MethodPost, "/review/discard", ""}},
			wantCode: http.StatusNotFound,
			wantKind: voiceflow.KindNoReview,
		},
		{
			name:     "rerecord without client",
			model:    rentJSON,
			steps:    [][3]string{{http.MethodPost, "/review/rerecord", ""}},
			wantCode: http.StatusNotImplemented,
			wantKind: voiceflow.KindCaptureUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, respond(tt.model))
			base := "/api/voice/sessions/" + api.createSession(t)

			var code int
			var body errorBody
			for _, step := range tt.steps {
				body = errorBody{}
				code = api.do(t, step[0], base+step[1], step[2], &body)
			}
			if code != tt.wantCode || body.Kind != string(tt.wantKind) {
				t.Errorf("last step = %d %+v, want %d %q", code, body, tt.wantCode, tt.wantKind)
			}
		})
	}
}

func TestVoice_DiscardAndDelete(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))
	id := api.createSession(t)
	base := "/api/voice/sessions/" + id

	if code := api.do(t, http.MethodPost, base+"/process", `{"text":"paguei 1500 de aluguel"}`, nil); code != http.StatusOK {
		t.Fatalf("process status = %d", code)
	}
	var st voiceflow.Status
	if code := api.do(t, http.MethodPost, base+"/review/discard", "", &st); code != http.StatusOK || st.Review != nil {
		t.Errorf("discard = %d %+v", code, st)
	}

	if code := api.do(t, http.MethodDelete, base, "", nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
	if code := api.do(t, http.MethodGet, base, "", nil); code != http.StatusNotFound {
		t.Errorf("get deleted status = %d", code)
	}
	if api.sessions.Len() != 0 {
		t.Errorf("sessions = %d, want 0", api.sessions.Len())
	}
}

func TestJobs(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))
	ctx := context.Background()
	job := &jobs.ArchiveOutputJob{JobID: "job-1", Utterance: "paguei", Status: jobs.StatusCompleted, CreatedAt: time.Now()}
	if err := api.store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	var list struct {
		Count float64 `json:"count"`
	}
	if code := api.do(t, http.MethodGet, "/api/jobs?status=completed&limit=10", "", &list); code != http.StatusOK || list.Count != 1 {
		t.Errorf("list = %d %+v", code, list)
	}

	var got jobs.ArchiveOutputJob
	if code := api.do(t, http.MethodGet, "/api/jobs/job-1", "", &got); code != http.StatusOK || got.Utterance != "paguei" {
		t.Errorf("get = %d %+v", code, got)
	}
	if code := api.do(t, http.MethodGet, "/api/jobs/missing", "", nil); code != http.StatusNotFound {
		t.Errorf("missing job status = %d", code)
	}
}

func dialCapture(t *testing.T, api *testAPI, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/api/voice/sessions/" + id + "/capture"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, typ string) serverMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg serverMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, msg clientMessage) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON(%s) error = %v", msg.Type, err)
	}
}

func event(ev capture.Event) clientMessage {
	return clientMessage{Type: msgEvent, Event: &ev}
}

func TestCapture_WebsocketToPreview(t *testing.T) {
	api := newTestAPI(t, respond(rentJSON))
	id := api.createSession(t)
	ws := dialCapture(t, api, id)

	send(t, ws, clientMessage{Type: msgHello, Supported: true})
	send(t, ws, clientMessage{Type: msgStart})

	cmd := readUntil(t, ws, msgCommand)
	if cmd.Command != capture.CommandStart || cmd.Options == nil || cmd.Options.Language != capture.DefaultLanguage {
		t.Fatalf("command = %+v", cmd)
	}

	send(t, ws, event(capture.Partial("paguei")))
	send(t, ws, event(capture.Final("paguei 1500 de aluguel da loja centro")))
	send(t, ws, event(capture.End()))
	send(t, ws, clientMessage{Type: msgStop})

	msg := readUntil(t, ws, msgPreview)
	if msg.Preview == nil || msg.Preview.Form.Amount != 1500 || msg.Preview.OriginalText != "paguei 1500 de aluguel da loja centro" {
		t.Fatalf("preview = %+v", msg.Preview)
	}

	var st voiceflow.Status
	api.do(t, http.MethodGet, "/api/voice/sessions/"+id, "", &st)
	if st.Review == nil || st.Capture.State != capture.StateIdle {
		t.Errorf("status = %+v", st)
	}

	if code := api.do(t, http.MethodPost, "/api/voice/sessions/"+id+"/review/confirm", "", nil); code != http.StatusCreated {
		t.Fatalf("confirm status = %d", code)
	}
	readUntil(t, ws, msgCommitted)
}

func TestCapture_WebsocketErrors(t *testing.T) {
	tests := []struct {
		name     string
		messages []clientMessage
		wantKind voiceflow.Kind
	}{
		{
			name:     "no recognizer",
			messages: []clientMessage{{Type: msgHello, Supported: false}, {Type: msgStart}},
			wantKind: voiceflow.KindCaptureUnsupported,
		},
		{
			name: "permission denied",
			messages: []clientMessage{
				{Type: msgHello, Supported: true},
				{Type: msgStart},
				event(capture.Failure("not-allowed", "")),
				event(capture.End()),
				{Type: msgStop},
			},
			wantKind: voiceflow.KindCapturePermissionDenied,
		},
		{
			name: "silence",
			messages: []clientMessage{
				{Type: msgHello, Supported: true},
				{Type: msgStart},
				event(capture.End()),
				{Type: msgStop},
			},
			wantKind: voiceflow.KindEmptyInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, respond(rentJSON))
			ws := dialCapture(t, api, api.createSession(t))
			for _, msg := range tt.messages {
				send(t, ws, msg)
			}
			got := readUntil(t, ws, msgError)
			if got.Kind != tt.wantKind || got.Message == "" {
				t.Errorf("error = %+v, want kind %q", got, tt.wantKind)
			}
		})
	}
}

func TestSessions_Registry(t *testing.T) {
	sessions := NewSessions(voiceflow.Deps{}, capture.Config{}, time.Minute, zerolog.Nop())
	defer sessions.Close()

	a := sessions.Create()
	b := sessions.Create()
	if a.ID == b.ID || sessions.Len() != 2 {
		t.Fatalf("ids %q %q, len %d", a.ID, b.ID, sessions.Len())
	}
	if got, ok := sessions.Get(a.ID); !ok || got != a {
		t.Errorf("Get(%q) = %v, %v", a.ID, got, ok)
	}
	if !sessions.Delete(a.ID) || sessions.Delete(a.ID) {
		t.Error("Delete should succeed once")
	}
	if _, ok := sessions.Get(a.ID); ok {
		t.Error("deleted session still found")
	}
	if a.Flow.Capture().Supported() {
		t.Error("capture supported without a client")
	}
}
