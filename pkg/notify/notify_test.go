package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"guardpost/pkg/events"
	"guardpost/pkg/models"
)

type fakeNotifyDB struct {
	execErr  error
	execTag  pgconn.CommandTag
	execSQL  string
	execArgs []any
	querySQL string
	rows     [][]any
}

func (f *fakeNotifyDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	_ = ctx
	f.execSQL = sql
	f.execArgs = append([]any(nil), args...)
	tag := f.execTag
	if tag.String() == "" {
		tag = pgconn.NewCommandTag("INSERT 0 1")
	}
	return tag, f.execErr
}

func (f *fakeNotifyDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	_ = ctx
	_ = args
	f.querySQL = sql
	return &fakeNotifyRows{rows: f.rows}, nil
}

type fakeNotifyRows struct {
	rows [][]any
	idx  int
}

func (r *fakeNotifyRows) Close()                                       {}
func (r *fakeNotifyRows) Err() error                                   { return nil }
func (r *fakeNotifyRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT 1") }
func (r *fakeNotifyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeNotifyRows) RawValues() [][]byte                          { return nil }
func (r *fakeNotifyRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeNotifyRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeNotifyRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	if len(dest) != len(row) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = row[i].(string)
		case *bool:
			*d = row[i].(bool)
		case *time.Time:
			*d = row[i].(time.Time)
		case *json.RawMessage:
			*d = json.RawMessage(row[i].(string))
		default:
			return errors.New("unsupported scan dest")
		}
	}
	return nil
}

func (r *fakeNotifyRows) Values() ([]any, error) {
	return append([]any(nil), r.rows[r.idx-1]...), nil
}

func TestCreateMintsIDAndTimestamp(t *testing.T) {
	db := &fakeNotifyDB{}
	s := &Store{DB: db}
	n, err := s.Create(context.Background(), models.Notification{
		Tenant:    "t1",
		Recipient: "user-1",
		Kind:      events.TypeShiftBooked,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.ID == "" {
		t.Fatal("expected minted id")
	}
	if n.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
	if len(db.execArgs) != 7 {
		t.Fatalf("expected 7 exec args, got %d", len(db.execArgs))
	}
}

func TestCreatePropagatesError(t *testing.T) {
	s := &Store{DB: &fakeNotifyDB{execErr: errors.New("insert failed")}}
	if _, err := s.Create(context.Background(), models.Notification{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestListUnreadFilter(t *testing.T) {
	now := time.Now().UTC()
	db := &fakeNotifyDB{rows: [][]any{
		{"n-1", "t1", "user-1", events.TypeLeadAssigned, `{"lead_id":"l-1"}`, false, now},
	}}
	s := &Store{DB: db}

	got, err := s.List(context.Background(), "t1", "user-1", true, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "n-1" {
		t.Fatalf("unexpected notifications: %+v", got)
	}
	if !strings.Contains(db.querySQL, "read = FALSE") {
		t.Fatalf("unread filter missing from query: %s", db.querySQL)
	}

	if _, err := s.List(context.Background(), "t1", "user-1", false, 0); err != nil {
		t.Fatalf("list all: %v", err)
	}
	if strings.Contains(db.querySQL, "read = FALSE") {
		t.Fatalf("unread filter must be absent: %s", db.querySQL)
	}
}

func TestMarkRead(t *testing.T) {
	db := &fakeNotifyDB{execTag: pgconn.NewCommandTag("UPDATE 2")}
	s := &Store{DB: db}
	n, err := s.MarkRead(context.Background(), "t1", "user-1", []string{"n-1", "n-2"})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 2 {
		t.Fatalf("marked = %d, want 2", n)
	}

	n, err = s.MarkRead(context.Background(), "t1", "user-1", nil)
	if err != nil {
		t.Fatalf("mark read empty: %v", err)
	}
	if n != 0 {
		t.Fatalf("marked = %d, want 0 for empty ids", n)
	}
}

func TestFromEnvelope(t *testing.T) {
	cases := []struct {
		name          string
		eventType     string
		data          string
		wantRecipient string
		wantOK        bool
	}{
		{"lead assigned", events.TypeLeadAssigned, `{"assigned_to":"rep-1"}`, "rep-1", true},
		{"shift booked", events.TypeShiftBooked, `{"guard_id":"g-1"}`, "g-1", true},
		{"application moved", events.TypeApplicationMoved, `{"moved_by":"mgr-1"}`, "mgr-1", true},
		{"no recipient", events.TypeLeadAssigned, `{}`, "", false},
		{"unrelated event", events.TypeLeadCreated, `{"lead_id":"l-1"}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := events.Envelope{
				Type:   tc.eventType,
				Tenant: "t1",
				At:     time.Now().UTC(),
				Data:   json.RawMessage(tc.data),
			}
			n, ok, err := FromEnvelope(env)
			if err != nil {
				t.Fatalf("from envelope: %v", err)
			}
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && (n.Recipient != tc.wantRecipient || n.Kind != tc.eventType) {
				t.Fatalf("unexpected notification: %+v", n)
			}
		})
	}

	if _, _, err := FromEnvelope(events.Envelope{Type: events.TypeLeadAssigned, Data: json.RawMessage(`{bad`)}); err == nil {
		t.Fatal("expected decode error")
	}
}
