package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var gotAuth string
	var gotReq SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(MessageRecord{
			ID: "srv-1", ConversationID: gotReq.ConversationID,
			SenderID: gotReq.SenderID, Content: gotReq.Content, Timestamp: 1000,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123")
	rec, err := c.SendMessage(context.Background(), SendRequest{
		ConversationID: "alice:bob", SenderID: "alice", RecipientID: "bob", Content: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "srv-1" || rec.Content != "hi" {
		t.Errorf("record = %+v", rec)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.RecipientID != "bob" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/alice:bob/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]MessageRecord{
			{ID: "m1", Timestamp: 1000},
			{ID: "m2", Timestamp: 2000},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	msgs, err := c.History(context.Background(), "alice:bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].ID != "m2" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.DeleteMessage(context.Background(), "m1")
	if err == nil {
		t.Fatal("expected error for 500")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Body != "boom" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestMarkReadEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if err := c.MarkRead(context.Background(), []string{"m1", "m2"}); err != nil {
		t.Fatal(err)
	}
}
