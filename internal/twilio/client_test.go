package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSend(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC123" || pass != "token" {
			t.Errorf("basic auth = %s/%s", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotTo = r.PostForm.Get("To")
		gotFrom = r.PostForm.Get("From")
		gotBody = r.PostForm.Get("Body")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM999","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewClient("AC123", "token", 0)
	c.apiBase = srv.URL

	res, err := c.Send(context.Background(), SendRequest{
		To:   "+27721234567",
		From: "+14155238886",
		Body: "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.SID != "SM999" || res.Status != "queued" {
		t.Errorf("result = %+v", res)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("path = %s", gotPath)
	}
	if gotTo != "whatsapp:+27721234567" || gotFrom != "whatsapp:+14155238886" {
		t.Errorf("addressing = %s <- %s, want whatsapp: prefixes added", gotTo, gotFrom)
	}
	if gotBody != "hello" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestSend_PrefixNotDoubled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("To"); got != "whatsapp:+27721234567" {
			t.Errorf("To = %q", got)
		}
		w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewClient("AC123", "token", 0)
	c.apiBase = srv.URL

	if _, err := c.Send(context.Background(), SendRequest{
		To: "whatsapp:+27721234567", From: "+1", Body: "x",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_Validation(t *testing.T) {
	c := NewClient("AC123", "token", 0)
	for _, req := range []SendRequest{
		{From: "+1", Body: "x"},
		{To: "+1", Body: "x"},
		{To: "+1", From: "+2"},
	} {
		if _, err := c.Send(context.Background(), req); err == nil {
			t.Errorf("Send(%+v) should fail validation", req)
		}
	}
}

func TestSend_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	c := NewClient("AC123", "token", 0)
	c.apiBase = srv.URL

	_, err := c.Send(context.Background(), SendRequest{To: "+bad", From: "+1", Body: "x"})
	if err == nil || !strings.Contains(err.Error(), "21211") {
		t.Errorf("want API error with code, got %v", err)
	}
}
