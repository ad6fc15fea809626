package zenxnet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorParsing(t *testing.T) {
	ctx := context.Background()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": -150, "msg": "you messed up, bruh"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	var errPayload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := Get(ctx, ts.URL, nil, WithErrorParsing(&errPayload)); err == nil {
		t.Fatal("didn't get an http error")
	}
	if errPayload.Code != -150 || errPayload.Msg != "you messed up, bruh" {
		t.Fatal("unexpected error body")
	}
}

func TestPostDecoding(t *testing.T) {
	ctx := context.Background()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Test") != "1" {
			t.Error("request header not attached")
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer ts.Close()

	var resp struct {
		OK bool `json:"ok"`
	}
	err := Post(ctx, ts.URL, &resp, []byte(`{}`), WithRequestHeader("X-Test", "1"))
	if err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if !resp.OK {
		t.Fatal("response not decoded")
	}
}
