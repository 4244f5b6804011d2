package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samvad-hq/archive-probe/pkg/httpclient"
)

type fakeResponse struct {
	statusLine string
}

func (f fakeResponse) StatusLine() string { return f.statusLine }
func (f fakeResponse) StatusCode() int    { return 0 }

// statusLineRequester always answers with a fixed status line.
type statusLineRequester struct {
	statusLine string
	method     string
	path       string
	calls      int
}

func (s *statusLineRequester) Request(_ context.Context, method, path string) (httpclient.Response, error) {
	s.calls++
	s.method, s.path = method, path
	return fakeResponse{statusLine: s.statusLine}, nil
}

// failingRequester always fails.
type failingRequester struct{}

func (failingRequester) Request(context.Context, string, string) (httpclient.Response, error) {
	return nil, errors.New("connection refused")
}

// nilRequester returns neither a response nor an error.
type nilRequester struct{}

func (nilRequester) Request(context.Context, string, string) (httpclient.Response, error) {
	return nil, nil
}

func TestGetStatusFakeClient200OK(t *testing.T) {
	req := &statusLineRequester{statusLine: "200 OK"}

	if got := GetStatus(context.Background(), req); got != Connected {
		t.Fatalf("expected %s, got %s", Connected, got)
	}
	if req.calls != 1 {
		t.Fatalf("expected exactly one request, got %d", req.calls)
	}
	if req.method != "GET" || req.path != "/archive/cemetery/cemetery.htm" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
}

func TestGetStatusFakeClient404NotFound(t *testing.T) {
	req := &statusLineRequester{statusLine: "404 Not Found"}

	if got := GetStatus(context.Background(), req); got != NotFound {
		t.Fatalf("expected %s, got %s", NotFound, got)
	}
}

func TestGetStatusFakeClientFailure(t *testing.T) {
	if got := GetStatus(context.Background(), failingRequester{}); got != Unknown {
		t.Fatalf("expected %s, got %s", Unknown, got)
	}
}

func TestGetStatusNilResponseIsUnknown(t *testing.T) {
	if got := GetStatus(context.Background(), nilRequester{}); got != Unknown {
		t.Fatalf("expected %s, got %s", Unknown, got)
	}
	if got := GetStatus(context.Background(), nil); got != Unknown {
		t.Fatalf("expected %s for nil requester, got %s", Unknown, got)
	}
}

func TestGetStatusOnlyExactNotFoundLiteral(t *testing.T) {
	cases := map[string]Status{
		"200 OK":                    Connected,
		"500 Internal Server Error": Connected,
		"403 Forbidden":             Connected,
		"404 not found":             Connected,
		"404":                       Connected,
		" 404 Not Found":            Connected,
		"":                          Connected,
		"404 Not Found":             NotFound,
	}
	for line, want := range cases {
		got := GetStatus(context.Background(), &statusLineRequester{statusLine: line})
		if got != want {
			t.Fatalf("status line %q: expected %s, got %s", line, want, got)
		}
	}
}

func TestGetStatusIsIdempotent(t *testing.T) {
	for _, req := range []httpclient.Requester{
		&statusLineRequester{statusLine: "200 OK"},
		&statusLineRequester{statusLine: "404 Not Found"},
		failingRequester{},
	} {
		first := GetStatus(context.Background(), req)
		second := GetStatus(context.Background(), req)
		if first != second {
			t.Fatalf("expected repeated calls to agree, got %s then %s", first, second)
		}
	}
}

func TestGetStatusRealClientUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	req, err := httpclient.NewRestyRequester(httpclient.Options{
		BaseURL:        "http://" + addr,
		Timeout:        time.Second,
		ConnectTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRestyRequester: %v", err)
	}

	if got := GetStatus(context.Background(), req); got != Unknown {
		t.Fatalf("expected %s, got %s", Unknown, got)
	}
}

func TestGetStatusRealClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	live := httptest.NewServer(mux)
	defer live.Close()

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	cases := []struct {
		url  string
		want Status
	}{
		{url: live.URL, want: Connected},
		{url: missing.URL, want: NotFound},
	}
	for _, tc := range cases {
		req, err := httpclient.NewRestyRequester(httpclient.Options{BaseURL: tc.url, Timeout: 2 * time.Second})
		if err != nil {
			t.Fatalf("NewRestyRequester: %v", err)
		}
		if got := GetStatus(context.Background(), req); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.url, tc.want, got)
		}
	}
}

func TestStatusTextRoundTrip(t *testing.T) {
	for _, s := range []Status{Unknown, Connected, NotFound} {
		raw, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var back Status
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if back != s {
			t.Fatalf("expected %s after round trip, got %s", s, back)
		}
	}
	if Parse("bogus") != Unknown {
		t.Fatalf("expected unrecognised text to parse as unknown")
	}
	if Status(42).String() != "unknown" {
		t.Fatalf("expected out-of-range status to render as unknown")
	}
}
