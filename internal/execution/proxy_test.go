package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name    string
		request Request
	}{
		{"no files", Request{MainFile: FileEntry{Name: "a.js"}, Language: "javascript"}},
		{"no main file", Request{Files: []FileEntry{{Name: "a.js"}}, Language: "javascript"}},
		{"no language", Request{Files: []FileEntry{{Name: "a.js"}}, MainFile: FileEntry{Name: "a.js"}}},
	}
	for _, testCase := range cases {
		if err := testCase.request.Validate(); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", testCase.name, err)
		}
	}
}

func TestExecutePlacesEntryFileFirst(t *testing.T) {
	var captured upstreamRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode upstream request: %v", err)
		}
		w.Write([]byte(`{"run":{"output":"1\n"}}`))
	}))
	t.Cleanup(upstream.Close)

	proxy, err := NewProxy(Config{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to construct proxy: %v", err)
	}

	_, err = proxy.Execute(context.Background(), Request{
		Files: []FileEntry{
			{Name: "util.js", Value: "x"},
			{Name: "a.js", Value: "console.log(1)"},
			{Name: "z.js", Value: "y"},
		},
		MainFile: FileEntry{Name: "a.js", Value: "console.log(1)"},
		Language: "javascript",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if captured.Version != "*" {
		t.Fatalf("expected wildcard version, got %q", captured.Version)
	}
	if len(captured.Files) != 3 {
		t.Fatalf("expected 3 files after dedupe, got %d", len(captured.Files))
	}
	if captured.Files[0].Name != "a.js" || captured.Files[0].Content != "console.log(1)" {
		t.Fatalf("expected entry file first, got %+v", captured.Files[0])
	}
	for _, file := range captured.Files[1:] {
		if file.Name == "a.js" {
			t.Fatal("entry file must appear only once in the bundle")
		}
	}
}

func TestExecuteRoundTripPreservesNamesAndContent(t *testing.T) {
	files := []FileEntry{
		{Name: "main.py", Value: "print(1)"},
		{Name: "lib/helper.py", Value: "def f():\n    pass\n"},
	}
	bundle := orderedBundle(Request{Files: files, MainFile: files[0], Language: "python"})
	if len(bundle) != len(files) {
		t.Fatalf("expected %d bundle files, got %d", len(files), len(bundle))
	}
	for index, file := range files {
		if bundle[index].Name != file.Name || bundle[index].Content != file.Value {
			t.Fatalf("bundle entry %d lost data: %+v vs %+v", index, bundle[index], file)
		}
	}
}

func TestExecuteReturnsUpstreamBodyVerbatim(t *testing.T) {
	const body = `{"run":{"output":"hello\n","stderr":"","signal":""},"language":"python","version":"3.12.0"}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(upstream.Close)

	proxy, err := NewProxy(Config{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to construct proxy: %v", err)
	}

	raw, err := proxy.Execute(context.Background(), Request{
		Files:    []FileEntry{{Name: "main.py", Value: "print('hello')"}},
		MainFile: FileEntry{Name: "main.py", Value: "print('hello')"},
		Language: "python",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if string(raw) != body {
		t.Fatalf("expected verbatim upstream body, got %s", raw)
	}
}

func TestExecuteWrapsUpstreamErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	proxy, err := NewProxy(Config{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("failed to construct proxy: %v", err)
	}

	request := Request{
		Files:    []FileEntry{{Name: "a.js", Value: "x"}},
		MainFile: FileEntry{Name: "a.js", Value: "x"},
		Language: "javascript",
	}
	if _, err := proxy.Execute(context.Background(), request); !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("expected ErrUpstreamFailure for 500, got %v", err)
	}

	upstream.Close()
	if _, err := proxy.Execute(context.Background(), request); !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("expected ErrUpstreamFailure for unreachable upstream, got %v", err)
	}
}

func TestNewProxyRequiresBaseURL(t *testing.T) {
	if _, err := NewProxy(Config{}); err == nil {
		t.Fatal("expected construction without base url to fail")
	}
}
