package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aescanero/genflow/pkg/domain"
	"go.uber.org/zap/zaptest"
)

func TestFactory_Executor(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/steps/extract_entities" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entities_list":["Patient"],"entity_count":1}`))
	}))
	defer srv.Close()

	f, err := NewFactory(srv.URL+"/steps/", nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}

	p := &domain.Pipeline{ID: "app_generation"}
	exec, err := f.Executor(p, &domain.StepDefinition{ID: "extract_entities"})
	if err != nil {
		t.Fatalf("Executor failed: %v", err)
	}

	out, err := exec(context.Background(), map[string]any{"analyzed_prd": "x"}, map[string]any{"content": "prd"})
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}

	if got.PipelineID != "app_generation" || got.StepID != "extract_entities" {
		t.Errorf("request = %+v", got)
	}
	if got.Input["analyzed_prd"] != "x" || got.Data["content"] != "prd" {
		t.Errorf("request body = %+v", got)
	}
	if out["entity_count"] != float64(1) {
		t.Errorf("output = %v", out)
	}
}

func TestFactory_ExecutorErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusBadGateway, "upstream down", "502"},
		{"not json", http.StatusOK, "hello", "decode"},
		{"null", http.StatusOK, "null", "no JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f, err := NewFactory(srv.URL, nil, zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("NewFactory failed: %v", err)
			}
			exec, _ := f.Executor(&domain.Pipeline{ID: "p"}, &domain.StepDefinition{ID: "a"})

			_, err = exec(context.Background(), nil, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewFactory_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "http://", "::"} {
		if _, err := NewFactory(u, nil, zaptest.NewLogger(t)); err == nil {
			t.Errorf("NewFactory(%q) should fail", u)
		}
	}
}
