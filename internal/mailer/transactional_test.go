package mailer_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dmlifecycle/internal/mailer"
)

func TestReferenceIsDeterministic(t *testing.T) {
	ctx := map[string]any{"framework_slug": "g-cloud-12", "run_id": "R1", "links": []any{"a", "b"}}
	first := mailer.Reference("user@example.com", "tmpl-1", ctx)
	for i := 0; i < 10; i++ {
		if got := mailer.Reference("user@example.com", "tmpl-1", ctx); got != first {
			t.Fatalf("iteration %d: %s != %s", i, got, first)
		}
	}
}

func TestReferenceIgnoresAddressCase(t *testing.T) {
	ctx := map[string]any{"k": "v"}
	if mailer.Reference("User@Example.COM", "t", ctx) != mailer.Reference("user@example.com", "t", ctx) {
		t.Fatal("reference should be case-insensitive on the address")
	}
}

func TestReferenceVariesWithInputs(t *testing.T) {
	base := mailer.Reference("user@example.com", "t", map[string]any{"k": "v"})
	if mailer.Reference("other@example.com", "t", map[string]any{"k": "v"}) == base {
		t.Fatal("recipient should affect the reference")
	}
	if mailer.Reference("user@example.com", "t2", map[string]any{"k": "v"}) == base {
		t.Fatal("template should affect the reference")
	}
	if mailer.Reference("user@example.com", "t", map[string]any{"k": "w"}) == base {
		t.Fatal("context should affect the reference")
	}
}

func TestSendMapsTemplateMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors": [{"error": "BadRequestError", "message": "Missing personalisation: supplier_name"}]}`)
	}))
	defer srv.Close()
	tx := mailer.NewTransactional(srv.URL, "key")
	err := tx.Send(context.Background(), mailer.SendRequest{
		Recipient:  "user@example.com",
		TemplateID: "tmpl-1",
		Reference:  "ref",
	})
	var tmplErr *mailer.TemplateError
	if !errors.As(err, &tmplErr) {
		t.Fatalf("err = %v, want *TemplateError", err)
	}
	if tmplErr.TemplateID != "tmpl-1" {
		t.Fatalf("template id = %s", tmplErr.TemplateID)
	}
}

func TestHasBeenSent(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		want     bool
	}{
		{"no notifications", `{"notifications": []}`, false},
		{"delivered", `{"notifications": [{"status": "delivered"}]}`, true},
		{"still sending", `{"notifications": [{"status": "sending"}]}`, true},
		{"hard failure only", `{"notifications": [{"status": "permanent-failure"}]}`, false},
		{"hard failure then accepted", `{"notifications": [{"status": "permanent-failure"}, {"status": "created"}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("reference"); got != "ref-1" {
					t.Errorf("reference = %q", got)
				}
				fmt.Fprint(w, tt.payload)
			}))
			defer srv.Close()
			tx := mailer.NewTransactional(srv.URL, "key")
			got, err := tx.HasBeenSent(context.Background(), "ref-1")
			if err != nil {
				t.Fatalf("HasBeenSent: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
