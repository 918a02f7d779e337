package secrets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/1Password/connect-sdk-go/onepassword"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVault struct {
	items   map[string]*onepassword.Item
	listErr error
}

func (f *fakeVault) GetItemsByTitle(title, vault string) ([]onepassword.Item, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []onepassword.Item
	for _, item := range f.items {
		if item.Title == title && item.Vault.ID == vault {
			out = append(out, onepassword.Item{ID: item.ID, Title: item.Title})
		}
	}
	return out, nil
}

func (f *fakeVault) GetItem(id, vault string) (*onepassword.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, errors.New("item not found")
	}
	return item, nil
}

func loginItem(fields ...*onepassword.ItemField) *onepassword.Item {
	return &onepassword.Item{
		ID:     "item-1",
		Title:  DefaultItemTitle,
		Vault:  onepassword.ItemVault{ID: "vault-1"},
		Fields: fields,
	}
}

func newTestSource(vault *fakeVault) *OnePassword {
	return &OnePassword{client: vault, vaultID: "vault-1", item: DefaultItemTitle, logger: testLogger()}
}

func TestOnePassword_Login(t *testing.T) {
	vault := &fakeVault{items: map[string]*onepassword.Item{
		"item-1": loginItem(
			&onepassword.ItemField{ID: "username", Label: "username", Purpose: "USERNAME", Value: "analyst"},
			&onepassword.ItemField{ID: "password", Label: "password", Purpose: "PASSWORD", Value: "s3cret"},
			&onepassword.ItemField{ID: "notesPlain", Label: "notesPlain", Purpose: "NOTES", Value: "soc shared login"},
		),
	}}

	req, err := newTestSource(vault).Login(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Username != "analyst" || req.Password != "s3cret" {
		t.Errorf("unexpected login %+v", req)
	}
}

func TestOnePassword_LabelFallback(t *testing.T) {
	vault := &fakeVault{items: map[string]*onepassword.Item{
		"item-1": loginItem(
			&onepassword.ItemField{Label: "Username", Value: "ops"},
			&onepassword.ItemField{Label: "Password", Type: "CONCEALED", Value: "pw"},
		),
	}}

	req, err := newTestSource(vault).Login(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Username != "ops" || req.Password != "pw" {
		t.Errorf("unexpected login %+v", req)
	}
}

func TestOnePassword_Errors(t *testing.T) {
	missing := newTestSource(&fakeVault{items: map[string]*onepassword.Item{}})
	if _, err := missing.Login(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials for missing item, got %v", err)
	}

	noPassword := newTestSource(&fakeVault{items: map[string]*onepassword.Item{
		"item-1": loginItem(&onepassword.ItemField{Purpose: "USERNAME", Value: "analyst"}),
	}})
	if _, err := noPassword.Login(context.Background()); err == nil {
		t.Error("expected error for item without password")
	}

	broken := newTestSource(&fakeVault{listErr: errors.New("connect unavailable")})
	if _, err := broken.Login(context.Background()); err == nil {
		t.Error("expected error when Connect fails")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantNil  bool
		wantErr  bool
	}{
		{"auto static", Config{Username: "analyst", Password: "pw"}, "static", false, false},
		{"auto nothing", Config{}, "", true, false},
		{"auto 1password", Config{OnePasswordHost: "http://op:8080", OnePasswordToken: "t", OnePasswordVaultID: "v"}, "1password", false, false},
		{"explicit none", Config{Backend: "none", Username: "analyst"}, "", true, false},
		{"static without user", Config{Backend: "static"}, "", false, true},
		{"1password incomplete", Config{Backend: "1password", OnePasswordHost: "http://op:8080"}, "", false, true},
		{"unknown", Config{Backend: "vault"}, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := New(tt.cfg, testLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if src != nil {
					t.Errorf("expected no source, got %s", src.Name())
				}
				return
			}
			if src == nil || src.Name() != tt.wantName {
				t.Errorf("expected %s source, got %v", tt.wantName, src)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	req, err := Static{Username: "a", Password: "b"}.Login(context.Background())
	if err != nil || req.Username != "a" || req.Password != "b" {
		t.Errorf("unexpected result %+v, %v", req, err)
	}
	if _, err := (Static{}).Login(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("EDOS_USERNAME", "env-user")
	t.Setenv("EDOS_PASSWORD", "env-pass")
	t.Setenv("OP_ITEM", "")

	cfg := ConfigFromEnv()
	if cfg.Backend != "auto" || cfg.Username != "env-user" || cfg.Password != "env-pass" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.OnePasswordItem != DefaultItemTitle {
		t.Errorf("expected default item title, got %q", cfg.OnePasswordItem)
	}
}
