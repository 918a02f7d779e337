package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"

	"github.com/pilot-net/edos-console/pkg/types"
)

// DefaultItemTitle is the login item looked up when none is configured.
const DefaultItemTitle = "edos-console"

// itemReader is the part of connect.Client the source uses.
type itemReader interface {
	GetItemsByTitle(title string, vaultQuery string) ([]onepassword.Item, error)
	GetItem(itemQuery string, vaultQuery string) (*onepassword.Item, error)
}

// OnePasswordConfig holds configuration for 1Password Connect.
type OnePasswordConfig struct {
	Host    string // OP_CONNECT_HOST
	Token   string // OP_CONNECT_TOKEN
	VaultID string // OP_VAULT_ID
	Item    string // OP_ITEM
}

func (c OnePasswordConfig) complete() bool {
	return c.Host != "" && c.Token != "" && c.VaultID != ""
}

// OnePassword reads the login item's USERNAME and PASSWORD fields.
// The item is fetched on every Login so a rotated password is picked up
// on the next sign-in.
type OnePassword struct {
	client  itemReader
	vaultID string
	item    string
	logger  *slog.Logger
}

// NewOnePassword creates a 1Password Connect login source.
func NewOnePassword(cfg OnePasswordConfig, logger *slog.Logger) (*OnePassword, error) {
	if !cfg.complete() {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}
	if cfg.Item == "" {
		cfg.Item = DefaultItemTitle
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "edos-console")

	return &OnePassword{
		client:  client,
		vaultID: cfg.VaultID,
		item:    cfg.Item,
		logger:  logger.With("component", "secrets"),
	}, nil
}

func (op *OnePassword) Name() string { return "1password" }

// Login fetches the login item and extracts its credentials.
func (op *OnePassword) Login(ctx context.Context) (types.LoginRequest, error) {
	items, err := op.client.GetItemsByTitle(op.item, op.vaultID)
	if err != nil {
		return types.LoginRequest{}, fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return types.LoginRequest{}, fmt.Errorf("login item %q: %w", op.item, ErrNoCredentials)
	}

	item, err := op.client.GetItem(items[0].ID, op.vaultID)
	if err != nil {
		return types.LoginRequest{}, fmt.Errorf("getting item: %w", err)
	}

	req := itemToLogin(item)
	if req.Username == "" || req.Password == "" {
		return types.LoginRequest{}, fmt.Errorf("login item %q has no username or password field", op.item)
	}

	op.logger.Debug("loaded login item", "item", op.item, "user", req.Username)
	return req, nil
}

// itemToLogin picks fields by purpose, then by label.
func itemToLogin(item *onepassword.Item) types.LoginRequest {
	var req types.LoginRequest
	for _, field := range item.Fields {
		if field == nil {
			continue
		}
		switch {
		case field.Purpose == "USERNAME":
			req.Username = field.Value
		case field.Purpose == "PASSWORD":
			req.Password = field.Value
		case req.Username == "" && strings.EqualFold(field.Label, "username"):
			req.Username = field.Value
		case req.Password == "" && strings.EqualFold(field.Label, "password"):
			req.Password = field.Value
		}
	}
	return req
}
