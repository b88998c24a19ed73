// README: Device token lookup for push delivery.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"

	"ridelink/internal/types"
)

// TokenStore maps a user to the device token their client registered.
type TokenStore interface {
	// Token fails with types.ErrNotFound when the user has no device.
	Token(ctx context.Context, userID types.ID) (string, error)
	SetToken(ctx context.Context, userID types.ID, token string) error
}

// RTDBTokens keeps tokens under /device_tokens/{uid}.
type RTDBTokens struct {
	client *db.Client
	now    func() time.Time
}

func NewRTDBTokens(client *db.Client) *RTDBTokens {
	return &RTDBTokens{client: client, now: time.Now}
}

type rtdbToken struct {
	Token     string `json:"token"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (r *RTDBTokens) Token(ctx context.Context, userID types.ID) (string, error) {
	var entry *rtdbToken
	if err := r.client.NewRef("device_tokens").Child(string(userID)).Get(ctx, &entry); err != nil {
		return "", fmt.Errorf("reading device token for %s: %w", userID, err)
	}
	if entry == nil || entry.Token == "" {
		return "", fmt.Errorf("device token for %s: %w", userID, types.ErrNotFound)
	}
	return entry.Token, nil
}

func (r *RTDBTokens) SetToken(ctx context.Context, userID types.ID, token string) error {
	if token == "" {
		return fmt.Errorf("empty device token: %w", types.ErrInvalidParameter)
	}
	entry := rtdbToken{Token: token, UpdatedAt: r.now().UnixMilli()}
	if err := r.client.NewRef("device_tokens").Child(string(userID)).Set(ctx, entry); err != nil {
		return fmt.Errorf("writing device token for %s: %w", userID, err)
	}
	return nil
}

type MemoryTokens struct {
	mu     sync.Mutex
	tokens map[types.ID]string
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[types.ID]string)}
}

func (m *MemoryTokens) Token(_ context.Context, userID types.ID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[userID]
	if !ok {
		return "", fmt.Errorf("device token for %s: %w", userID, types.ErrNotFound)
	}
	return t, nil
}

func (m *MemoryTokens) SetToken(_ context.Context, userID types.ID, token string) error {
	if token == "" {
		return fmt.Errorf("empty device token: %w", types.ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}
