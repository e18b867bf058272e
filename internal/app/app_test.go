package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gozon/storefront/internal/config"
)

func TestNewRequiresSecrets(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"no stripe key", config.Config{StripeWebhookSecret: "whsec", JWTSecret: "jwt"}, "STRIPE_SECRET_KEY"},
		{"no webhook secret", config.Config{StripeSecretKey: "sk", JWTSecret: "jwt"}, "STRIPE_WEBHOOK_SECRET"},
		{"no jwt secret", config.Config{StripeSecretKey: "sk", StripeWebhookSecret: "whsec"}, "JWT_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(context.Background(), tt.cfg, logger)
			require.Error(t, err)
			assert.Nil(t, a)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
