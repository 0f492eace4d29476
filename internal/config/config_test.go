// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validConfigJSON = `{
    "private_key": "test-private-key",
    "rpc_list": [
        "https://api.mainnet-beta.solana.com",
        "https://mainnet.helius-rpc.com/?api-key=secret"
    ],
    "platform": "both",
    "buy_amount": 0.01,
    "min_market_cap": 8000,
    "keyword_filter_enabled": true,
    "keywords": ["pepe", "doge"],
    "monitor_interval_ms": 2000,
    "webhook_url": "https://discord.com/api/webhooks/1/abc"
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigJSON))
	require.NoError(t, err)

	assert.Equal(t, "test-private-key", cfg.PrivateKey)
	assert.Len(t, cfg.RPCList, 2)
	assert.Equal(t, PlatformBoth, cfg.Platform)
	assert.Equal(t, 0.01, cfg.BuyAmount)
	assert.Equal(t, []string{"pepe", "doge"}, cfg.Keywords)
	assert.Equal(t, 2*time.Second, cfg.MonitorInterval)

	// Defaults
	assert.Equal(t, DefaultFeedURL, cfg.FeedURL)
	assert.Equal(t, DefaultTradeURL, cfg.TradeURL)
	assert.Equal(t, float64(DefaultSlippage), cfg.Slippage)
	assert.Equal(t, DefaultSeenCapacity, cfg.SeenCapacity)
	assert.Equal(t, 10*time.Second, cfg.PriceTimeout)
	assert.Equal(t, 60*time.Second, cfg.TradeTimeout)
	assert.Equal(t, 5*time.Second, cfg.FirstCheckDelay)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing private key",
			content: `{"rpc_list": ["https://rpc.test"], "buy_amount": 0.1}`,
			wantErr: "private_key is required",
		},
		{
			name:    "empty rpc list",
			content: `{"private_key": "k", "rpc_list": [], "buy_amount": 0.1}`,
			wantErr: "rpc_list must contain at least one RPC endpoint",
		},
		{
			name:    "missing buy amount",
			content: `{"private_key": "k", "rpc_list": ["https://rpc.test"]}`,
			wantErr: "buy_amount must be positive",
		},
		{
			name:    "bad platform",
			content: `{"private_key": "k", "rpc_list": ["https://rpc.test"], "buy_amount": 0.1, "platform": "raydium"}`,
			wantErr: `invalid platform "raydium"`,
		},
		{
			name:    "insecure webhook",
			content: `{"private_key": "k", "rpc_list": ["https://rpc.test"], "buy_amount": 0.1, "webhook_url": "http://hook.test"}`,
			wantErr: "webhook URL must use HTTPS",
		},
		{
			name:    "stop loss above 100",
			content: `{"private_key": "k", "rpc_list": ["https://rpc.test"], "buy_amount": 0.1, "stop_loss": 120}`,
			wantErr: "invalid exit strategy",
		},
		{
			name:    "partial percent of 100",
			content: `{"private_key": "k", "rpc_list": ["https://rpc.test"], "buy_amount": 0.1, "partial_sell_percent": 100}`,
			wantErr: "invalid exit strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SNIPER_PRIVATE_KEY", "env-key")
	t.Setenv("SNIPER_RPC_LIST", "https://a.test, https://b.test")
	t.Setenv("SNIPER_BUY_AMOUNT", "0.25")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.PrivateKey)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.RPCList)
	assert.Equal(t, 0.25, cfg.BuyAmount)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config error")
}

func TestConfig_ExitStrategy(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigJSON))
	require.NoError(t, err)

	sc, err := cfg.ExitStrategy()
	require.NoError(t, err)

	assert.True(t, sc.PartialSellTarget.Equal(decimal.NewFromInt(6)))
	assert.True(t, sc.PartialSellPercent.Equal(decimal.NewFromInt(66)))
	assert.True(t, sc.TrailingStopBase.Equal(decimal.NewFromInt(2)))
	assert.True(t, sc.StopLossFraction.Equal(decimal.RequireFromString("0.5")))
}

func TestConfig_AcceptsPlatform(t *testing.T) {
	cfg := &Config{Platform: PlatformPumpFun}
	assert.True(t, cfg.AcceptsPlatform("pumpfun"))
	assert.False(t, cfg.AcceptsPlatform("letsbonk"))

	cfg.Platform = PlatformBoth
	assert.True(t, cfg.AcceptsPlatform("letsbonk"))
}

func TestMaskedRPC(t *testing.T) {
	assert.Equal(t, "https://mainnet.helius-rpc.com/?***", MaskedRPC("https://mainnet.helius-rpc.com/?api-key=secret"))
	assert.Equal(t, "https://api.mainnet-beta.solana.com", MaskedRPC("https://api.mainnet-beta.solana.com"))
}
