package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	require.NoError(t, LoadConfig())

	p := AppConfig.Probe
	assert.Equal(t, "5000", AppConfig.ServerPort)
	assert.Equal(t, 25, p.Port)
	assert.Equal(t, 7*time.Second, p.Timeout)
	assert.Equal(t, 3*time.Second, p.DNSTimeout)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 5*time.Second, p.RetryDelay)
	assert.Equal(t, time.Second, p.CourtesyDelayMin)
	assert.Equal(t, 2500*time.Millisecond, p.CourtesyDelayMax)
	assert.Equal(t, 10, p.Workers)
	assert.Equal(t, []string{"8.8.8.8:53", "1.1.1.1:53"}, p.DNSServers)
	assert.True(t, p.StartTLS)
	assert.False(t, AppConfig.Database.Enabled)
	assert.False(t, AppConfig.Redis.Enabled)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SMTP_SENDERS", "a@probe.test, b@probe.test,,")
	t.Setenv("DNS_SERVERS", "127.0.0.1:5353")
	t.Setenv("SMTP_TIMEOUT", "2")
	t.Setenv("VERIFY_RETRY_DELAY", "250ms")
	t.Setenv("VERIFY_WORKERS", "4")
	t.Setenv("SMTP_STARTTLS", "false")

	require.NoError(t, LoadConfig())

	p := AppConfig.Probe
	assert.Equal(t, []string{"a@probe.test", "b@probe.test"}, p.Senders)
	assert.Equal(t, []string{"127.0.0.1:5353"}, p.DNSServers)
	assert.Equal(t, 2*time.Second, p.Timeout)
	assert.Equal(t, 250*time.Millisecond, p.RetryDelay)
	assert.Equal(t, 4, p.Workers)
	assert.False(t, p.StartTLS)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := map[string][2]string{
		"bad sender":        {"SMTP_SENDERS", "not-an-address"},
		"no workers":        {"VERIFY_WORKERS", "0"},
		"bad nameserver":    {"DNS_SERVERS", "8.8.8.8"},
		"inverted delays":   {"COURTESY_DELAY_MIN", "10s"},
		"db without secret": {"DB_ENABLED", "true"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DB_PASSWORD", "")
			t.Setenv(env[0], env[1])

			assert.Error(t, LoadConfig())
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("MAILPROBE_TEST_EMPTY", "")
	t.Setenv("MAILPROBE_TEST_INT", " 42 ")
	t.Setenv("MAILPROBE_TEST_BAD_INT", "many")
	t.Setenv("MAILPROBE_TEST_SECONDS", "2.5")
	t.Setenv("MAILPROBE_TEST_LIST", " a:53, ,b:53 ")

	assert.Equal(t, "fallback", getEnv("MAILPROBE_TEST_UNSET", "fallback"))
	assert.Equal(t, "", getEnv("MAILPROBE_TEST_EMPTY", "fallback"))
	assert.Equal(t, 42, getEnvAsInt("MAILPROBE_TEST_INT", 7))
	assert.Equal(t, 7, getEnvAsInt("MAILPROBE_TEST_BAD_INT", 7))
	assert.Equal(t, 7, getEnvAsInt("MAILPROBE_TEST_EMPTY", 7))
	assert.Equal(t, 2500*time.Millisecond, getEnvAsDuration("MAILPROBE_TEST_SECONDS", time.Second))
	assert.Equal(t, []string{"a:53", "b:53"}, getEnvAsList("MAILPROBE_TEST_LIST", nil))
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "host=db password=***** dbname=x", maskPassword("host=db password=hunter2 dbname=x"))
	assert.Equal(t, "host=db password=*****", maskPassword("host=db password=hunter2"))
	assert.Equal(t, "host=db", maskPassword("host=db"))
}
