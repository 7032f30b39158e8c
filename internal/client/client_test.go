package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClickHouseURL(t *testing.T) {
	cases := []struct {
		in     string
		addr   string
		host   string
		secure bool
	}{
		{"localhost:9000", "localhost:9000", "localhost", false},
		{"http://ch.internal", "ch.internal:9000", "ch.internal", false},
		{"https://ch.internal", "ch.internal:9440", "ch.internal", true},
		{"clickhouse://ch:9001", "ch:9001", "ch", false},
		{"https://ch.internal:443", "ch.internal:443", "ch.internal", true},
	}
	for _, tc := range cases {
		ep, err := parseClickHouseURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.addr, ep.addr, tc.in)
		assert.Equal(t, tc.host, ep.host, tc.in)
		assert.Equal(t, tc.secure, ep.secure, tc.in)
	}
}

func TestParseClickHouseURLRejectsMissingHost(t *testing.T) {
	_, err := parseClickHouseURL("https://:9440")
	assert.Error(t, err)
}

func TestClickHouseTLSWithoutCA(t *testing.T) {
	t.Setenv("CLICKHOUSE_CA_FILE", "")
	cfg, err := clickhouseTLS("ch.internal")
	require.NoError(t, err)
	assert.Equal(t, "ch.internal", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)
}

func TestClickHouseTLSMissingCAFile(t *testing.T) {
	t.Setenv("CLICKHOUSE_CA_FILE", t.TempDir()+"/missing.pem")
	_, err := clickhouseTLS("ch.internal")
	assert.Error(t, err)
}
