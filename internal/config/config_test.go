package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STUDIO_JWT_SECRET", "s3cret")

	path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "db", "studio.db")+`
auth:
  jwt_secret: ${STUDIO_JWT_SECRET}
  operator_email: " Operator@Example.com "
mail:
  retry_delays: ["1s", "5s"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "operator@example.com", cfg.Auth.OperatorEmail)
	assert.Equal(t, ":3001", cfg.HTTP.Address)
	assert.Equal(t, int64(200000), cfg.Pricing.HourlyRate)
	assert.Equal(t, 5*time.Second, cfg.CalendarTimeout())
	assert.DirExists(t, filepath.Join(dir, "db"))

	delays, err := cfg.Mail.Retries()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, delays)
}

func TestLoad_MissingSecret(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "auth:\n  operator_email: op@example.com\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEquipment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "equipment.yaml", `
equipment:
  - id: 1
    name: CDJ-3000
    type: cdj
    category: player
  - id: 2
    name: DJM-V10
    type: mixer
    category: mixer
    price_per_hour: 25000
`)

	items, err := LoadEquipment(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "CDJ-3000", items[0].Name)
	assert.Equal(t, int64(25000), items[1].PricePerHour)

	items, err = LoadEquipment("")
	require.NoError(t, err)
	assert.Nil(t, items)
}
