package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grospace/lease-engine/config"
)

const agreementJSON = `{
	"id": "agr-1",
	"org_id": "org-1",
	"outlet_id": "out-1",
	"document_type": "lease_loi",
	"lease_commencement_date": "2024-10-04",
	"rent_commencement_date": "2024-12-04",
	"lease_expiry_date": "2026-04-01",
	"lock_in_end_date": "2025-04-01",
	"monthly_rent": 53460,
	"cam_monthly": 41580,
	"security_deposit": 784080,
	"escalation_percent": 15,
	"escalation_frequency_years": 3
}`

const extractionJSON = `{
	"lease_term": {
		"lease_commencement_date": "2025-01-01",
		"lease_term_years": 3
	},
	"rent": {"monthly_rent": "1,00,000", "mglr_payment_day": 5}
}`

type cli struct {
	t    *testing.T
	db   string
	dir  string
	conf config.Config
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	cfg, err := config.FromEnv(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	dir := t.TempDir()
	return &cli{t: t, db: filepath.Join(dir, "lease.db"), dir: dir, conf: cfg}
}

func (c *cli) file(name, content string) string {
	c.t.Helper()
	path := filepath.Join(c.dir, name)
	require.NoError(c.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (c *cli) exec(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd(c.conf)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", c.db}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestConfirm_ThenAlreadyConfirmed(t *testing.T) {
	// GIVEN: An agreement file
	c := newCLI(t)
	path := c.file("agreement.json", agreementJSON)

	// WHEN: Confirming it
	out, err := c.exec("confirm", path, "--as-of", "2026-02-22")

	// THEN: Payments and alerts are created
	require.NoError(t, err, out)
	assert.Contains(t, out, "agr-1 confirmed:")
	assert.Contains(t, out, "49 payments")

	// AND: Confirming again is a no-op
	out, err = c.exec("confirm", path, "--as-of", "2026-02-22")
	require.NoError(t, err, out)
	assert.Contains(t, out, "agr-1 already confirmed")
}

func TestRun_AfterConfirm_CreatesNothing(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec("confirm", c.file("agreement.json", agreementJSON), "--as-of", "2026-02-22")
	require.NoError(t, err)

	out, err := c.exec("run", "--as-of", "2026-02-22")
	require.NoError(t, err, out)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "payments created 0 (")
	assert.Contains(t, out, "alerts created 0")
}

func TestPayments_ListsRecords(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec("confirm", c.file("agreement.json", agreementJSON), "--as-of", "2026-02-22")
	require.NoError(t, err)

	out, err := c.exec("payments", "--agreement", "agr-1")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 50, "header plus 49 records")

	out, err = c.exec("payments", "--status", "paid")
	require.NoError(t, err, out)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
}

func TestConfirm_FromExtraction(t *testing.T) {
	c := newCLI(t)
	path := c.file("extraction.json", extractionJSON)

	out, err := c.exec("confirm", path, "--extraction", "--id", "agr-x", "--org", "org-1", "--outlet", "out-9", "--as-of", "2026-02-22")
	require.NoError(t, err, out)
	assert.Contains(t, out, "agr-x confirmed:")
	assert.NotContains(t, out, "unresolved")
}

func TestConfirm_BadAsOf(t *testing.T) {
	c := newCLI(t)

	_, err := c.exec("confirm", c.file("agreement.json", agreementJSON), "--as-of", "22/02/2026")
	assert.Error(t, err)
}

func TestSweepAndAlerts(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec("confirm", c.file("agreement.json", agreementJSON), "--as-of", "2026-02-22")
	require.NoError(t, err)

	out, err := c.exec("sweep", "--as-of", "2026-04-02")
	require.NoError(t, err, out)
	assert.Contains(t, out, "agreements 1")

	out, err = c.exec("alerts", "--as-of", "2026-02-22")
	require.NoError(t, err, out)
	assert.Contains(t, out, "lease_expiry")
}
