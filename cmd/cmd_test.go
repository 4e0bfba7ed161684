// cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/observability"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/sitescript"
)

const testSiteScript = `
id: demo
name: Demo Store
origins: [shop.example]
url: https://shop.example/checkout
steps:
  - name: details
    fields:
      - selector: "#email"
        value: "{{ .Contact.Email }}"
      - xpath: //select[@id="country"]
        value: "{{ .Shipping.Country }}"
    checkout:
      - selector: "#pay"
`

const testProfiles = `
- key: home
  billing: {first_name: Ada, last_name: Lovelace}
  shipping: {country: GB}
  contact: {email: ada@example.com}
  payment: {card_number: "4111 1111 1111 1111", cvv: "123"}
`

const testPage = `<html><body><form>
<input id="email">
<select id="country"><option value="US">US</option><option value="GB">GB</option></select>
<button id="pay" type="button">Pay</button>
</form></body></html>`

// workspace lays out a config file, a site script directory and a checkout
// page under a temp dir and returns the config path.
func workspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	sites := filepath.Join(dir, "sites")
	require.NoError(t, os.MkdirAll(sites, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sites, "demo.yaml"), []byte(testSiteScript), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profiles.yaml"), []byte(testProfiles), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkout.html"), []byte(testPage), 0o600))

	cfgPath = filepath.Join(dir, "config.yaml")
	cfg := "logger:\n  level: error\n" +
		"autofill:\n  scripts_dir: " + sites + "\n  frame_interval: 2ms\n  field_timeout: 5s\n" +
		"store:\n  driver: file\n  path: " + filepath.Join(dir, "store.json") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return dir, cfgPath
}

// execute runs the command tree with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Version(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "nox version "+Version)

	_, cfgPath := workspace(t)
	out, err = execute(t, "--config", cfgPath, "version")
	require.NoError(t, err)
	assert.Equal(t, "nox "+Version+"\n", out)
}

func TestRootCmd_BadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: floppy\n"), 0o600))

	_, err := execute(t, "--config", cfgPath, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestSitesList(t *testing.T) {
	_, cfgPath := workspace(t)
	out, err := execute(t, "--config", cfgPath, "sites", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "shop.example")
}

func TestProfiles_ImportListShow(t *testing.T) {
	dir, cfgPath := workspace(t)

	out, err := execute(t, "--config", cfgPath, "profiles", "import", filepath.Join(dir, "profiles.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 profiles")

	out, err = execute(t, "--config", cfgPath, "profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada Lovelace")
	assert.Contains(t, out, "****1111")

	out, err = execute(t, "--config", cfgPath, "profiles", "show", "home")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com")
	assert.NotContains(t, out, "4111 1111")
	assert.NotContains(t, out, "123")

	_, err = execute(t, "--config", cfgPath, "profiles", "show", "nobody")
	assert.Error(t, err)
}

func TestRun_FileBacked(t *testing.T) {
	dir, cfgPath := workspace(t)
	_, err := execute(t, "--config", cfgPath, "profiles", "import", filepath.Join(dir, "profiles.yaml"))
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "sites", "configure", "demo", "--profile", "home", "--autocheckout")
	require.NoError(t, err)
	assert.Contains(t, out, "autocheckout=true")

	out, err = execute(t, "--config", cfgPath, "run", "--site", "demo", "--file", filepath.Join(dir, "checkout.html"))
	require.NoError(t, err)

	var report sitescript.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "demo", report.Site)
	assert.Equal(t, "https://shop.example/checkout", report.Origin)
	assert.True(t, report.CheckoutRan)
	require.Len(t, report.Fields, 3)
	assert.Equal(t, "button#pay", report.Fields[2].Element)
}

func TestRun_Refusals(t *testing.T) {
	dir, cfgPath := workspace(t)
	page := filepath.Join(dir, "checkout.html")

	_, err := execute(t, "--config", cfgPath, "run", "--file", page)
	assert.ErrorContains(t, err, "pass --site or --url")

	_, err = execute(t, "--config", cfgPath, "run", "--site", "nope", "--file", page)
	assert.ErrorContains(t, err, "unknown site")

	_, err = execute(t, "--config", cfgPath, "run", "--site", "demo", "--file", page)
	assert.ErrorContains(t, err, "no profile selected")

	_, err = execute(t, "--config", cfgPath, "profiles", "import", filepath.Join(dir, "profiles.yaml"))
	require.NoError(t, err)
	_, err = execute(t, "--config", cfgPath, "sites", "configure", "demo", "--autofill=false")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfgPath, "run", "--site", "demo", "--profile", "home", "--file", page)
	assert.ErrorIs(t, err, sitescript.ErrDisabled)
}
