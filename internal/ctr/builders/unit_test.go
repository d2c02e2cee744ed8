package builders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

func TestQuoteArgEscapesSpecialChars(t *testing.T) {
	q, err := quoteArg(`it's "quoted" $100 50%`)
	require.NoError(t, err)
	assert.Equal(t, `"it\'s \"quoted\" $$100 50%%"`, q)
}

func TestQuoteArgRejectsBackslash(t *testing.T) {
	_, err := quoteArg(`a\b`)
	require.Error(t, err)
	assert.Equal(t, ctrerr.Validation, ctrerr.KindOf(err))
}

func TestGenerateUnitFileContentRootUser(t *testing.T) {
	app := App{Name: "web", Exec: []string{"/usr/bin/nginx", "-g", "daemon off;"}, User: "root", Group: "root"}
	content, err := generateUnitFileContent("mypod", "v1", app)
	require.NoError(t, err)
	assert.Contains(t, content, "[Unit]\nAfter=pod.target\n\n[Service]\n")
	assert.Contains(t, content, `ExecStart="/usr/bin/nginx" "-g" "daemon off;"`)
	assert.Contains(t, content, "SyslogIdentifier=mypod/web@v1")
	assert.Contains(t, content, `ExecStopPost=/usr/sbin/pod-exit "%n"`)
	assert.Contains(t, content, "LimitNOFILE=65536")
	assert.NotContains(t, content, "sudo")
}

func TestGenerateUnitFileContentNonRootUserUsesSudo(t *testing.T) {
	app := App{Name: "web", Exec: []string{"/usr/bin/nginx"}, User: "www-data", Group: "www-data"}
	content, err := generateUnitFileContent("mypod", "v1", app)
	require.NoError(t, err)
	assert.Contains(t, content, `ExecStart="/usr/bin/sudo" "--user=www-data" "--group=www-data" "/usr/bin/nginx"`)
}

func TestGenerateUnitFileContentWithTypeAndKillMode(t *testing.T) {
	kind := "notify"
	killMode := "mixed"
	app := App{Name: "web", Exec: []string{"/bin/true"}, User: "root", Group: "root", Type: &kind, KillMode: &killMode}
	content, err := generateUnitFileContent("mypod", "v1", app)
	require.NoError(t, err)
	assert.Contains(t, content, "Type=notify\n")
	assert.Contains(t, content, "KillMode=mixed\n")
}

func TestGenerateUnitFileContentLiteralServiceSection(t *testing.T) {
	section := "Type=oneshot\nExecStart=/bin/true"
	app := App{Name: "one", User: "root", Group: "root", ServiceSection: &section}
	content, err := generateUnitFileContent("mypod", "v1", app)
	require.NoError(t, err)
	assert.Equal(t, "[Unit]\nAfter=pod.target\n\n[Service]\nType=oneshot\nExecStart=/bin/true\n", content)
}

func TestGenerateUnitFileWritesUnitAndWantsSymlink(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc/systemd/system/pod.target.wants"), 0o755))

	app := App{Name: "web", Exec: []string{"/bin/true"}, User: "root", Group: "root"}
	require.NoError(t, GenerateUnitFile(root, "mypod", "v1", app))

	_, err := os.Stat(filepath.Join(root, "etc/systemd/system/web.service"))
	require.NoError(t, err)
	target, err := os.Readlink(filepath.Join(root, "etc/systemd/system/pod.target.wants/web.service"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "web.service"), target)

	err = GenerateUnitFile(root, "mypod", "v1", app)
	require.Error(t, err, "generating the same unit twice must fail")
	assert.Equal(t, ctrerr.Conflict, ctrerr.KindOf(err))
}

func TestMachineIDWritesBothFilesWithDistinctModes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/lib/dbus"), 0o755))

	err := GenerateMachineID(root, "deadbeefdeadbeefdeadbeefdeadbeef")
	if err != nil && ctrerr.KindOf(err) == ctrerr.Permission {
		t.Skip("chown requires root privilege in this environment")
	}
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "etc/machine-id"))
	require.NoError(t, err)
	assert.Equal(t, "deadbeefdeadbeefdeadbeefdeadbeef\n", string(data))

	data, err = os.ReadFile(filepath.Join(root, "var/lib/dbus/machine-id"))
	require.NoError(t, err)
	assert.Equal(t, "deadbeefdeadbeefdeadbeefdeadbeef\n", string(data))

	info, err := os.Stat(filepath.Join(root, "etc/machine-id"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())
	info, err = os.Stat(filepath.Join(root, "var/lib/dbus/machine-id"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestExitStatusRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(podAppExitStatusDir(root), 0o755))
	app := App{Name: "web"}

	_, _, ok, err := GetPodAppExitStatus(root, app)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(podAppExitStatusPath(root, app), []byte("137\n"), 0o644))
	code, _, ok, err := GetPodAppExitStatus(root, app)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 137, code)

	require.NoError(t, ClearPodAppExitStatus(root))
	_, _, ok, err = GetPodAppExitStatus(root, app)
	require.NoError(t, err)
	assert.False(t, ok)
}
