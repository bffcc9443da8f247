package legacy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mesh-intelligence/smartnotifier/internal/rules"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

func openStore(t *testing.T) *rules.Store {
	t.Helper()
	b, err := rules.Open(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { b.Detach() })
	return rules.NewStore(b)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestParse(t *testing.T) {
	in := strings.Join([]string{
		"package,sound,enabled,priority,searchText",
		"com.openai.chatgpt,content://bell,true,3,deploy",
		"com.openai.chatgpt,,false,x,Build done",
		"com.openai.chatgpt,content://chime",
		"",
		`com.openai.chatgpt,,maybe,1,"quoted, text"`,
	}, "\n")

	got, err := parse(strings.NewReader(in), "task")
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, types.Rule{ChannelID: "task", Order: 0, Sound: "content://bell", Enabled: true, Priority: 3, SearchText: "deploy"}, got[0])
	assert.Equal(t, types.Rule{ChannelID: "task", Order: 1, Enabled: false, Priority: 0, SearchText: "Build done"}, got[1])
	assert.Equal(t, types.Rule{ChannelID: "task", Order: 2, Sound: "content://chime"}, got[2], "blank search text imports disabled")
	assert.Equal(t, types.Rule{ChannelID: "task", Order: 3, Enabled: true, Priority: 1, SearchText: "quoted, text"}, got[3], "unparseable enabled defaults to true")
}

func TestImport_OneShot(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "data")
	markerDir := t.TempDir()

	writeFile(t, src, "task.csv", "pkg,s1,true,0,alert\npkg,s2,true,0,info\n")
	writeFile(t, src, "chat.csv", "pkg,,false,0,hello\n")
	writeFile(t, src, "notes.txt", "pkg,,true,0,ignored\n")

	res, err := Import(ctx, store, Options{SourceDir: src, MarkerDir: markerDir}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Result{Files: 2, Imported: 3}, res)
	assert.FileExists(t, filepath.Join(markerDir, MarkerFileName))

	task, err := store.GetByChannel(ctx, "task")
	require.NoError(t, err)
	require.Len(t, task, 2)
	assert.Equal(t, "alert", task[0].SearchText)
	assert.Equal(t, "s2", task[1].Sound)
	assert.NotEmpty(t, task[0].ID)

	channels, err := store.Channels(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chat", "task"}, channels)

	writeFile(t, src, "late.csv", "pkg,,true,0,late\n")
	res, err = Import(ctx, store, Options{SourceDir: src, MarkerDir: markerDir}, nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadyDone)
	late, err := store.GetByChannel(ctx, "late")
	require.NoError(t, err)
	assert.Empty(t, late)

	res, err = Import(ctx, store, Options{SourceDir: src, MarkerDir: markerDir, Force: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	task, err = store.GetByChannel(ctx, "task")
	require.NoError(t, err)
	assert.Len(t, task, 2, "re-import replaces rows at the same position")
}

func TestImport_MissingSourceDir(t *testing.T) {
	markerDir := filepath.Join(t.TempDir(), "state")
	res, err := Import(context.Background(), openStore(t), Options{
		SourceDir: filepath.Join(t.TempDir(), "absent"),
		MarkerDir: markerDir,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.FileExists(t, filepath.Join(markerDir, MarkerFileName))
}

func TestImport_SkipsInvalidRows(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	src := t.TempDir()
	writeFile(t, src, "task.csv", "pkg,,true,0,good\npkg,,true,0,\"bad\x1ftext\"\n")

	res, err := Import(context.Background(), openStore(t), Options{SourceDir: src, MarkerDir: t.TempDir()}, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, logs.FilterMessage("skipping legacy row").Len())
}

func TestImport_MalformedFileLeavesNoMarker(t *testing.T) {
	src := t.TempDir()
	markerDir := t.TempDir()
	writeFile(t, src, "task.csv", "pkg,,true,0,\"unterminated\n")

	_, err := Import(context.Background(), openStore(t), Options{SourceDir: src, MarkerDir: markerDir}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStorage)
	assert.NoFileExists(t, filepath.Join(markerDir, MarkerFileName))
}
