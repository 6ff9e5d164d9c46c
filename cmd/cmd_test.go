package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/chaos-io/rembg/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img, err := raster.New(w, h, 3)
	require.NoError(t, err)
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	data, err := raster.Encode(img)
	require.NoError(t, err)
	return data
}

const constantConfig = `
oracle:
  backend: constant
  constant: 1
log:
  level: warn
`

func TestBuildOracle(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Oracle
	cfg.ONNX.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	lazy, b, err := buildOracle(cfg)
	require.NoError(t, err)
	assert.Equal(t, "u2net", b.Name)
	// onnx 后端延迟加载，构建时不读模型
	assert.Equal(t, int64(0), lazy.Loads())
	err = lazy.Ready(context.Background())
	assert.ErrorIs(t, err, oracle.ErrUnavailable)

	cfg = config.Default().Oracle
	cfg.Backend = config.BackendRemote
	cfg.Remote.URL = "http://127.0.0.1:1/segment"
	lazy, _, err = buildOracle(cfg)
	require.NoError(t, err)
	assert.NoError(t, lazy.Close())

	cfg.Remote.URL = ""
	_, _, err = buildOracle(cfg)
	assert.Error(t, err)

	cfg = config.Default().Oracle
	cfg.Backend = config.BackendConstant
	cfg.Constant = 1
	cfg.Binding = "deeplabv3"
	lazy, b, err = buildOracle(cfg)
	require.NoError(t, err)
	assert.Equal(t, 513, b.InputWidth)
	assert.NoError(t, lazy.Ready(context.Background()))

	cfg.Backend = "tpu"
	_, _, err = buildOracle(cfg)
	assert.Error(t, err)

	cfg.Binding = "nope"
	_, _, err = buildOracle(cfg)
	assert.Error(t, err)
}

func TestRemoveCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "rembg.yaml", []byte(constantConfig))
	in := writeFile(t, dir, "cat.png", testPNG(t, 21, 13))

	root := NewRoot(context.Background(), "test")
	root.SetArgs([]string{"remove", "--config", cfgPath, in})
	require.NoError(t, root.Execute())

	out, err := os.ReadFile(filepath.Join(dir, "cat.nobg.png"))
	require.NoError(t, err)
	img, _, err := raster.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, 21, img.Width)
	assert.Equal(t, 13, img.Height)
	_, _, _, a := img.RGBA(0, 0)
	assert.Equal(t, uint8(255), a)
}

func TestRemoveCmd_Flags(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "rembg.yaml", []byte(constantConfig))
	in := writeFile(t, dir, "dog.jpg.png", testPNG(t, 4, 4))
	out := filepath.Join(dir, "result.png")

	root := NewRoot(context.Background(), "test")
	root.SetArgs([]string{"remove", "-c", cfgPath, "--in", in, "--out", out, "--mode", "soft"})
	require.NoError(t, root.Execute())
	_, err := os.Stat(out)
	assert.NoError(t, err)
}

func TestCommandFlagsLeaveConfigIntact(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "cat.png", testPNG(t, 6, 6))

	a := &app{cfg: config.Default()}
	a.cfg.Oracle.Backend = config.BackendConstant
	a.cfg.Oracle.Constant = 1
	want := *a.cfg

	remove := NewRemoveCmd(context.Background(), a)
	remove.SetArgs([]string{"--mode", "soft", "--cutoff", "0.3", "--out", filepath.Join(dir, "out.png"), in})
	require.NoError(t, remove.Execute())

	// serve 在已取消的 ctx 下启动后立即退出
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	serve := NewServeCmd(ctx, a)
	serve.SetArgs([]string{"--addr", "127.0.0.1:0"})
	_ = serve.Execute()

	assert.Equal(t, want.Matte.Mode, a.cfg.Matte.Mode)
	assert.InDelta(t, want.Matte.Cutoff, a.cfg.Matte.Cutoff, 1e-9)
	assert.Equal(t, want.Server.Addr, a.cfg.Server.Addr)
}

func TestRemoveCmd_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "rembg.yaml", []byte(constantConfig))
	garbage := writeFile(t, dir, "garbage.png", []byte("not an image"))

	tests := []struct {
		name string
		args []string
	}{
		{name: "缺少输入", args: []string{"remove", "-c", cfgPath}},
		{name: "标准输入需要输出路径", args: []string{"remove", "-c", cfgPath, "-"}},
		{name: "无法解码", args: []string{"remove", "-c", cfgPath, garbage}},
		{name: "非法模式", args: []string{"remove", "-c", cfgPath, "--mode", "fuzzy", garbage}},
		{name: "配置文件不存在", args: []string{"remove", "-c", filepath.Join(dir, "missing.yaml"), garbage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewRoot(context.Background(), "test")
			root.SetArgs(tt.args)
			assert.Error(t, root.Execute())
		})
	}
}

func TestVersionCmd(t *testing.T) {
	root := NewRoot(context.Background(), "abc123")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "abc123\n", out.String())
}

func TestRootPrintsTree(t *testing.T) {
	root := NewRoot(context.Background(), "abc123")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "serve:")
	assert.Contains(t, out.String(), "remove [input]:")
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/tmp/cat.nobg.png", outputPath("/tmp/cat.jpg"))
	assert.Equal(t, "cat.nobg.png", outputPath("file://cat.webp"))
	assert.Equal(t, "noext.nobg.png", outputPath("noext"))
}
