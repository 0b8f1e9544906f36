package gpio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gsync/pkg/port"
)

// fakeSysfs builds a gpio tree the way the kernel would present it and
// points the backend at it for the duration of the test.
func fakeSysfs(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "export"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "unexport"), nil, 0o644))

	dir := filepath.Join(root, "gpio5")
	require.NoError(t, os.Mkdir(dir, 0o755))
	for attr, value := range map[string]string{
		"direction":  "in",
		"value":      "0",
		"edge":       "none",
		"active_low": "0",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, attr), []byte(value+"\n"), 0o644))
	}

	prev := sysfsRoot
	sysfsRoot = root
	t.Cleanup(func() { sysfsRoot = prev })

	return root
}

func readAttr(t *testing.T, root, attr string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, "gpio5", attr))
	require.NoError(t, err)
	return string(b)
}

func TestNewSysFsRejectsInvalidNumbers(t *testing.T) {
	for _, number := range []int{0, -1, -20} {
		_, err := NewSysFs(number)
		assert.ErrorIs(t, err, ErrInvalidLine, "number %d", number)
	}
}

func TestSysFsDirection(t *testing.T) {
	fakeSysfs(t)

	l, err := NewSysFs(5)
	require.NoError(t, err)

	require.NoError(t, l.SetDirection(port.Out))
	d, err := l.Direction()
	require.NoError(t, err)
	assert.Equal(t, port.Out, d)

	// Setting the same direction twice is idempotent.
	require.NoError(t, l.SetDirection(port.Out))
	d, err = l.Direction()
	require.NoError(t, err)
	assert.Equal(t, port.Out, d)

	require.NoError(t, l.SetDirection(port.In))
	d, err = l.Direction()
	require.NoError(t, err)
	assert.Equal(t, port.In, d)
}

func TestSysFsValue(t *testing.T) {
	root := fakeSysfs(t)

	l, err := NewSysFs(5)
	require.NoError(t, err)

	require.NoError(t, l.SetValue(port.High))
	assert.Equal(t, "1", readAttr(t, root, "value"))

	v, err := l.Value()
	require.NoError(t, err)
	assert.Equal(t, port.High, v)

	require.NoError(t, l.SetValue(port.Low))
	v, err = l.Value()
	require.NoError(t, err)
	assert.Equal(t, port.Low, v)
}

func TestSysFsToggleForcesOutputAndComplements(t *testing.T) {
	root := fakeSysfs(t)

	l, err := NewSysFs(5)
	require.NoError(t, err)

	require.NoError(t, l.Toggle())
	assert.Equal(t, "out", readAttr(t, root, "direction"))
	assert.Equal(t, "1", readAttr(t, root, "value"))

	require.NoError(t, l.Toggle())
	assert.Equal(t, "0", readAttr(t, root, "value"))
}

func TestSysFsEdgeModeForcesInput(t *testing.T) {
	root := fakeSysfs(t)

	l, err := NewSysFs(5)
	require.NoError(t, err)

	// Start as an output; configuring edge detection must flip the
	// line back to an input.
	require.NoError(t, l.SetDirection(port.Out))

	require.NoError(t, l.SetEdgeMode(port.EdgeRising))
	assert.Equal(t, "in", readAttr(t, root, "direction"))
	assert.Equal(t, "rising", readAttr(t, root, "edge"))

	require.NoError(t, l.SetEdgeMode(port.EdgeBoth))
	assert.Equal(t, "both", readAttr(t, root, "edge"))

	require.NoError(t, l.SetEdgeMode(port.EdgeNone))
	assert.Equal(t, "none", readAttr(t, root, "edge"))
}

func TestSysFsActiveLow(t *testing.T) {
	root := fakeSysfs(t)

	l, err := NewSysFs(5)
	require.NoError(t, err)

	require.NoError(t, l.SetActiveLow(true))
	assert.Equal(t, "1", readAttr(t, root, "active_low"))

	require.NoError(t, l.SetActiveLow(false))
	assert.Equal(t, "0", readAttr(t, root, "active_low"))
}

func TestSysFsCloseUnexportsAndStopsWaiters(t *testing.T) {
	root := fakeSysfs(t)

	l, err := NewSysFs(5)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	b, err := os.ReadFile(filepath.Join(root, "unexport"))
	require.NoError(t, err)
	assert.Equal(t, "5", string(b))

	_, err = l.WaitForEdge()
	assert.ErrorIs(t, err, ErrClosed)

	// Closing twice must not unexport twice.
	require.NoError(t, l.Close())
}
