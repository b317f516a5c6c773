package guttering

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfiguration(t *testing.T) {
	c := DefaultConfiguration()
	require.Equal(t, uint32(64), c.Fanout)
	require.Equal(t, uint32(8), c.QueueFactor)
	require.Equal(t, uint64(32*1024), c.GutterBytes)
	require.Equal(t, 32*1024/4, c.LeafCapacity())
}

func TestWithFanoutOutOfRangeRevertsToDefault(t *testing.T) {
	c := DefaultConfiguration().WithFanout(1)
	require.Equal(t, uint32(64), c.Fanout)
}

func TestWithGutterBytesFluent(t *testing.T) {
	c := DefaultConfiguration().WithGutterBytes(1024).WithQueueFactor(16)
	require.Equal(t, uint64(1024), c.GutterBytes)
	require.Equal(t, uint32(16), c.QueueFactor)
}

func TestConfigFromFileParsesKnownKeys(t *testing.T) {
	fs := memfs.New()
	f, err := fs.Create("buffering.conf")
	require.NoError(t, err)
	_, err = f.Write([]byte("# comment\nfanout=128\nqueue_factor=16\nbogus_key=1\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c := ConfigFromFile(fs, "buffering.conf")
	require.Equal(t, uint32(128), c.Fanout)
	require.Equal(t, uint32(16), c.QueueFactor)
}

func TestConfigFromFileMissingFileUsesDefaults(t *testing.T) {
	fs := memfs.New()
	c := ConfigFromFile(fs, "does-not-exist.conf")
	require.Equal(t, DefaultConfiguration().Fanout, c.Fanout)
}

func TestConfigFromFileInvalidValueRevertsToDefault(t *testing.T) {
	fs := memfs.New()
	f, err := fs.Create("buffering.conf")
	require.NoError(t, err)
	_, err = f.Write([]byte("fanout=not-a-number\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c := ConfigFromFile(fs, "buffering.conf")
	require.Equal(t, uint32(64), c.Fanout)
}

func TestNumL1BufsNotPowerOfTwoReverts(t *testing.T) {
	c := &Configuration{NumL1Bufs: 3}
	c.setDefaults()
	c.validateTreeShape()
	require.Equal(t, uint32(2), c.NumL1Bufs)
}
