package pool

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/repertoire/clonotype"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountLog(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "counts.log")

	l, err := OpenCountLog(path)
	assert.NoError(t, err)
	assert.NoError(t, l.Append("alpha", []Count{
		{Kind: clonotype.Clonotype, Raw: 10, Unique: 7},
		{Kind: clonotype.Sequence, Raw: 10, Unique: 9},
		{Kind: clonotype.Clonotype, Raw: 4, Unique: 4},
		{Kind: clonotype.Sequence, Raw: 4, Unique: 4},
	}))
	assert.NoError(t, l.Append("beta", nil))
	assert.NoError(t, l.Close())

	want := "#alpha\n" +
		"CLONOTYPES: 10 7\n" +
		"SEQUENCES: 10 9\n" +
		"CLONOTYPES: 4 4\n" +
		"SEQUENCES: 4 4\n" +
		"#beta\n"
	data, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, want, string(data))

	// Reopening appends after the existing blocks.
	l, err = OpenCountLog(path)
	assert.NoError(t, err)
	assert.NoError(t, l.Append("alpha", []Count{{Kind: clonotype.Clonotype, Raw: 3, Unique: 3}}))
	assert.NoError(t, l.Close())
	data, err = ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, want+"#alpha\nCLONOTYPES: 3 3\n", string(data))
}
