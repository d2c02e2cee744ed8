package bases

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

func TestAssertRootPrivilege(t *testing.T) {
	err := AssertRootPrivilege()
	if os.Geteuid() == 0 {
		assert.NoError(t, err)
		return
	}
	require.Error(t, err)
	assert.Equal(t, ctrerr.Permission, ctrerr.KindOf(err))
}
