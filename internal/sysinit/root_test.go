package sysinit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootflagsFrom_Present(t *testing.T) {
	cmdline := "root=root rootflags=trans=virtio,version=9p2000.L rootfstype=9p ro console=ttyS0 panic=-1"
	assert.Equal(t, "trans=virtio,version=9p2000.L", rootflagsFrom(cmdline))
}

func TestRootflagsFrom_Absent(t *testing.T) {
	assert.Equal(t, "trans=virtio,version=9p2000.L", rootflagsFrom("console=ttyS0 panic=-1"))
}

func TestRootflagsFrom_Empty(t *testing.T) {
	assert.Equal(t, "trans=virtio,version=9p2000.L", rootflagsFrom(""))
}
