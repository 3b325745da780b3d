package ksyscall

import (
	"testing"

	"github.com/os161go/os161go/kerrno"
	"github.com/os161go/os161go/trap"
	"github.com/os161go/os161go/uio"
	"github.com/os161go/os161go/vfs"
	"github.com/os161go/os161go/vnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFS is a tiny single-directory in-memory filesystem, just enough to
// drive the file-descriptor and pathname syscalls end to end.
type testFS struct {
	root *vnode.Vnode
}

func (f *testFS) Sync() error                   { return nil }
func (f *testFS) GetRoot() (*vnode.Vnode, error) { f.root.IncRef(); return f.root, nil }
func (f *testFS) Unmount() error                 { return nil }
func (f *testFS) VolumeName() string             { return "test" }

type testDir struct {
	vnode.IsDirOps
	fs       *testFS
	children map[string]*vnode.Vnode
}

func (d *testDir) Lookup(v *vnode.Vnode, name string) (*vnode.Vnode, error) {
	child, ok := d.children[name]
	if !ok {
		return nil, kerrno.ENOENT
	}
	child.IncRef()
	return child, nil
}

func (d *testDir) LookupParent(v *vnode.Vnode, name string) (*vnode.Vnode, string, error) {
	v.IncRef()
	return v, name, nil
}

func (d *testDir) Creat(v *vnode.Vnode, name string, excl bool, mode uint32) (*vnode.Vnode, error) {
	if existing, ok := d.children[name]; ok {
		if excl {
			return nil, kerrno.EEXIST
		}
		existing.IncRef()
		return existing, nil
	}
	tf := &testFile{}
	fv := vnode.New(tf, d.fs, tf)
	d.children[name] = fv
	fv.IncRef()
	return fv, nil
}

func (d *testDir) Remove(v *vnode.Vnode, name string) error {
	if _, ok := d.children[name]; !ok {
		return kerrno.ENOENT
	}
	delete(d.children, name)
	return nil
}

type testFile struct {
	vnode.NotDirOps
	contents []byte
}

func (f *testFile) Read(v *vnode.Vnode, u *uio.Uio) error {
	if u.Offset >= int64(len(f.contents)) {
		return nil
	}
	return uio.Move(f.contents[u.Offset:], u)
}

func (f *testFile) Write(v *vnode.Vnode, u *uio.Uio) error {
	need := int(u.Offset) + int(u.Resid)
	if need > len(f.contents) {
		grown := make([]byte, need)
		copy(grown, f.contents)
		f.contents = grown
	}
	return uio.Move(f.contents[u.Offset:need], u)
}

func (f *testFile) GetType(v *vnode.Vnode) (vnode.FileType, error) { return vnode.TypeFile, nil }
func (f *testFile) IsSeekable(v *vnode.Vnode) bool                 { return true }
func (f *testFile) Stat(v *vnode.Vnode, st *vnode.Stat) error {
	st.Size = int64(len(f.contents))
	return nil
}

// flatSpace is a fixed-size simulated user address space for test use.
type flatSpace struct{ mem []byte }

func (s *flatSpace) ReadByte(uaddr uintptr) (byte, error) {
	if int(uaddr) >= len(s.mem) {
		return 0, kerrno.EFAULT
	}
	return s.mem[uaddr], nil
}

func (s *flatSpace) WriteByte(uaddr uintptr, b byte) error {
	if int(uaddr) >= len(s.mem) {
		return kerrno.EFAULT
	}
	s.mem[uaddr] = b
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *vnode.Vnode) {
	t.Helper()
	fs := &testFS{}
	root := &testDir{fs: fs, children: map[string]*vnode.Vnode{}}
	fs.root = vnode.New(root, fs, root)

	reg := vfs.New()
	dev := vnode.New(vnode.NoSysOps{}, nil, nil)
	require.NoError(t, reg.AddDevice("lhd0", dev, true))
	require.NoError(t, reg.Mount("lhd0", func(*vnode.Vnode) (vnode.FileSystem, error) { return fs, nil }))
	require.NoError(t, reg.SetBootFS("lhd0"))

	curdir, err := fs.GetRoot()
	require.NoError(t, err)

	m := &Machine{
		Registry: reg,
		AS:       &flatSpace{mem: make([]byte, 4096)},
		Files:    NewFDTable(),
		Curdir:   func() *vnode.Vnode { return curdir },
	}
	return m, curdir
}

func putString(as ucopyAS, addr int, s string) {
	b := append([]byte(s), 0)
	for i, c := range b {
		_ = as.WriteByte(uintptr(addr+i), c)
	}
}

type ucopyAS interface {
	WriteByte(uintptr, byte) error
}

func TestOpenWriteReadCloseRoundTrip(t *testing.T) {
	m, _ := newTestMachine(t)
	putString(m.AS.(*flatSpace), 0, "/greeting.txt")

	fd, err := sysOpen(m, [4]uint64{0, vfs.OCreat | vfs.OWrOnly, 0644})
	require.NoError(t, err)

	putString(m.AS.(*flatSpace), 100, "hello")
	n, err := sysWrite(m, [4]uint64{fd, 100, 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	_, err = sysClose(m, [4]uint64{fd})
	require.NoError(t, err)

	fd2, err := sysOpen(m, [4]uint64{0, vfs.ORdOnly, 0})
	require.NoError(t, err)

	n, err = sysRead(m, [4]uint64{fd2, 200, 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	got := make([]byte, 5)
	for i := range got {
		b, _ := m.AS.ReadByte(uintptr(200 + i))
		got[i] = b
	}
	assert.Equal(t, "hello", string(got))
}

func TestCloseUnknownFDReturnsEBADF(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := sysClose(m, [4]uint64{999})
	assert.ErrorIs(t, err, kerrno.EBADF)
}

func TestCreateThenRemove(t *testing.T) {
	m, _ := newTestMachine(t)
	putString(m.AS.(*flatSpace), 0, "/f.txt")

	fd, err := sysOpen(m, [4]uint64{0, vfs.OCreat | vfs.OWrOnly, 0644})
	require.NoError(t, err)
	_, _ = sysClose(m, [4]uint64{fd})

	_, err = sysRemove(m, [4]uint64{0})
	assert.NoError(t, err)

	_, err = sysOpen(m, [4]uint64{0, vfs.ORdOnly, 0})
	assert.ErrorIs(t, err, kerrno.ENOENT)
}

func TestSyscallDispatchUnknownNumberReturnsENOSYS(t *testing.T) {
	m, _ := newTestMachine(t)
	tf := &trap.TrapFrame{SyscallNum: 999999}
	m.Syscall(tf)
	assert.ErrorIs(t, tf.RetErr, kerrno.ENOSYS)
}
