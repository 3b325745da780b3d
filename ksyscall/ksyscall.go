// Package ksyscall implements the numbered syscall table trap.Dispatch
// calls into on an ExcSyscall trap, following the call numbers in
// kern/include/kern/syscall.h. Without a process/address-space model,
// calls that fundamentally need one (fork, execv, waitpid, sockets,
// signals, ...) aren't implemented; the table still reserves their
// numbers, returning kerrno.ENOSYS, so the numbering itself stays
// faithful to the source and a future process layer has a place to
// register them. The subset this package does implement - the
// file-descriptor and pathname calls - is exactly what the VFS layer
// (package vfs) and the simulated user address space (package ucopy)
// can actually drive end to end.
package ksyscall

import (
	"sync"

	"github.com/os161go/os161go/kerrno"
	"github.com/os161go/os161go/trap"
	"github.com/os161go/os161go/ucopy"
	"github.com/os161go/os161go/uio"
	"github.com/os161go/os161go/vfs"
	"github.com/os161go/os161go/vnode"
)

// Numbered calls, matching kern/include/kern/syscall.h. The calls this
// package handles are listed by name, plus SysGetDirEntry, which has no
// handler here; it and the rest of the table (fork, execv, sockets, ...)
// get kerrno.ENOSYS back, same as any other unregistered number.
const (
	SysOpen        = 45
	SysClose       = 49
	SysRead        = 50
	SysGetDirEntry = 54
	SysWrite       = 55
	SysLseek       = 59
	SysFsync       = 62
	SysLink        = 67
	SysRemove      = 68
	SysMkdir       = 69
	SysRmdir       = 70
	SysRename      = 72
	SysSymlink     = 77
	SysReadlink    = 78
	SysSync        = 118
)

const maxPathLen = 1024

// openFile is one entry in a FDTable: the vnode it refers to, plus the
// file offset subsequent read/write/lseek calls advance.
type openFile struct {
	mu     sync.Mutex
	vn     *vnode.Vnode
	offset int64
}

// FDTable is a kernel-level file descriptor table. In the source kernel
// this lives inside struct proc; since this port has no process struct,
// callers own an explicit FDTable the same way VFS operations take an
// explicit curdir, instead of a fabricated process type existing just to
// hold one field.
type FDTable struct {
	mu    sync.Mutex
	files map[int]*openFile
	next  int
}

// NewFDTable creates an empty file descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{files: make(map[int]*openFile)}
}

func (t *FDTable) install(vn *vnode.Vnode) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.files[fd] = &openFile{vn: vn}
	return fd
}

func (t *FDTable) get(fd int) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	return f, ok
}

func (t *FDTable) remove(fd int) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	delete(t.files, fd)
	return f, ok
}

// Machine bundles everything a syscall handler needs to actually do
// something: the named-device/path-resolution registry, the simulated
// user address space syscall arguments point into, this caller's open
// file table, and a way to ask what its current directory is (again
// explicit, in place of a process's t_cwd).
type Machine struct {
	Registry *vfs.Registry
	AS       ucopy.AddressSpace
	Files    *FDTable
	Curdir   func() *vnode.Vnode
}

type handlerFunc func(m *Machine, args [4]uint64) (uint64, error)

var table = map[uint64]handlerFunc{
	SysOpen:     sysOpen,
	SysClose:    sysClose,
	SysRead:     sysRead,
	SysWrite:    sysWrite,
	SysLseek:    sysLseek,
	SysFsync:    sysFsync,
	SysLink:     sysLink,
	SysRemove:   sysRemove,
	SysMkdir:    sysMkdir,
	SysRmdir:    sysRmdir,
	SysRename:   sysRename,
	SysSymlink:  sysSymlink,
	SysReadlink: sysReadlink,
	SysSync:     sysSync,
}

// Syscall implements trap.SyscallHandler: it looks up tf.SyscallNum in
// the table and fills in tf.RetVal/tf.RetErr from the handler's result,
// or reports kerrno.ENOSYS for a call number with no handler registered.
func (m *Machine) Syscall(tf *trap.TrapFrame) {
	h, ok := table[tf.SyscallNum]
	if !ok {
		tf.RetErr = kerrno.ENOSYS
		return
	}
	tf.RetVal, tf.RetErr = h(m, tf.Args)
}

func sysOpen(m *Machine, args [4]uint64) (uint64, error) {
	path, err := ucopy.CopyInString(m.AS, uintptr(args[0]), maxPathLen)
	if err != nil {
		return 0, err
	}
	vn, err := m.Registry.Open(path, int(args[1]), uint32(args[2]), m.Curdir())
	if err != nil {
		return 0, err
	}
	return uint64(m.Files.install(vn)), nil
}

func sysClose(m *Machine, args [4]uint64) (uint64, error) {
	f, ok := m.Files.remove(int(args[0]))
	if !ok {
		return 0, kerrno.EBADF
	}
	m.Registry.Close(f.vn)
	return 0, nil
}

func sysRead(m *Machine, args [4]uint64) (uint64, error) {
	f, ok := m.Files.get(int(args[0]))
	if !ok {
		return 0, kerrno.EBADF
	}
	n := int(args[2])
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, n)
	u := uio.KInit(buf, f.offset, uio.Read)
	if err := f.vn.Read(u); err != nil {
		return 0, err
	}
	got := n - int(u.Resid)
	if err := ucopy.CopyOut(m.AS, uintptr(args[1]), buf[:got]); err != nil {
		return 0, err
	}
	f.offset += int64(got)
	return uint64(got), nil
}

func sysWrite(m *Machine, args [4]uint64) (uint64, error) {
	f, ok := m.Files.get(int(args[0]))
	if !ok {
		return 0, kerrno.EBADF
	}
	n := int(args[2])
	buf := make([]byte, n)
	if err := ucopy.CopyIn(m.AS, uintptr(args[1]), buf); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u := uio.KInit(buf, f.offset, uio.Write)
	if err := f.vn.Write(u); err != nil {
		return 0, err
	}
	wrote := n - int(u.Resid)
	f.offset += int64(wrote)
	return uint64(wrote), nil
}

// Whence values for lseek, matching the source's SEEK_SET/CUR/END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

func sysLseek(m *Machine, args [4]uint64) (uint64, error) {
	f, ok := m.Files.get(int(args[0]))
	if !ok {
		return 0, kerrno.EBADF
	}
	if !f.vn.IsSeekable() {
		return 0, kerrno.ESPIPE
	}
	pos := int64(args[1])
	f.mu.Lock()
	defer f.mu.Unlock()
	switch int(args[2]) {
	case SeekSet:
		f.offset = pos
	case SeekCur:
		f.offset += pos
	case SeekEnd:
		var st vnode.Stat
		if err := f.vn.Stat(&st); err != nil {
			return 0, err
		}
		f.offset = st.Size + pos
	default:
		return 0, kerrno.EINVAL
	}
	if f.offset < 0 {
		return 0, kerrno.EINVAL
	}
	return uint64(f.offset), nil
}

func sysFsync(m *Machine, args [4]uint64) (uint64, error) {
	f, ok := m.Files.get(int(args[0]))
	if !ok {
		return 0, kerrno.EBADF
	}
	return 0, f.vn.Fsync()
}

func copyInPath(m *Machine, uaddr uint64) (string, error) {
	return ucopy.CopyInString(m.AS, uintptr(uaddr), maxPathLen)
}

func sysRemove(m *Machine, args [4]uint64) (uint64, error) {
	path, err := copyInPath(m, args[0])
	if err != nil {
		return 0, err
	}
	return 0, m.Registry.Remove(path, m.Curdir())
}

func sysMkdir(m *Machine, args [4]uint64) (uint64, error) {
	path, err := copyInPath(m, args[0])
	if err != nil {
		return 0, err
	}
	return 0, m.Registry.Mkdir(path, uint32(args[1]), m.Curdir())
}

func sysRmdir(m *Machine, args [4]uint64) (uint64, error) {
	path, err := copyInPath(m, args[0])
	if err != nil {
		return 0, err
	}
	return 0, m.Registry.Rmdir(path, m.Curdir())
}

func sysRename(m *Machine, args [4]uint64) (uint64, error) {
	oldPath, err := copyInPath(m, args[0])
	if err != nil {
		return 0, err
	}
	newPath, err := copyInPath(m, args[1])
	if err != nil {
		return 0, err
	}
	return 0, m.Registry.Rename(oldPath, newPath, m.Curdir())
}

func sysLink(m *Machine, args [4]uint64) (uint64, error) {
	oldPath, err := copyInPath(m, args[0])
	if err != nil {
		return 0, err
	}
	newPath, err := copyInPath(m, args[1])
	if err != nil {
		return 0, err
	}
	return 0, m.Registry.Link(oldPath, newPath, m.Curdir())
}

func sysSymlink(m *Machine, args [4]uint64) (uint64, error) {
	contents, err := copyInPath(m, args[0])
	if err != nil {
		return 0, err
	}
	path, err := copyInPath(m, args[1])
	if err != nil {
		return 0, err
	}
	return 0, m.Registry.Symlink(contents, path, m.Curdir())
}

func sysReadlink(m *Machine, args [4]uint64) (uint64, error) {
	path, err := copyInPath(m, args[0])
	if err != nil {
		return 0, err
	}
	buf := make([]byte, int(args[2]))
	u := uio.KInit(buf, 0, uio.Read)
	if err := m.Registry.Readlink(path, u, m.Curdir()); err != nil {
		return 0, err
	}
	got := len(buf) - int(u.Resid)
	if err := ucopy.CopyOut(m.AS, uintptr(args[1]), buf[:got]); err != nil {
		return 0, err
	}
	return uint64(got), nil
}

func sysSync(m *Machine, args [4]uint64) (uint64, error) {
	return 0, m.Registry.Sync()
}
