// Package vnode implements the kernel's abstract on-disk-file handle: a
// reference-counted object carrying a filesystem-specific operations
// table, used by every layer above a concrete filesystem (the VFS path
// resolver, file descriptors, mmap) so that none of them need to know
// which filesystem a given file lives on.
package vnode

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/os161go/os161go/kerrno"
	"github.com/os161go/os161go/uio"
	"github.com/os161go/os161go/vfs/treelock"
)

// FileType mirrors the handful of file types vop_gettype can report.
type FileType int

const (
	TypeFile FileType = iota
	TypeDir
	TypeBlockDevice
	TypeCharDevice
	TypeSymlink
)

// Stat is the subset of file metadata vop_stat fills in.
type Stat struct {
	Size    int64
	Type    FileType
	NLink   int
	BlkSize int64
}

// FileSystem is the operations a mounted filesystem exposes to the VFS
// layer, independent of any particular vnode (fs.h's FSOP_* table).
// rename/link use == on two vnodes' FileSystem to decide whether they
// live on the same filesystem (kerrno.EXDEV otherwise), so
// implementations should use a pointer receiver - one *MyFS per mount
// - so that comparison reflects identity rather than field equality.
type FileSystem interface {
	// Sync forces all dirty buffers belonging to this filesystem to
	// stable storage.
	Sync() error
	// GetRoot returns (a new reference to) the filesystem's root vnode.
	GetRoot() (*Vnode, error)
	// Unmount detaches the filesystem. Returns kerrno.EBUSY if any
	// vnode belonging to it is still referenced.
	Unmount() error
	// VolumeName returns the filesystem's volume name, if it has one
	// distinct from the device name it is mounted on.
	VolumeName() string
}

// Ops is a filesystem's vnode operations table - the Go equivalent of
// vnode_ops in vnode.h, one method per VOP_*. A concrete filesystem
// embeds NotDirOps or NoSysOps to pick up failing defaults for whichever
// subset of operations it doesn't support, and defines the rest.
type Ops interface {
	EachOpen(v *Vnode, flags int) error
	Reclaim(v *Vnode) error

	Read(v *Vnode, u *uio.Uio) error
	ReadLink(v *Vnode, u *uio.Uio) error
	GetDirEntry(v *Vnode, u *uio.Uio) error
	Write(v *Vnode, u *uio.Uio) error
	Ioctl(v *Vnode, op int, data any) error
	Stat(v *Vnode, st *Stat) error
	GetType(v *Vnode) (FileType, error)
	IsSeekable(v *Vnode) bool
	Fsync(v *Vnode) error
	Mmap(v *Vnode) error
	Truncate(v *Vnode, length int64) error
	NameFile(v *Vnode, u *uio.Uio) error

	Creat(dir *Vnode, name string, excl bool, mode uint32) (*Vnode, error)
	Symlink(dir *Vnode, name, contents string) error
	Mkdir(dir *Vnode, name string, mode uint32) error
	Link(dir *Vnode, name string, file *Vnode) error
	Remove(dir *Vnode, name string) error
	Rmdir(dir *Vnode, name string) error
	Rename(fromDir *Vnode, fromName string, toDir *Vnode, toName string) error

	Lookup(dir *Vnode, path string) (*Vnode, error)
	LookupParent(dir *Vnode, path string) (parent *Vnode, remaining string, err error)
}

// Vnode is one open handle onto a filesystem object: a regular file, a
// directory, a symlink, or a device. Everything above this package
// reaches the underlying filesystem only through Ops.
type Vnode struct {
	countLock sync.Mutex
	refcount  int

	ops  Ops
	fs   FileSystem // nil for device vnodes not backed by a mounted filesystem
	data any        // filesystem-private state (inode number, device, ...)

	// Tree is the intention lock path-walking operations take on this
	// vnode while it is an ancestor, or a target, of the path being
	// resolved; see vfs.Registry's Lookup/LookupParent and the mutating
	// path operations in vfs/path.go for its call sites.
	Tree *treelock.TreeLock

	// seq orders vnodes for lock-acquisition purposes only (see
	// LockPair), the same role cpu.CPU's software id plays for
	// cpu.MigrationPair.
	seq uint64
}

var vnodeSeq atomic.Uint64

// New creates a vnode with an initial refcount of 1, as returned by the
// filesystem operation that created it (mount, lookup, creat, ...).
func New(ops Ops, fs FileSystem, data any) *Vnode {
	return &Vnode{
		ops:      ops,
		refcount: 1,
		fs:       fs,
		data:     data,
		Tree:     treelock.New(),
		seq:      vnodeSeq.Add(1),
	}
}

// LockPair orders two vnodes by creation sequence, regardless of which is
// given first, so an operation that must hold both vnodes' Tree locks at
// once (vfs.Registry.Rename's two directories) always acquires them in the
// same order system-wide - the same order-by-stable-id rule
// cpu.MigrationPair applies to CPUs. If a == b, second is nil:
// callers must not lock the same TreeLock twice.
func LockPair(a, b *Vnode) (first, second *Vnode) {
	if a == b {
		return a, nil
	}
	if a.seq <= b.seq {
		return a, b
	}
	return b, a
}

// FS returns the filesystem this vnode belongs to, or nil for a device
// vnode with no filesystem mounted on it.
func (v *Vnode) FS() FileSystem { return v.fs }

// Data returns the filesystem-private payload passed to New.
func (v *Vnode) Data() any { return v.data }

// IncRef adds a reference. Called whenever a new pointer to the vnode
// is retained (e.g. the lookup path's caller keeping the result).
func (v *Vnode) IncRef() {
	v.countLock.Lock()
	defer v.countLock.Unlock()
	v.refcount++
}

// DecRef drops a reference. Dropping the last one (count 1) does not
// decrement: ownership passes to Reclaim. If Reclaim succeeds the count
// becomes 0, so any later DecRef panics; if it fails (e.g. EBUSY) the
// count stays at 1 and the vnode persists. Reclaim's error is returned so
// a caller that wants to log it can.
func (v *Vnode) DecRef() error {
	v.countLock.Lock()
	destroy := false
	if v.refcount <= 0 {
		panic("vnode: DecRef on vnode with non-positive refcount")
	}
	if v.refcount > 1 {
		v.refcount--
	} else {
		destroy = true
	}
	v.countLock.Unlock()

	if destroy {
		if err := v.ops.Reclaim(v); err != nil {
			return err
		}
		v.countLock.Lock()
		if v.refcount == 1 {
			v.refcount = 0
		}
		v.countLock.Unlock()
	}
	return nil
}

// Refcount reports the current reference count, for diagnostics and
// tests only.
func (v *Vnode) Refcount() int {
	v.countLock.Lock()
	defer v.countLock.Unlock()
	return v.refcount
}

// check mirrors vnode_check: every VOP_* dispatch in the source kernel
// runs this first. In Go a nil/garbage *Vnode is already a nil-pointer
// panic before it gets here, so the only invariant left worth asserting
// at every call is that the refcount hasn't gone non-positive behind
// our back.
func (v *Vnode) check(op string) {
	v.countLock.Lock()
	defer v.countLock.Unlock()
	if v.refcount <= 0 {
		panic("vnode: vop_" + op + ": non-positive refcount " + strconv.Itoa(v.refcount))
	}
}

// The VOP_* dispatch wrappers. Each checks the vnode, then delegates to
// the filesystem's Ops implementation.

func (v *Vnode) EachOpen(flags int) error   { v.check("eachopen"); return v.ops.EachOpen(v, flags) }
func (v *Vnode) Read(u *uio.Uio) error      { v.check("read"); return v.ops.Read(v, u) }
func (v *Vnode) ReadLink(u *uio.Uio) error  { v.check("readlink"); return v.ops.ReadLink(v, u) }
func (v *Vnode) GetDirEntry(u *uio.Uio) error {
	v.check("getdirentry")
	return v.ops.GetDirEntry(v, u)
}
func (v *Vnode) Write(u *uio.Uio) error { v.check("write"); return v.ops.Write(v, u) }
func (v *Vnode) Ioctl(op int, data any) error {
	v.check("ioctl")
	return v.ops.Ioctl(v, op, data)
}
func (v *Vnode) Stat(st *Stat) error { v.check("stat"); return v.ops.Stat(v, st) }
func (v *Vnode) GetType() (FileType, error) {
	v.check("gettype")
	return v.ops.GetType(v)
}
func (v *Vnode) IsSeekable() bool     { v.check("isseekable"); return v.ops.IsSeekable(v) }
func (v *Vnode) Fsync() error         { v.check("fsync"); return v.ops.Fsync(v) }
func (v *Vnode) Mmap() error          { v.check("mmap"); return v.ops.Mmap(v) }
func (v *Vnode) Truncate(len int64) error {
	v.check("truncate")
	return v.ops.Truncate(v, len)
}
func (v *Vnode) NameFile(u *uio.Uio) error { v.check("namefile"); return v.ops.NameFile(v, u) }

func (v *Vnode) Creat(name string, excl bool, mode uint32) (*Vnode, error) {
	v.check("creat")
	return v.ops.Creat(v, name, excl, mode)
}
func (v *Vnode) Symlink(name, contents string) error {
	v.check("symlink")
	return v.ops.Symlink(v, name, contents)
}
func (v *Vnode) Mkdir(name string, mode uint32) error {
	v.check("mkdir")
	return v.ops.Mkdir(v, name, mode)
}
func (v *Vnode) Link(name string, file *Vnode) error {
	v.check("link")
	return v.ops.Link(v, name, file)
}
func (v *Vnode) Remove(name string) error { v.check("remove"); return v.ops.Remove(v, name) }
func (v *Vnode) Rmdir(name string) error  { v.check("rmdir"); return v.ops.Rmdir(v, name) }
func (v *Vnode) Rename(name string, toDir *Vnode, toName string) error {
	v.check("rename")
	return v.ops.Rename(v, name, toDir, toName)
}
func (v *Vnode) Lookup(path string) (*Vnode, error) {
	v.check("lookup")
	return v.ops.Lookup(v, path)
}
func (v *Vnode) LookupParent(path string) (*Vnode, string, error) {
	v.check("lookparent")
	return v.ops.LookupParent(v, path)
}

// IsDirOps fails every operation that only makes sense on a
// non-directory with kerrno.EISDIR - the "this vnode is a directory"
// stub set from vfsfail.c's vopfail_*_isdir family. A directory
// filesystem embeds this and overrides Lookup/LookupParent/Mkdir/
// Creat/Remove/Rmdir/Link/Rename/GetDirEntry.
type IsDirOps struct{}

func (IsDirOps) EachOpen(*Vnode, int) error          { return nil }
func (IsDirOps) Reclaim(*Vnode) error                { return nil }
func (IsDirOps) Read(*Vnode, *uio.Uio) error         { return kerrno.EISDIR }
func (IsDirOps) ReadLink(*Vnode, *uio.Uio) error     { return kerrno.EINVAL }
func (IsDirOps) GetDirEntry(*Vnode, *uio.Uio) error  { return kerrno.ENOSYS }
func (IsDirOps) Write(*Vnode, *uio.Uio) error        { return kerrno.EISDIR }
func (IsDirOps) Ioctl(*Vnode, int, any) error        { return kerrno.ENOSYS }
func (IsDirOps) Stat(*Vnode, *Stat) error             { return kerrno.ENOSYS }
func (IsDirOps) GetType(*Vnode) (FileType, error)     { return TypeDir, nil }
func (IsDirOps) IsSeekable(*Vnode) bool               { return false }
func (IsDirOps) Fsync(*Vnode) error                   { return nil }
func (IsDirOps) Mmap(*Vnode) error                    { return kerrno.EISDIR }
func (IsDirOps) Truncate(*Vnode, int64) error         { return kerrno.EISDIR }
func (IsDirOps) NameFile(*Vnode, *uio.Uio) error      { return kerrno.ENOSYS }
func (IsDirOps) Creat(*Vnode, string, bool, uint32) (*Vnode, error) {
	return nil, kerrno.ENOSYS
}
func (IsDirOps) Symlink(*Vnode, string, string) error { return kerrno.ENOSYS }
func (IsDirOps) Mkdir(*Vnode, string, uint32) error   { return kerrno.ENOSYS }
func (IsDirOps) Link(*Vnode, string, *Vnode) error     { return kerrno.ENOSYS }
func (IsDirOps) Remove(*Vnode, string) error           { return kerrno.ENOSYS }
func (IsDirOps) Rmdir(*Vnode, string) error            { return kerrno.ENOSYS }
func (IsDirOps) Rename(*Vnode, string, *Vnode, string) error {
	return kerrno.ENOSYS
}
func (IsDirOps) Lookup(*Vnode, string) (*Vnode, error) { return nil, kerrno.ENOSYS }
func (IsDirOps) LookupParent(*Vnode, string) (*Vnode, string, error) {
	return nil, "", kerrno.ENOSYS
}

// NotDirOps fails every operation that only makes sense on a directory,
// and every operation that only makes sense on a non-directory, with
// kerrno.ENOTDIR - the "this vnode is a plain file" stub set from
// vfsfail.c's vopfail_*_notdir family. A regular-file filesystem embeds
// this and overrides Read/Write/Truncate/etc.
type NotDirOps struct{}

func (NotDirOps) EachOpen(*Vnode, int) error  { return nil }
func (NotDirOps) Reclaim(*Vnode) error        { return nil }
func (NotDirOps) Read(*Vnode, *uio.Uio) error { return kerrno.ENOTDIR }
func (NotDirOps) ReadLink(*Vnode, *uio.Uio) error {
	return kerrno.ENOTDIR
}
func (NotDirOps) GetDirEntry(*Vnode, *uio.Uio) error { return kerrno.ENOTDIR }
func (NotDirOps) Write(*Vnode, *uio.Uio) error       { return kerrno.ENOTDIR }
func (NotDirOps) Ioctl(*Vnode, int, any) error        { return kerrno.ENOTDIR }
func (NotDirOps) Stat(*Vnode, *Stat) error            { return kerrno.ENOTDIR }
func (NotDirOps) GetType(*Vnode) (FileType, error)    { return 0, kerrno.ENOTDIR }
func (NotDirOps) IsSeekable(*Vnode) bool              { return false }
func (NotDirOps) Fsync(*Vnode) error                  { return kerrno.ENOTDIR }
func (NotDirOps) Mmap(*Vnode) error                   { return kerrno.ENOTDIR }
func (NotDirOps) Truncate(*Vnode, int64) error        { return kerrno.ENOTDIR }
func (NotDirOps) NameFile(*Vnode, *uio.Uio) error      { return kerrno.ENOTDIR }
func (NotDirOps) Creat(*Vnode, string, bool, uint32) (*Vnode, error) {
	return nil, kerrno.ENOTDIR
}
func (NotDirOps) Symlink(*Vnode, string, string) error { return kerrno.ENOTDIR }
func (NotDirOps) Mkdir(*Vnode, string, uint32) error   { return kerrno.ENOTDIR }
func (NotDirOps) Link(*Vnode, string, *Vnode) error    { return kerrno.ENOTDIR }
func (NotDirOps) Remove(*Vnode, string) error          { return kerrno.ENOTDIR }
func (NotDirOps) Rmdir(*Vnode, string) error           { return kerrno.ENOTDIR }
func (NotDirOps) Rename(*Vnode, string, *Vnode, string) error {
	return kerrno.ENOTDIR
}
func (NotDirOps) Lookup(*Vnode, string) (*Vnode, error) { return nil, kerrno.ENOTDIR }
func (NotDirOps) LookupParent(*Vnode, string) (*Vnode, string, error) {
	return nil, "", kerrno.ENOTDIR
}

// NoSysOps fails every operation with kerrno.ENOSYS - the "this
// filesystem/device doesn't implement any of this" stub set, for
// devices like the console that only support a couple of ops.
type NoSysOps struct{}

func (NoSysOps) EachOpen(*Vnode, int) error            { return nil }
func (NoSysOps) Reclaim(*Vnode) error                  { return nil }
func (NoSysOps) Read(*Vnode, *uio.Uio) error           { return kerrno.ENOSYS }
func (NoSysOps) ReadLink(*Vnode, *uio.Uio) error       { return kerrno.ENOSYS }
func (NoSysOps) GetDirEntry(*Vnode, *uio.Uio) error    { return kerrno.ENOSYS }
func (NoSysOps) Write(*Vnode, *uio.Uio) error          { return kerrno.ENOSYS }
func (NoSysOps) Ioctl(*Vnode, int, any) error          { return kerrno.ENOSYS }
func (NoSysOps) Stat(*Vnode, *Stat) error              { return kerrno.ENOSYS }
func (NoSysOps) GetType(*Vnode) (FileType, error)      { return 0, kerrno.ENOSYS }
func (NoSysOps) IsSeekable(*Vnode) bool                { return false }
func (NoSysOps) Fsync(*Vnode) error                    { return kerrno.ENOSYS }
func (NoSysOps) Mmap(*Vnode) error                     { return kerrno.ENOSYS }
func (NoSysOps) Truncate(*Vnode, int64) error          { return kerrno.ENOSYS }
func (NoSysOps) NameFile(*Vnode, *uio.Uio) error       { return kerrno.ENOSYS }
func (NoSysOps) Creat(*Vnode, string, bool, uint32) (*Vnode, error) {
	return nil, kerrno.ENOSYS
}
func (NoSysOps) Symlink(*Vnode, string, string) error { return kerrno.ENOSYS }
func (NoSysOps) Mkdir(*Vnode, string, uint32) error   { return kerrno.ENOSYS }
func (NoSysOps) Link(*Vnode, string, *Vnode) error    { return kerrno.ENOSYS }
func (NoSysOps) Remove(*Vnode, string) error          { return kerrno.ENOSYS }
func (NoSysOps) Rmdir(*Vnode, string) error           { return kerrno.ENOSYS }
func (NoSysOps) Rename(*Vnode, string, *Vnode, string) error {
	return kerrno.ENOSYS
}
func (NoSysOps) Lookup(*Vnode, string) (*Vnode, error) { return nil, kerrno.ENOSYS }
func (NoSysOps) LookupParent(*Vnode, string) (*Vnode, string, error) {
	return nil, "", kerrno.ENOSYS
}
