package vfs

import (
	"github.com/os161go/os161go/kerrno"
	"github.com/os161go/os161go/uio"
	"github.com/os161go/os161go/vnode"
)

// Open flags, matching the handful of fcntl.h bits the VFS layer
// itself interprets; syscall-level flag parsing belongs to ksyscall.
const (
	ORdOnly = 0x0
	OWrOnly = 0x1
	ORdWr   = 0x2
	OAccMode = 0x3

	OCreat = 0x200
	OExcl  = 0x800
	OTrunc = 0x1000
)

// Open implements the bulk of the open() syscall: resolve path (
// optionally creating it if OCreat is set), then call EachOpen and
// honor OTrunc.
func (r *Registry) Open(path string, flags int, mode uint32, curdir *vnode.Vnode) (*vnode.Vnode, error) {
	var canWrite bool
	switch flags & OAccMode {
	case ORdOnly:
		canWrite = false
	case OWrOnly, ORdWr:
		canWrite = true
	default:
		return nil, kerrno.EINVAL
	}

	var vn *vnode.Vnode
	var err error
	if flags&OCreat != 0 {
		var dir *vnode.Vnode
		var name string
		dir, name, err = r.LookupParent(path, curdir)
		if err != nil {
			return nil, err
		}
		dir.Tree.LockExclusive()
		vn, err = dir.Creat(name, flags&OExcl != 0, mode)
		dir.Tree.UnlockExclusive()
		_ = dir.DecRef()
	} else {
		vn, err = r.Lookup(path, curdir)
	}
	if err != nil {
		return nil, err
	}

	if err := vn.EachOpen(flags); err != nil {
		_ = vn.DecRef()
		return nil, err
	}

	if flags&OTrunc != 0 {
		if !canWrite {
			_ = vn.DecRef()
			return nil, kerrno.EINVAL
		}
		if err := vn.Truncate(0); err != nil {
			_ = vn.DecRef()
			return nil, err
		}
	}

	return vn, nil
}

// Close releases the reference Open returned. Like vfs_close, this
// never fails: a filesystem that can't flush on last close has nowhere
// useful to report that to, and callers (syscall return paths, process
// exit) generally can't act on it anyway.
func (r *Registry) Close(vn *vnode.Vnode) {
	_ = vn.DecRef()
}

// Remove deletes the non-directory object named by path.
func (r *Registry) Remove(path string, curdir *vnode.Vnode) error {
	dir, name, err := r.LookupParent(path, curdir)
	if err != nil {
		return err
	}
	defer dir.DecRef()
	dir.Tree.LockExclusive()
	defer dir.Tree.UnlockExclusive()
	return dir.Remove(name)
}

// Rmdir deletes the empty directory named by path.
func (r *Registry) Rmdir(path string, curdir *vnode.Vnode) error {
	dir, name, err := r.LookupParent(path, curdir)
	if err != nil {
		return err
	}
	defer dir.DecRef()
	dir.Tree.LockExclusive()
	defer dir.Tree.UnlockExclusive()
	return dir.Rmdir(name)
}

// Mkdir creates a directory named by path.
func (r *Registry) Mkdir(path string, mode uint32, curdir *vnode.Vnode) error {
	dir, name, err := r.LookupParent(path, curdir)
	if err != nil {
		return err
	}
	defer dir.DecRef()
	dir.Tree.LockExclusive()
	defer dir.Tree.UnlockExclusive()
	return dir.Mkdir(name, mode)
}

// Symlink creates a symlink at path containing contents.
func (r *Registry) Symlink(contents, path string, curdir *vnode.Vnode) error {
	dir, name, err := r.LookupParent(path, curdir)
	if err != nil {
		return err
	}
	defer dir.DecRef()
	dir.Tree.LockExclusive()
	defer dir.Tree.UnlockExclusive()
	return dir.Symlink(name, contents)
}

// Readlink reads the target of the symlink at path into u.
func (r *Registry) Readlink(path string, u *uio.Uio, curdir *vnode.Vnode) error {
	vn, err := r.Lookup(path, curdir)
	if err != nil {
		return err
	}
	defer vn.DecRef()
	return vn.ReadLink(u)
}

// Rename moves oldPath to newPath. Fails with kerrno.EXDEV if the two
// paths don't resolve to the same filesystem.
//
// oldDir and newDir's Tree locks are taken in LockPair order rather than
// oldDir-then-newDir, so a concurrent rename moving something the other
// way between the same two directories can't deadlock against this one.
func (r *Registry) Rename(oldPath, newPath string, curdir *vnode.Vnode) error {
	oldDir, oldName, err := r.LookupParent(oldPath, curdir)
	if err != nil {
		return err
	}
	newDir, newName, err := r.LookupParent(newPath, curdir)
	if err != nil {
		_ = oldDir.DecRef()
		return err
	}
	defer oldDir.DecRef()
	defer newDir.DecRef()

	if oldDir.FS() == nil || newDir.FS() == nil || oldDir.FS() != newDir.FS() {
		return kerrno.EXDEV
	}

	first, second := vnode.LockPair(oldDir, newDir)
	first.Tree.LockExclusive()
	if second != nil {
		second.Tree.LockExclusive()
	}
	defer func() {
		if second != nil {
			second.Tree.UnlockExclusive()
		}
		first.Tree.UnlockExclusive()
	}()

	return oldDir.Rename(oldName, newDir, newName)
}

// Link creates newPath as a hard link to oldPath. Fails with
// kerrno.EXDEV if the two paths don't resolve to the same filesystem.
func (r *Registry) Link(oldPath, newPath string, curdir *vnode.Vnode) error {
	oldFile, err := r.Lookup(oldPath, curdir)
	if err != nil {
		return err
	}
	newDir, newName, err := r.LookupParent(newPath, curdir)
	if err != nil {
		_ = oldFile.DecRef()
		return err
	}
	defer oldFile.DecRef()
	defer newDir.DecRef()

	if oldFile.FS() == nil || newDir.FS() == nil || oldFile.FS() != newDir.FS() {
		return kerrno.EXDEV
	}
	newDir.Tree.LockExclusive()
	defer newDir.Tree.UnlockExclusive()
	return newDir.Link(newName, oldFile)
}
