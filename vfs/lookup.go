package vfs

import (
	"strings"

	"github.com/os161go/os161go/kerrno"
	"github.com/os161go/os161go/vnode"
)

// getDevice implements the device:path / /path / :path / relative-path
// syntax: it strips any device prefix off path and returns (a new
// reference to) the vnode lookup should start from, plus the remaining
// subpath to resolve relative to it.
//
//   - "device:path"  -> root of "device"'s filesystem, subpath "path"
//   - "device:"      -> root of "device"'s filesystem, subpath ""
//   - "/path"        -> root of the boot filesystem, subpath "path"
//   - ":path"        -> root of curdir's own filesystem, subpath "path"
//   - anything else  -> curdir itself, subpath the whole (relative) path
func (r *Registry) getDevice(path string, curdir *vnode.Vnode) (startVn *vnode.Vnode, subpath string, err error) {
	if path == "" {
		return nil, "", kerrno.EINVAL
	}

	colon := strings.IndexByte(path, ':')
	slash := strings.IndexByte(path, '/')

	// No colon before a slash (or no colon at all), and the slash (if
	// any) isn't leading: relative path, or bare filename.
	if (colon < 0 || (slash >= 0 && slash < colon)) && slash != 0 {
		if curdir == nil {
			return nil, "", kerrno.ENOENT
		}
		curdir.IncRef()
		return curdir, path, nil
	}

	if colon > 0 && (slash < 0 || colon < slash) {
		devName, rest := path[:colon], path[colon+1:]
		rest = strings.TrimLeft(rest, "/")
		root, err := r.GetRoot(devName)
		if err != nil {
			return nil, "", err
		}
		return root, rest, nil
	}

	// path[0] is '/' or ':'.
	if path[0] == '/' {
		r.mu.RLock()
		boot := r.bootFS
		r.mu.RUnlock()
		if boot == nil {
			return nil, "", kerrno.ENOENT
		}
		boot.IncRef()
		startVn = boot
	} else {
		if curdir == nil {
			return nil, "", kerrno.ENOENT
		}
		fs := curdir.FS()
		if fs == nil {
			return nil, "", kerrno.ENOTDIR
		}
		root, err := fs.GetRoot()
		if err != nil {
			return nil, "", err
		}
		startVn = root
	}

	rest := strings.TrimLeft(path[1:], "/")
	return startVn, rest, nil
}

// Lookup resolves path to a vnode, starting from curdir for relative
// paths. curdir may be nil if path is guaranteed absolute or
// device-qualified. The caller owns the returned reference.
//
// startVn is held under an IS (intention-shared) tree lock for the
// duration of the walk: Lookup only reads the tree it descends through,
// so neither a concurrent Lookup (IS) nor a concurrent LookupParent (IX)
// on the same startVn is blocked, while an operation taking startVn's X
// lock (a Rename/Remove/Mkdir in that very directory) is.
func (r *Registry) Lookup(path string, curdir *vnode.Vnode) (*vnode.Vnode, error) {
	startVn, subpath, err := r.getDevice(path, curdir)
	if err != nil {
		return nil, err
	}
	if subpath == "" {
		return startVn, nil
	}
	startVn.Tree.LockIntentShared()
	result, err := startVn.Lookup(subpath)
	startVn.Tree.UnlockIntentShared()
	_ = startVn.DecRef()
	return result, err
}

// LookupParent resolves path down to the vnode of its containing
// directory, returning the final path component separately (so the
// caller can create, remove, or rename that entry). It fails with
// kerrno.EINVAL if path names a bare device with nothing after it,
// since "the parent of a device" isn't a meaningful lookup.
//
// startVn is held under an IX (intention-exclusive) tree lock for the
// duration of the walk, since every caller of LookupParent goes on to
// mutate the directory it returns.
func (r *Registry) LookupParent(path string, curdir *vnode.Vnode) (parent *vnode.Vnode, name string, err error) {
	startVn, subpath, err := r.getDevice(path, curdir)
	if err != nil {
		return nil, "", err
	}
	if subpath == "" {
		_ = startVn.DecRef()
		return nil, "", kerrno.EINVAL
	}
	startVn.Tree.LockIntentExclusive()
	parent, name, err = startVn.LookupParent(subpath)
	startVn.Tree.UnlockIntentExclusive()
	_ = startVn.DecRef()
	return parent, name, err
}
