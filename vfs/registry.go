// Package vfs implements the virtual filesystem layer: a table of named
// devices and mounted filesystems, plus the device:path / :path / /path
// / relative path-resolution syntax that routes a pathname to the right
// filesystem and vnode.
//
// The source kernel keeps one global vfs_biglock around every operation
// here and makes "current directory" an implicit per-thread field
// (t_cwd). This port drops the process/address-space model entirely
// (see the thread package), so there is no per-thread home for a
// current directory to live in; callers pass it explicitly instead,
// the same way every sleep primitive in this module takes an explicit
// *thread.Thread rather than reading a goroutine-local curthread.
package vfs

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/os161go/os161go/kerrno"
	"github.com/os161go/os161go/vnode"
)

// swapFS is a sentinel value marking a device as in use for swapping,
// the same trick the source kernel plays with its SWAP_FS pointer.
var swapFS vnode.FileSystem = swapFSMarker{}

type swapFSMarker struct{}

func (swapFSMarker) Sync() error                   { return kerrno.ENOSYS }
func (swapFSMarker) GetRoot() (*vnode.Vnode, error) { return nil, kerrno.ENOSYS }
func (swapFSMarker) Unmount() error                 { return kerrno.ENOSYS }
func (swapFSMarker) VolumeName() string             { return "" }

// knownDevice is one entry in the named-device table (vfslist.c's
// struct knowndev): a device accessible as "name:", optionally
// mountable under "name" once its raw form is also registered as
// "rawname:", with a filesystem attached once mounted.
type knownDevice struct {
	name    string
	rawName string // "" if not mountable
	device  *vnode.Vnode
	fs      vnode.FileSystem
}

// Registry is the VFS layer's named-device table plus the bootfs
// vnode used to resolve absolute paths.
type Registry struct {
	mu      sync.RWMutex
	devices []*knownDevice
	bootFS  *vnode.Vnode
}

// New creates an empty registry, equivalent to vfs_bootstrap's
// allocation of the knowndevs array (device registration itself is
// left to callers, unlike vfs_bootstrap which also registers devnull
// and an in-memory filesystem - this port has no built-in devices).
func New() *Registry {
	return &Registry{}
}

func (r *Registry) find(name string) *knownDevice {
	for _, d := range r.devices {
		if d.name == name || d.rawName == name {
			return d
		}
	}
	return nil
}

// AddDevice registers a device vnode. If mountable is false the device
// is reachable only as "name:". If mountable is true it is reachable
// unmounted as "nameraw:", and "name:" resolves to whatever filesystem
// is later mounted on it via Mount.
func (r *Registry) AddDevice(name string, dev *vnode.Vnode, mountable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(name) != nil {
		return kerrno.EEXIST
	}

	kd := &knownDevice{name: name, device: dev}
	if mountable {
		kd.rawName = name + "raw"
		if r.find(kd.rawName) != nil {
			return kerrno.EEXIST
		}
	}
	r.devices = append(r.devices, kd)
	return nil
}

// AddFS registers a hardwired filesystem (one with no backing block
// device, such as an in-memory or synthetic filesystem) directly under
// "name:", with no mount/unmount step required.
func (r *Registry) AddFS(name string, fs vnode.FileSystem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(name) != nil {
		return kerrno.EEXIST
	}
	r.devices = append(r.devices, &knownDevice{name: name, fs: fs})
	return nil
}

// MountFunc builds a filesystem instance on top of a raw device vnode,
// the callback vfs_mount hands the device to.
type MountFunc func(dev *vnode.Vnode) (vnode.FileSystem, error)

// Mount looks up the named mountable device and attaches a filesystem
// built by mountFunc. Returns kerrno.ENODEV if the device doesn't
// exist or isn't mountable, kerrno.EBUSY if something is already
// mounted on it.
func (r *Registry) Mount(devName string, mountFunc MountFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kd := r.find(devName)
	if kd == nil || kd.rawName == "" || kd.name != devName {
		return kerrno.ENODEV
	}
	if kd.fs != nil {
		return kerrno.EBUSY
	}

	fs, err := mountFunc(kd.device)
	if err != nil {
		return err
	}
	kd.fs = fs
	return nil
}

// Unmount detaches the filesystem mounted on devName. Returns
// kerrno.EBUSY if the filesystem itself reports it is still in use.
func (r *Registry) Unmount(devName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kd := r.find(devName)
	if kd == nil || kd.rawName == "" {
		return kerrno.ENODEV
	}
	if kd.fs == nil {
		return kerrno.ENODEV
	}
	if kd.fs == swapFS {
		kd.fs = nil
		return nil
	}
	if err := kd.fs.Unmount(); err != nil {
		return err
	}
	kd.fs = nil
	return nil
}

// UnmountAllResult reports, per device, whether unmounting it failed.
// This is an intentional departure from vfs_unmountall's
// silently-continue-and-kprintf behavior: see DESIGN.md.
type UnmountAllResult struct {
	Failed map[string]error
}

func (u *UnmountAllResult) Error() string {
	if len(u.Failed) == 0 {
		return ""
	}
	parts := make([]string, 0, len(u.Failed))
	for name, err := range u.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return "vfs: unmount failed for: " + strings.Join(parts, ", ")
}

// UnmountAll syncs and unmounts every mounted filesystem, dropping any
// swap markers. Unlike vfs_unmountall, failures are aggregated and
// returned to the caller rather than merely logged and skipped, and
// each filesystem's sync+unmount runs concurrently via errgroup rather
// than one after another: distinct devices share nothing but the
// result map, which each goroutine touches only under resultMu.
func (r *Registry) UnmountAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &UnmountAllResult{Failed: map[string]error{}}
	var resultMu sync.Mutex
	var g errgroup.Group
	for _, kd := range r.devices {
		if kd.rawName == "" || kd.fs == nil {
			continue
		}
		if kd.fs == swapFS {
			kd.fs = nil
			continue
		}
		kd := kd
		g.Go(func() error {
			if err := kd.fs.Sync(); err != nil {
				resultMu.Lock()
				result.Failed[kd.name] = fmt.Errorf("sync: %w", err)
				resultMu.Unlock()
				return nil
			}
			if err := kd.fs.Unmount(); err != nil {
				resultMu.Lock()
				result.Failed[kd.name] = fmt.Errorf("unmount: %w", err)
				resultMu.Unlock()
				return nil
			}
			kd.fs = nil
			return nil
		})
	}
	_ = g.Wait()

	if len(result.Failed) == 0 {
		return nil
	}
	return result
}

// Swapon marks devName as a swap device, returning its device vnode.
func (r *Registry) Swapon(devName string) (*vnode.Vnode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kd := r.find(devName)
	if kd == nil || kd.rawName == "" {
		return nil, kerrno.ENODEV
	}
	if kd.fs != nil {
		return nil, kerrno.EBUSY
	}
	kd.fs = swapFS
	return kd.device, nil
}

// Swapoff unmarks devName as a swap device.
func (r *Registry) Swapoff(devName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kd := r.find(devName)
	if kd == nil || kd.fs != swapFS {
		return kerrno.ENODEV
	}
	kd.fs = nil
	return nil
}

// GetRoot returns (a new reference to) the root vnode for the named
// device or filesystem. A mountable device's raw name ("nameraw") always
// yields the device vnode itself, mounted or not. Otherwise it is the
// mounted/hardwired filesystem's root if there is one, ENXIO for a
// mountable device with nothing mounted, or the device vnode itself for a
// non-mountable device (e.g. a console).
func (r *Registry) GetRoot(name string) (*vnode.Vnode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kd := r.find(name)
	if kd == nil {
		return nil, kerrno.ENODEV
	}
	if kd.rawName != "" && kd.rawName == name {
		if kd.device == nil {
			return nil, kerrno.ENODEV
		}
		kd.device.IncRef()
		return kd.device, nil
	}
	if kd.fs != nil {
		if kd.fs == swapFS {
			return nil, kerrno.ENODEV
		}
		return kd.fs.GetRoot()
	}
	if kd.rawName != "" && kd.name == name {
		// Mountable but nothing is mounted.
		return nil, kerrno.ENXIO
	}
	if kd.device == nil {
		return nil, kerrno.ENODEV
	}
	kd.device.IncRef()
	return kd.device, nil
}

// GetDevName returns the device name a mounted filesystem sits on.
func (r *Registry) GetDevName(fs vnode.FileSystem) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, kd := range r.devices {
		if kd.fs == fs {
			return kd.name, true
		}
	}
	return "", false
}

// Sync forces every mounted filesystem to flush dirty buffers,
// fanning the calls out across filesystems via errgroup and returning
// the first error encountered, if any.
func (r *Registry) Sync() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var mu sync.Mutex
	var firstErr error
	var g errgroup.Group
	for _, kd := range r.devices {
		if kd.fs == nil || kd.fs == swapFS {
			continue
		}
		fs := kd.fs
		g.Go(func() error {
			if err := fs.Sync(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return firstErr
}

// SetBootFS designates the named device/filesystem as the target of
// absolute ("/...") paths, taking a new reference to its root vnode.
// Any previously set boot filesystem is released.
func (r *Registry) SetBootFS(fsName string) error {
	root, err := r.GetRoot(fsName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.bootFS
	r.bootFS = root
	r.mu.Unlock()

	if old != nil {
		_ = old.DecRef()
	}
	return nil
}

// ClearBootFS releases the boot filesystem, so that absolute paths
// once again fail with kerrno.ENOENT. Called during shutdown so the
// boot device can be unmounted.
func (r *Registry) ClearBootFS() {
	r.mu.Lock()
	old := r.bootFS
	r.bootFS = nil
	r.mu.Unlock()

	if old != nil {
		_ = old.DecRef()
	}
}
