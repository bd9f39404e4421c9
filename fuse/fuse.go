//go:build linux
// +build linux

// Package fuse exposes a mounted FAT32 volume as a bazil.org/fuse file
// system, adapting each VirtualFile operation onto the corresponding fs.Node
// method (spec.md §4.6 domain stack, "FUSE front-end").
package fuse

import (
	"context"
	stderrors "errors"
	"os"
	"sort"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/kernelfs/fat32/errors"
	"github.com/kernelfs/fat32/fat32"
)

// FS wraps a mounted Manager as a bazil.org/fuse file system.
type FS struct {
	mgr *fat32.Manager
}

// New builds a FUSE file system over an already-mounted volume.
func New(mgr *fat32.Manager) *FS {
	return &FS{mgr: mgr}
}

func (f *FS) Root() (fs.Node, error) {
	root, err := f.mgr.OpenRoot()
	if err != nil {
		return nil, err
	}
	return &Dir{vf: root}, nil
}

// Dir adapts a directory VirtualFile to fs.Node/fs.HandleReadDirAller plus
// the mutating Node interfaces (Create, Mkdir, Remove).
type Dir struct {
	vf *fat32.VirtualFile
}

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	stat := d.vf.Stat()
	a.Mode = os.ModeDir | 0755
	a.Size = uint64(stat.Size)
	a.Mtime = stat.ModifiedAt
	a.Ctime = stat.CreatedAt
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child, err := d.vf.OpenPath(name)
	if err != nil {
		return nil, toFuseError(err)
	}
	return nodeFor(child), nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.vf.Ls()
	if err != nil {
		return nil, toFuseError(err)
	}

	out := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		typ := fuse.DT_File
		if e.Attribute&fat32.AttrDirectory != 0 {
			typ = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{Name: e.Name, Type: typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	child, err := d.vf.Create(req.Name, 0)
	if err != nil {
		return nil, nil, toFuseError(err)
	}
	f := &File{vf: child}
	return f, f, nil
}

func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	child, err := d.vf.Create(req.Name, fat32.AttrDirectory)
	if err != nil {
		return nil, toFuseError(err)
	}
	return &Dir{vf: child}, nil
}

func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	child, err := d.vf.OpenPath(req.Name)
	if err != nil {
		return toFuseError(err)
	}
	return toFuseError(child.Remove())
}

// File adapts a regular-file VirtualFile to fs.Node/fs.Handle{Reader,Writer}.
type File struct {
	vf *fat32.VirtualFile
}

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	stat := f.vf.Stat()
	a.Mode = 0644
	a.Size = uint64(stat.Size)
	a.Mtime = stat.ModifiedAt
	a.Ctime = stat.CreatedAt
	return nil
}

func (f *File) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := f.vf.ReadAt(req.Offset, buf)
	if err != nil {
		return toFuseError(err)
	}
	resp.Data = buf[:n]
	return nil
}

func (f *File) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	needed := uint32(req.Offset) + uint32(len(req.Data))
	if needed > f.vf.Stat().Size {
		if err := f.vf.GrowTo(needed); err != nil {
			return toFuseError(err)
		}
	}
	n, err := f.vf.WriteAt(req.Offset, req.Data)
	if err != nil {
		return toFuseError(err)
	}
	resp.Size = n
	return nil
}

func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() && req.Size == 0 {
		return toFuseError(f.vf.Clear())
	}
	return nil
}

func nodeFor(vf *fat32.VirtualFile) fs.Node {
	if vf.IsDir() {
		return &Dir{vf: vf}
	}
	return &File{vf: vf}
}

// toFuseError maps this driver's sentinel errors onto the errno values
// bazil.org/fuse expects a Node method to return.
func toFuseError(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, errors.ErrNotFound):
		return fuse.ENOENT
	case stderrors.Is(err, errors.ErrNotADirectory):
		return fuse.Errno(syscall.ENOTDIR)
	case stderrors.Is(err, errors.ErrIsADirectory):
		return fuse.Errno(syscall.EISDIR)
	case stderrors.Is(err, errors.ErrNotEmpty):
		return fuse.Errno(syscall.ENOTEMPTY)
	case stderrors.Is(err, errors.ErrExists):
		return fuse.EEXIST
	case stderrors.Is(err, errors.ErrNoSpace):
		return fuse.Errno(syscall.ENOSPC)
	default:
		return err
	}
}
