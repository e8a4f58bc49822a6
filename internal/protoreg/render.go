package protoreg

import (
	"io"
	"os"
	"path/filepath"

	"github.com/jhump/protoreflect/v2/protoprint"
)

// Render prints the contract as a .proto file.
func Render(r *Registry, w io.Writer) error {
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(r.File(), w)
}

// RenderDir writes the contract under outDir at its package path.
func RenderDir(r *Registry, outDir string) error {
	fp := filepath.Join(outDir, r.File().Path())
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return err
	}
	f, err := os.Create(fp)
	if err != nil {
		return err
	}
	if err := Render(r, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
