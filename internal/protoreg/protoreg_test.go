package protoreg_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/hanpama/braid/internal/protoreg"
)

func TestBuildContract(t *testing.T) {
	reg, err := protoreg.Build()
	require.NoError(t, err)

	require.Equal(t, "/braid.v1.GraphQLService/Execute", reg.FullMethod())
	require.Equal(t, "braid/v1/braid.proto", reg.File().Path())

	in := reg.Execute().Input()
	require.Equal(t, protoreflect.FullName("braid.v1.ExecuteRequest"), in.FullName())
	for _, name := range []protoreflect.Name{"query", "operation_name", "variables_json"} {
		require.NotNil(t, in.Fields().ByName(name), name)
	}
	require.True(t, in.Fields().ByName("operation_name").HasPresence())

	out := reg.Execute().Output()
	errs := out.Fields().ByName("errors")
	require.NotNil(t, errs)
	require.True(t, errs.IsList())
	path := errs.Message().Fields().ByName("path")
	require.NotNil(t, path.Message().Oneofs().ByName("segment"))
}

func TestFieldNumbersAreStable(t *testing.T) {
	a, err := protoreg.Build()
	require.NoError(t, err)
	b, err := protoreg.Build(protoreg.WithPackage("acme.gateway.v2"), protoreg.WithService("backend"))
	require.NoError(t, err)

	require.Equal(t, "/acme.gateway.v2.BackendService/Execute", b.FullMethod())
	fa := a.Execute().Input().Fields()
	fb := b.Execute().Input().Fields()
	for i := 0; i < fa.Len(); i++ {
		require.Equal(t, fa.Get(i).Number(), fb.ByName(fa.Get(i).Name()).Number())
	}
}

func TestBuildRejectsEmptyNames(t *testing.T) {
	_, err := protoreg.Build(protoreg.WithPackage(""))
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	reg, err := protoreg.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, protoreg.Render(reg, &buf))
	out := buf.String()
	require.Contains(t, out, "package braid.v1;")
	require.Contains(t, out, "service GraphQLService")
	require.Contains(t, out, "rpc Execute")
	require.Contains(t, out, "message ExecuteResponse")
	require.Contains(t, out, "oneof segment")

	dir := t.TempDir()
	require.NoError(t, protoreg.RenderDir(reg, dir))
	written, err := os.ReadFile(filepath.Join(dir, "braid", "v1", "braid.proto"))
	require.NoError(t, err)
	require.Equal(t, out, string(written))
}
