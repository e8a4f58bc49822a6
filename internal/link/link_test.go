package link

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNewSimpleLinkDefaults(t *testing.T) {
	l, err := New(Options{
		SourceNamespace: "foo",
		SourceType:      "Foo",
		SourceField:     "bar",
		TargetNamespace: "bar",
		TargetType:      "Bar",
		Simple:          true,
	})
	require.NoError(t, err)
	require.Equal(t, "bar", l.NewFieldName())
	require.Equal(t, "bar", l.TopLevelQueryField())

	arg, ok := l.SimpleArgument()
	require.True(t, ok)
	want := Argument{SourceName: "bar", QueryArgumentName: "id", Source: ObjectField}
	if diff := cmp.Diff(want, arg); diff != "" {
		t.Fatalf("simple argument mismatch (-want +got):\n%s", diff)
	}
	require.False(t, l.IsFieldMatchingArgument("id"))
}

func TestNewSimpleLinkRejectsInvalidArguments(t *testing.T) {
	base := Options{
		SourceNamespace: "foo",
		SourceType:      "Foo",
		NewFieldName:    "bar",
		TargetNamespace: "bar",
		TargetType:      "Bar",
		Simple:          true,
	}

	two := base
	two.Arguments = []Argument{{SourceName: "a"}, {SourceName: "b"}}
	_, err := New(two)
	require.ErrorIs(t, err, ErrSimpleLinkArity)
	require.EqualError(t, err, "Simple link requires exactly one LinkArgument.")

	fromArg := base
	fromArg.Arguments = []Argument{{SourceName: "a", Source: FieldArgument}}
	_, err = New(fromArg)
	require.ErrorIs(t, err, ErrSimpleLinkSource)
}

func TestComplexLinkMatchingArguments(t *testing.T) {
	l, err := New(Options{
		SourceNamespace:    "foo",
		SourceType:         "Foo",
		NewFieldName:       "bar",
		TargetNamespace:    "bar",
		TargetType:         "Bar",
		TopLevelQueryField: "barByKeys",
		Arguments: []Argument{
			{SourceName: "k1", QueryArgumentName: "key1", TargetFieldMatchingArgument: "key1"},
			{SourceName: "limit", Source: FieldArgument},
		},
	})
	require.NoError(t, err)
	require.False(t, l.IsSimple())
	require.True(t, l.IsFieldMatchingArgument("key1"))
	require.False(t, l.IsFieldMatchingArgument("limit"))

	args := l.Arguments()
	require.Equal(t, "limit", args[1].QueryArgumentName)
	args[0].SourceName = "mutated"
	require.Equal(t, "k1", l.Arguments()[0].SourceName)
}

func TestParseArgumentSource(t *testing.T) {
	for in, want := range map[string]ArgumentSource{
		"":               ObjectField,
		"object_field":   ObjectField,
		"FIELD_ARGUMENT": FieldArgument,
		"CONTEXT":        Context,
	} {
		got, err := ParseArgumentSource(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseArgumentSource("header")
	require.Error(t, err)
}

func TestTypeRenames(t *testing.T) {
	rs := TypeRenames{{BraidName: "FooUser", SourceName: "User"}}
	require.Equal(t, "User", rs.ToSource("FooUser"))
	require.Equal(t, "FooUser", rs.ToBraid("User"))
	require.Equal(t, "Other", rs.ToSource("Other"))
}

func TestExtensionValidate(t *testing.T) {
	ext := Extension{Type: "Foo", On: "id", By: By{Namespace: "bar", Type: "FooExt", Query: "fooExt", Arg: "id"}}
	require.NoError(t, ext.Validate())
	ext.By.Arg = ""
	require.Error(t, ext.Validate())
}
