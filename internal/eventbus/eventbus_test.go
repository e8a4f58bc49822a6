package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type started struct{ name string }
type stopped struct{ name string }

func TestBusDispatchesByType(t *testing.T) {
	b := New()
	var got []string
	On(b, func(_ context.Context, e started) { got = append(got, "a:"+e.name) })
	On(b, func(_ context.Context, e started) { got = append(got, "b:"+e.name) })
	On(b, func(_ context.Context, e stopped) { got = append(got, "stop:"+e.name) })

	b.emit(context.Background(), started{name: "x"})
	b.emit(context.Background(), stopped{name: "y"})
	require.Equal(t, []string{"a:x", "b:x", "stop:y"}, got)
}

func TestUnsubscribeRemovesOnlyItsHandler(t *testing.T) {
	b := New()
	var got []string
	first := On(b, func(_ context.Context, e started) { got = append(got, "first") })
	On(b, func(_ context.Context, e started) { got = append(got, "second") })

	first()
	first()
	b.emit(context.Background(), started{})
	require.Equal(t, []string{"second"}, got)
}

func TestGlobalBus(t *testing.T) {
	Use(nil)
	unsubscribe := Subscribe(func(context.Context, started) { t.Fatal("no bus installed") })
	unsubscribe()
	Publish(context.Background(), started{})

	b := New()
	Use(b)
	defer Use(nil)
	var n int
	Subscribe(func(context.Context, started) { n++ })
	Publish(context.Background(), started{})
	require.Equal(t, 1, n)
}
