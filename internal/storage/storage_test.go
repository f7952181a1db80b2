package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	logx "sflnotify/pkg/logx"
)

func openTestStore(t *testing.T, driver, name string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), name)}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	if st == nil {
		t.Fatalf("Open(%s) returned nil store", driver)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var drivers = []struct {
	driver string
	file   string
}{
	{"file", "store.json"},
	{"sqlite", "store.db"},
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", "off", "disabled"} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestDeliveries(t *testing.T) {
	t.Parallel()
	for _, tc := range drivers {
		tc := tc
		t.Run(tc.driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, tc.driver, tc.file)

			base := time.UnixMilli(1_700_000_000_000)
			in := []Delivery{
				{ID: "a", NotificationID: 1, Category: "production", Item: "Sunflower", Status: StatusDelivered, At: base},
				{ID: "b", NotificationID: 2, Category: "cooking", Item: "Kitchen", Status: StatusSuppressed, At: base.Add(time.Minute)},
				{ID: "c", NotificationID: 3, Category: "auction", Item: "Pet Bed", Status: StatusFailed, Error: "boom", Attempts: 3, At: base.Add(2 * time.Minute)},
			}
			for _, d := range in {
				if err := st.AppendDelivery(ctx, d); err != nil {
					t.Fatalf("AppendDelivery: %v", err)
				}
			}

			got, err := st.RecentDeliveries(ctx, 2)
			if err != nil {
				t.Fatalf("RecentDeliveries: %v", err)
			}
			want := []Delivery{in[2], in[1]}
			if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
				t.Fatalf("RecentDeliveries mismatch (-want +got):\n%s", diff)
			}

			n, err := st.PruneDeliveries(ctx, base.Add(90*time.Second))
			if err != nil {
				t.Fatalf("PruneDeliveries: %v", err)
			}
			if n != 2 {
				t.Fatalf("pruned %d, want 2", n)
			}
			got, err = st.RecentDeliveries(ctx, 0)
			if err != nil {
				t.Fatalf("RecentDeliveries: %v", err)
			}
			if len(got) != 1 || got[0].ID != "c" {
				t.Fatalf("after prune: %+v", got)
			}

			// Appends still work after a prune rewrote the file.
			if err := st.AppendDelivery(ctx, Delivery{ID: "d", Status: StatusDelivered}); err != nil {
				t.Fatalf("AppendDelivery after prune: %v", err)
			}
			if got, _ := st.RecentDeliveries(ctx, 0); len(got) != 2 || got[0].ID != "d" {
				t.Fatalf("after append: %+v", got)
			}
		})
	}
}

func TestDedup(t *testing.T) {
	t.Parallel()
	for _, tc := range drivers {
		tc := tc
		t.Run(tc.driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, tc.driver, tc.file)

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "k1", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "k1")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("GetDedup = %v, %v, %v; want %v", got, ok, err, until)
			}
			if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
				t.Fatal("unexpected hit for missing key")
			}
			if err := st.PutDedup(ctx, "  ", until); err != nil {
				t.Fatalf("blank key should be ignored: %v", err)
			}
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	until := time.Now().Add(time.Hour)
	_ = st.PutDedup(ctx, "live", until)
	_ = st.PutDedup(ctx, "expired", time.Now().Add(-time.Hour))
	_ = st.AppendDelivery(ctx, Delivery{ID: "a", Status: StatusDelivered})
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if _, ok, _ := st.GetDedup(ctx, "live"); !ok {
		t.Fatal("live dedup key lost on reopen")
	}
	if _, ok, _ := st.GetDedup(ctx, "expired"); ok {
		t.Fatal("expired dedup key should be dropped on reopen")
	}
	if got, _ := st.RecentDeliveries(ctx, 0); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("deliveries after reopen: %+v", got)
	}
}
