package notification

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// testOffer はテスト用の通知候補を返す。
func testOffer(referenceID string) Offer {
	return Offer{
		OwnerID:     "user-1",
		Category:    CategoryAssignmentDue,
		ReferenceID: referenceID,
		CourseID:    "course-1",
		Title:       "課題の締切が近づいています",
		Body:        "明日の23:59が締切です",
	}
}

// countOutcomes は同じ候補を並行してn回提出し、作成とスキップの件数を返す。
func countOutcomes(t *testing.T, gates []*Gate, n int, o Offer) (created, skipped int64) {
	t.Helper()

	var c, s atomic.Int64
	g, ctx := errgroup.WithContext(t.Context())
	for i := range n {
		gate := gates[i%len(gates)]
		g.Go(func() error {
			result, err := gate.Offer(ctx, o)
			if err != nil {
				return err
			}
			switch result.Outcome {
			case OutcomeCreated:
				c.Add(1)
			case OutcomeSkipped:
				s.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Offer()でエラーが発生: %v", err)
	}
	return c.Load(), s.Load()
}

func TestGate_Offer(t *testing.T) {
	t.Parallel()

	t.Run("初回は作成され2回目はスキップされること", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)
		gate := NewGate(s)

		first, err := gate.Offer(t.Context(), testOffer("assignment-1"))
		if err != nil {
			t.Fatalf("Offer()でエラーが発生: %v", err)
		}
		if first.Outcome != OutcomeCreated || first.Notification == nil {
			t.Fatalf("1回目: %+v, want created", first)
		}
		if first.Notification.ReferenceID != "assignment-1" {
			t.Errorf("ReferenceID = %q", first.Notification.ReferenceID)
		}

		second, err := gate.Offer(t.Context(), testOffer("assignment-1"))
		if err != nil {
			t.Fatalf("Offer()でエラーが発生: %v", err)
		}
		if second.Outcome != OutcomeSkipped || second.Notification != nil {
			t.Errorf("2回目: %+v, want skipped", second)
		}
	})

	t.Run("同時に提出しても作成されるのは1件だけであること", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)

		created, skipped := countOutcomes(t, []*Gate{NewGate(s)}, 2, testOffer("assignment-1"))
		if created != 1 || skipped != 1 {
			t.Errorf("created=%d, skipped=%d, want 1, 1", created, skipped)
		}

		page, err := s.List(t.Context(), "user-1", Filter{}, 1, 10)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if page.TotalCount != 1 {
			t.Errorf("TotalCount = %d, want 1", page.TotalCount)
		}
	})

	t.Run("同じデータベースを共有する複数インスタンスでも作成されるのは1件だけであること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "notification.db")
		var gates []*Gate
		for range 2 {
			db, err := OpenDB(t.Context(), path, zap.NewNop())
			if err != nil {
				t.Fatalf("OpenDB()でエラーが発生: %v", err)
			}
			t.Cleanup(func() { db.Close() })
			gates = append(gates, NewGate(NewStore(db)))
		}

		created, skipped := countOutcomes(t, gates, 8, testOffer("assignment-1"))
		if created != 1 || skipped != 7 {
			t.Errorf("created=%d, skipped=%d, want 1, 7", created, skipped)
		}
	})

	t.Run("既読の通知が残っている間もスキップされ削除後は再作成されること", func(t *testing.T) {
		t.Parallel()
		s, clock := newTestStore(t)
		gate := NewGate(s)

		clock.Set(baseTime.Add(-100 * 24 * time.Hour))
		first, err := gate.Offer(t.Context(), testOffer("assignment-1"))
		if err != nil {
			t.Fatalf("Offer()でエラーが発生: %v", err)
		}
		if _, err := s.MarkRead(t.Context(), first.Notification.ID, "user-1"); err != nil {
			t.Fatalf("MarkRead()でエラーが発生: %v", err)
		}
		clock.Set(baseTime)

		skipped, err := gate.Offer(t.Context(), testOffer("assignment-1"))
		if err != nil {
			t.Fatalf("Offer()でエラーが発生: %v", err)
		}
		if skipped.Outcome != OutcomeSkipped {
			t.Errorf("既読が残っている間: %q, want skipped", skipped.Outcome)
		}

		if _, err := s.Cleanup(t.Context(), "user-1", 90); err != nil {
			t.Fatalf("Cleanup()でエラーが発生: %v", err)
		}
		recreated, err := gate.Offer(t.Context(), testOffer("assignment-1"))
		if err != nil {
			t.Fatalf("Offer()でエラーが発生: %v", err)
		}
		if recreated.Outcome != OutcomeCreated {
			t.Errorf("削除後: %q, want created", recreated.Outcome)
		}
	})

	t.Run("カテゴリや所有者が異なれば別の通知として作成されること", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)
		gate := NewGate(s)

		base := testOffer("assignment-1")
		otherCategory := base
		otherCategory.Category = CategoryGradingComplete
		otherOwner := base
		otherOwner.OwnerID = "user-2"

		for _, o := range []Offer{base, otherCategory, otherOwner} {
			result, err := gate.Offer(t.Context(), o)
			if err != nil {
				t.Fatalf("Offer()でエラーが発生: %v", err)
			}
			if result.Outcome != OutcomeCreated {
				t.Errorf("%+v: %q, want created", o, result.Outcome)
			}
		}
	})

	t.Run("参照IDが無い候補はErrInvalidArgumentを返すこと", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)

		if _, err := NewGate(s).Offer(t.Context(), testOffer(" ")); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestDedupKey(t *testing.T) {
	t.Parallel()

	// 区切り文字を含む値でも別のキーになること。
	a := dedupKey("a/b", "c", "d")
	b := dedupKey("a", "b/c", "d")
	if a == b {
		t.Errorf("キーが衝突した: %q", a)
	}
}
