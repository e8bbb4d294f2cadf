package token

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/testutil"
)

func codesN(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("A%03d", i))
	}
	return out
}

func TestReserveMarksTokensUnavailable(t *testing.T) {
	conns := testutil.NewTestDB(t)
	testutil.InsertTokens(t, conns, codesN(5)...)
	repo := NewRepository(conns)
	ctx := context.Background()

	var reserved []string
	err := conns.WithTx(ctx, func(ctx context.Context) error {
		var err error
		reserved, err = repo.Reserve(ctx, "ORD-1", 3)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, reserved, 3)

	available, err := repo.CountAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, available)

	owned, err := repo.ListByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, owned, 3)
	for _, tok := range owned {
		assert.False(t, tok.Available)
		assert.Contains(t, reserved, tok.Code)
	}
}

func TestReserveIsAllOrNothing(t *testing.T) {
	conns := testutil.NewTestDB(t)
	testutil.InsertTokens(t, conns, codesN(5)...)
	repo := NewRepository(conns)
	ctx := context.Background()

	err := conns.WithTx(ctx, func(ctx context.Context) error {
		_, err := repo.Reserve(ctx, "ORD-1", 10)
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientInventory)

	available, err := repo.CountAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

var firstReservedCode = regexp.MustCompile(`code IN \('([^']+)'`)

// claimOneBeforeUpdate marks one of the picked tokens unavailable between the pick and the guarded
// update, the way a concurrent reservation committing first would.
func claimOneBeforeUpdate(t *testing.T, conns *database.Connections, times int) *testutil.Interceptor {
	return testutil.Intercept(t, conns, times,
		func(q string) bool {
			return strings.HasPrefix(q, `UPDATE "tokens"`) && !strings.Contains(q, "order_reference = NULL")
		},
		func(ctx context.Context, tx *sql.Tx, q string) error {
			m := firstReservedCode.FindStringSubmatch(q)
			if m == nil {
				return fmt.Errorf("no token code in %q", q)
			}
			_, err := tx.ExecContext(ctx, "UPDATE tokens SET available = 0, order_reference = 'ORD-OTHER' WHERE code = ?", m[1])
			return err
		})
}

func TestReserveDetectsConcurrentClaim(t *testing.T) {
	conns := testutil.NewTestDB(t)
	testutil.InsertTokens(t, conns, codesN(5)...)
	repo := NewRepository(conns)
	ctx := context.Background()
	hook := claimOneBeforeUpdate(t, conns, 1)

	err := conns.WithTx(ctx, func(ctx context.Context) error {
		_, err := repo.Reserve(ctx, "ORD-1", 3)
		return err
	})
	require.ErrorIs(t, err, ErrReservationConflict)
	assert.Equal(t, 1, hook.Hits())

	available, err := repo.CountAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, available)
	owned, err := repo.ListByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestShortPickClassification(t *testing.T) {
	conns := testutil.NewTestDB(t)
	testutil.InsertTokens(t, conns, codesN(3)...)
	ctx := context.Background()

	// Enough tokens exist, so a short pick means locked rows were skipped.
	require.ErrorIs(t, shortfall(ctx, conns.Writer, 2), ErrReservationConflict)
	require.ErrorIs(t, shortfall(ctx, conns.Writer, 3), ErrReservationConflict)
	require.ErrorIs(t, shortfall(ctx, conns.Writer, 4), ErrInsufficientInventory)
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	conns := testutil.NewTestDB(t)
	repo := NewRepository(conns)

	_, err := repo.Reserve(context.Background(), "ORD-1", 0)
	require.Error(t, err)
}

func TestConcurrentReservationsNeverOverlap(t *testing.T) {
	conns := testutil.NewTestDB(t)
	testutil.InsertTokens(t, conns, codesN(15)...)
	repo := NewRepository(conns)
	ctx := context.Background()

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		seen     = map[string]string{}
		failures int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := fmt.Sprintf("ORD-%d", i)
			var got []string
			err := conns.WithTx(ctx, func(ctx context.Context) error {
				var err error
				got, err = repo.Reserve(ctx, ref, 1)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientInventory)
				failures++
				return
			}
			for _, code := range got {
				owner, dup := seen[code]
				assert.False(t, dup, "token %s reserved by %s and %s", code, owner, ref)
				seen[code] = ref
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, seen, 15)
	assert.Equal(t, workers-15, failures)

	available, err := repo.CountAvailable(ctx)
	require.NoError(t, err)
	assert.Zero(t, available)
}

func TestReleaseIsGuardedByOwnerAndIdempotent(t *testing.T) {
	conns := testutil.NewTestDB(t)
	testutil.InsertTokens(t, conns, "A001", "A002", "B001")
	testutil.AssignTokens(t, conns, "ORD-1", "A001", "A002")
	testutil.AssignTokens(t, conns, "ORD-2", "B001")
	repo := NewRepository(conns)
	ctx := context.Background()

	released, err := repo.Release(ctx, "ORD-1", []string{"A001", "A002", "B001"})
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	released, err = repo.Release(ctx, "ORD-1", []string{"A001", "A002"})
	require.NoError(t, err)
	assert.Zero(t, released)

	owned, err := repo.ListByOrder(ctx, "ORD-2")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.False(t, owned[0].Available)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Available: 2, Reserved: 1}, stats)
}

func TestReleaseWithoutCodesReleasesAllOwned(t *testing.T) {
	conns := testutil.NewTestDB(t)
	testutil.InsertTokens(t, conns, "A001", "A002")
	testutil.AssignTokens(t, conns, "ORD-1", "A001", "A002")
	repo := NewRepository(conns)

	released, err := repo.Release(context.Background(), "ORD-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	_, err = repo.Release(context.Background(), "", nil)
	require.Error(t, err)
}

func TestImportSkipsDuplicates(t *testing.T) {
	conns := testutil.NewTestDB(t)
	repo := NewRepository(conns)
	ctx := context.Background()

	added, err := repo.Import(ctx, []string{"A001", "A002"})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = repo.Import(ctx, []string{"A002", "A003"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Available)
}

func TestCountAvailableReadsInsideTransaction(t *testing.T) {
	conns := testutil.NewTestDB(t)
	testutil.InsertTokens(t, conns, codesN(4)...)
	repo := NewRepository(conns)

	err := conns.WithTx(context.Background(), func(ctx context.Context) error {
		require.NotNil(t, database.TxFromContext(ctx))
		if _, err := repo.Reserve(ctx, "ORD-1", 1); err != nil {
			return err
		}
		count, err := repo.CountAvailable(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		return nil
	})
	require.NoError(t, err)
}
