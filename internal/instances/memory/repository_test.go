package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/testutil"
)

func TestRepository_Contract(t *testing.T) {
	testutil.RunRepositoryContract(t, func(t *testing.T) domain.InstanceRepository {
		return New()
	})
}

func TestRepository_ReturnsCopies(t *testing.T) {
	repo := New()
	testutil.NewBuilder(t, repo).WithInstance("inst-1").Build()

	got, err := repo.Get(context.Background(), domain.DefaultNamespace, "inst-1")
	require.NoError(t, err)
	got.State = "COMPLETED"
	got.Tasks["summary"] = domain.TaskRecord{Scheduled: true}

	again, err := repo.Get(context.Background(), domain.DefaultNamespace, "inst-1")
	require.NoError(t, err)
	require.Equal(t, "AWAITING_SIGNAL", again.State)
	require.Empty(t, again.Tasks)
}
