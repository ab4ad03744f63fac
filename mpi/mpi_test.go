package mpi

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pomerol-ed/pomerol-sub001/metrics"
)

func TestMatching(t *testing.T) {
	t.Parallel()
	err := Run(context.Background(), 2, func(ctx context.Context, comm *Comm) error {
		if comm.Rank() == 1 {
			for i, tag := range []int{3, 5, 3} {
				if err := comm.Send(0, tag, []byte{byte(i)}); err != nil {
					return err
				}
			}
			return nil
		}

		five, err := comm.Recv(ctx, 1, 5)
		if err != nil {
			return err
		}
		if five.Data[0] != 1 {
			return errors.Errorf("%v", five)
		}
		for _, want := range []byte{0, 2} {
			m, err := comm.Recv(ctx, AnySource, AnyTag)
			if err != nil {
				return err
			}
			if m.Source != 1 || m.Tag != 3 || m.Data[0] != want {
				return errors.Errorf("%v, expected %d", m, want)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestPostedOrder(t *testing.T) {
	t.Parallel()
	err := Run(context.Background(), 1, func(ctx context.Context, comm *Comm) error {
		first := comm.Irecv(0, AnyTag)
		second := comm.Irecv(0, TagPending)
		if err := comm.Send(0, TagPending, []byte{1}); err != nil {
			return err
		}
		if !first.Test() || second.Test() {
			return errors.Errorf("%v %v", first.Test(), second.Test())
		}
		if !second.Cancel() || second.Test() {
			return errors.Errorf("cancel failed")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCollectives(t *testing.T) {
	t.Parallel()
	const size = 4
	results := make([][]complex128, size)
	bcasts := make([][]int, size)
	err := Run(context.Background(), size, func(ctx context.Context, comm *Comm) error {
		r := float64(comm.Rank())
		sum, err := comm.AllreduceComplex128s(ctx, []complex128{complex(r, 0), complex(0, 2*r)})
		if err != nil {
			return err
		}
		results[comm.Rank()] = sum
		if err := comm.Barrier(ctx); err != nil {
			return err
		}
		var x []int
		if comm.Rank() == 2 {
			x = []int{7, -1}
		}
		bcasts[comm.Rank()], err = comm.BcastInts(ctx, 2, x)
		return err
	})
	require.NoError(t, err)
	for r := range size {
		require.Equal(t, []complex128{6, 12i}, results[r])
		require.Equal(t, []int{7, -1}, bcasts[r])
	}
}

func TestAbort(t *testing.T) {
	t.Parallel()
	failure := errors.New("failure")
	err := Run(context.Background(), 3, func(ctx context.Context, comm *Comm) error {
		if comm.Rank() == 2 {
			return failure
		}
		_, err := comm.Recv(ctx, 2, 0)
		return err
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, failure) || errors.Is(err, ErrAborted), "%+v", err)
}

func TestSkel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		size    int
		numJobs int
	}{
		{size: 1, numJobs: 10},
		{size: 2, numJobs: 0},
		{size: 3, numJobs: 50},
		{size: 5, numJobs: 37},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d", test.size, test.numJobs), func(t *testing.T) {
			t.Parallel()
			m := metrics.New()
			completed := make([][]int, test.size)
			jobRanks := make([][]int, test.size)
			err := Run(context.Background(), test.size, func(ctx context.Context, comm *Comm) error {
				rnd := rand.New(rand.NewSource(int64(comm.Rank())))
				jobs := make([]Job, test.numJobs)
				for i := range jobs {
					jobs[i] = Job{Complexity: i % 7, Run: func() error {
						time.Sleep(time.Duration(rnd.Intn(200)) * time.Microsecond)
						completed[comm.Rank()] = append(completed[comm.Rank()], i)
						return nil
					}}
				}
				ranks, err := Skel(ctx, comm, jobs, WithMetrics(m), WithName("job"))
				jobRanks[comm.Rank()] = ranks
				return err
			})
			require.NoError(t, err)

			var all []int
			for r, done := range completed {
				all = append(all, done...)
				for _, job := range done {
					require.Equal(t, r, jobRanks[0][job])
				}
			}
			require.Len(t, all, test.numJobs)
			slices.Sort(all)
			for i, job := range all {
				require.Equal(t, i, job)
			}
			for r := range test.size {
				require.Equal(t, jobRanks[0], jobRanks[r])
			}
			require.Equal(t, float64(test.numJobs), testutil.ToFloat64(m.TasksDispatched))
		})
	}
}

func TestSkelJobError(t *testing.T) {
	t.Parallel()
	failure := errors.New("failure")
	err := Run(context.Background(), 3, func(ctx context.Context, comm *Comm) error {
		jobs := make([]Job, 20)
		for i := range jobs {
			jobs[i] = Job{Run: func() error {
				if i == 13 {
					return failure
				}
				return nil
			}}
		}
		_, err := Skel(ctx, comm, jobs)
		return err
	})
	require.Error(t, err)
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	os.Exit(m.Run())
}
