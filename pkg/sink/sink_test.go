package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/grailbio/base/retry"
	"github.com/stretchr/testify/require"
)

// useFastRetryPolicy swaps the package's real backoff for a near-zero one
// for the duration of a test, the same trick
// exec/bigmachine_test.go's TestReadRetries uses to avoid real sleeps.
func useFastRetryPolicy(t *testing.T) {
	t.Helper()
	orig := retryPolicy
	retryPolicy = retry.Backoff(time.Nanosecond, time.Second, 2)
	t.Cleanup(func() { retryPolicy = orig })
}

// recordingSink fails its first failuresRemaining calls to each method,
// then succeeds, recording every attempt.
type recordingSink struct {
	failuresRemaining int

	opens, writes, closes int
}

func (s *recordingSink) fail() bool {
	if s.failuresRemaining > 0 {
		s.failuresRemaining--
		return true
	}
	return false
}

func (s *recordingSink) Open(ctx context.Context, diskID, partitionID, chunkID uint64) error {
	s.opens++
	if s.fail() {
		return errors.New("transient open failure")
	}
	return nil
}

func (s *recordingSink) Write(ctx context.Context, buf *buffer.Buffer) (uint64, error) {
	s.writes++
	if s.fail() {
		return 0, errors.New("transient write failure")
	}
	return uint64(buf.Size()), nil
}

func (s *recordingSink) Close(ctx context.Context) error {
	s.closes++
	if s.fail() {
		return errors.New("transient close failure")
	}
	return nil
}

func TestRetryingWriterSinkRetriesTransientFailure(t *testing.T) {
	useFastRetryPolicy(t)
	inner := &recordingSink{failuresRemaining: 1}
	sink := RetryingWriterSink{Sink: inner}

	require.NoError(t, sink.Open(context.Background(), 0, 1, 2))
	require.Equal(t, 2, inner.opens, "Open must be retried once after a transient failure")
}

func TestRetryingWriterSinkWritePropagatesBytesWritten(t *testing.T) {
	inner := &recordingSink{}
	sink := RetryingWriterSink{Sink: inner}

	buf := buffer.New(4096, buffer.Framed)
	require.NoError(t, buf.Append([]byte("k"), []byte("v")))

	n, err := sink.Write(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, uint64(buf.Size()), n)
	require.Equal(t, 1, inner.writes)
}

func TestRetryingWriterSinkSurfacesErrorWhenContextDone(t *testing.T) {
	inner := &recordingSink{failuresRemaining: 1000}
	sink := RetryingWriterSink{Sink: inner}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Close(ctx)
	require.Error(t, err, "a cancelled context must stop retrying and surface the last failure")
}

type recordingCoordinatorClient struct {
	jobID              job.ID
	bytesIn, bytesMapped uint64
}

func (c *recordingCoordinatorClient) UploadSampleStatistics(ctx context.Context, jobID job.ID, bytesIn, bytesMapped uint64) error {
	c.jobID = jobID
	c.bytesIn = bytesIn
	c.bytesMapped = bytesMapped
	return nil
}

// blockingSink blocks inside Write until release is closed, so tests can
// observe how many writes a LimitedWriterSink lets through concurrently.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) Open(ctx context.Context, diskID, partitionID, chunkID uint64) error {
	return nil
}

func (s *blockingSink) Write(ctx context.Context, buf *buffer.Buffer) (uint64, error) {
	s.entered <- struct{}{}
	<-s.release
	return uint64(buf.Size()), nil
}

func (s *blockingSink) Close(ctx context.Context) error { return nil }

func TestLimitedWriterSinkBoundsConcurrentWrites(t *testing.T) {
	inner := &blockingSink{entered: make(chan struct{}, 3), release: make(chan struct{})}
	sink := LimitedWriterSink{Sink: inner, Limiter: NewLimiter(1)}

	buf := buffer.New(64, buffer.Framed)

	done := make(chan struct{})
	go func() {
		_, _ = sink.Write(context.Background(), buf)
		done <- struct{}{}
	}()
	go func() {
		_, _ = sink.Write(context.Background(), buf)
		done <- struct{}{}
	}()

	<-inner.entered
	select {
	case <-inner.entered:
		t.Fatal("a second write entered before the limiter's single token was released")
	case <-time.After(20 * time.Millisecond):
	}

	close(inner.release)
	<-done
	<-done
}

func TestCoordinatorClientReceivesSampleStatistics(t *testing.T) {
	var client CoordinatorClient = &recordingCoordinatorClient{}

	require.NoError(t, client.UploadSampleStatistics(context.Background(), job.ID(7), 1024, 512))

	rec := client.(*recordingCoordinatorClient)
	require.Equal(t, job.ID(7), rec.jobID)
	require.Equal(t, uint64(1024), rec.bytesIn)
	require.Equal(t, uint64(512), rec.bytesMapped)
}
